package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/germanamz/agentloop/pkg/agent"
	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/engine"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
)

func newEngine(ctx context.Context, configPath string) (*engine.Engine, error) {
	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	return engine.New(ctx, cfg)
}

// run answers the prompt in args, or starts the interactive loop when args
// is empty. With continueID every exchange builds on the previous session.
func run(configPath, continueID string, args []string, verbose bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := newEngine(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	initMarkdownRenderer(100)

	if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
		out, err := send(ctx, eng, continueID, prompt, verbose, os.Stdout)
		if err != nil {
			return err
		}
		if out.Status != agent.StatusCompleted {
			return fmt.Errorf("session %s %s", out.SessionID, out.Status)
		}
		return nil
	}

	fmt.Printf("%s: interactive chat\n", titleStyle.Render("agentloop"))
	fmt.Printf("Type %s for commands, %s to exit.\n\n", dimStyle.Render("/help"), dimStyle.Render("/quit"))

	return chatLoop(ctx, eng, continueID, os.Stdin, os.Stdout, verbose)
}

// chatLoop reads user input line by line and runs each line as the next
// exchange of the conversation. It exits cleanly on Ctrl+C or EOF.
func chatLoop(ctx context.Context, eng *engine.Engine, prevID string, in io.Reader, out io.Writer, verbose bool) error {
	scanner := bufio.NewScanner(in)

	for {
		_, _ = fmt.Fprint(out, userPrefixStyle.Render("you>")+" ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			_, _ = fmt.Fprintln(out, "Goodbye!")
			return nil
		case "/help":
			printHelp(out)
			continue
		case "/new":
			prevID = ""
			_, _ = fmt.Fprintf(out, "%s\n\n", dimStyle.Render("started a new conversation"))
			continue
		}

		result, err := send(ctx, eng, prevID, input, verbose, out)
		if err != nil {
			if ctx.Err() != nil {
				_, _ = fmt.Fprintf(out, "\n%s\n", dimStyle.Render("Interrupted"))
				return nil
			}
			_, _ = fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("error: %v", err)))
			continue
		}
		prevID = result.SessionID

		if ctx.Err() != nil {
			return nil
		}
		_, _ = fmt.Fprintln(out)
	}
}

// send runs one exchange, printing engine events while it is in flight and
// the outcome once it finishes.
func send(ctx context.Context, eng *engine.Engine, prevID, input string, verbose bool, out io.Writer) (agent.Outcome, error) {
	sub := eng.Events().Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.C {
			if line := formatEvent(e, verbose); line != "" {
				_, _ = fmt.Fprintln(out, line)
			}
		}
	}()

	start := time.Now()
	var (
		result agent.Outcome
		err    error
	)
	if prevID != "" {
		result, err = eng.Continue(ctx, prevID, input)
	} else {
		result, err = eng.Run(ctx, input)
	}
	eng.Events().Unsubscribe(sub)
	<-done

	if err != nil {
		return result, err
	}

	_, _ = fmt.Fprintln(out, formatOutcome(result))
	printUsage(out, result.Usage, time.Since(start))

	return result, nil
}

// formatEvent renders an engine event as a single styled line. Events that
// are only interesting in verbose mode return "" otherwise.
func formatEvent(e engine.Event, verbose bool) string {
	switch e.Kind {
	case engine.EventToolCallStart:
		if !verbose {
			return ""
		}
		if tc, ok := e.Data.(content.ToolCall); ok {
			return dimStyle.Render("→ ") + toolNameStyle.Render(tc.Name) + " " + dimStyle.Render(truncate(string(tc.Input), 120))
		}
		return ""
	case engine.EventToolCallEnd:
		end, ok := e.Data.(agent.ToolCallEnd)
		if !ok {
			return ""
		}
		if end.Result.IsError() {
			return toolErrorStyle.Render(fmt.Sprintf("✗ %s: %s (%s)", end.Call.Name, end.Result.Error.Message, end.Result.Error.Kind))
		}
		if !verbose {
			return dimStyle.Render("✓ " + end.Call.Name)
		}
		return dimStyle.Render(fmt.Sprintf("✓ %s (%s): %s", end.Call.Name, end.Duration.Round(time.Millisecond), truncate(string(end.Result.Output), 120)))
	case engine.EventStateChanged:
		if !verbose {
			return ""
		}
		if sc, ok := e.Data.(agent.StateChange); ok {
			return dimStyle.Render(fmt.Sprintf("[%s → %s]", sc.From, sc.To))
		}
		return ""
	case engine.EventError:
		return errorStyle.Render(fmt.Sprintf("error: %v", e.Data))
	default:
		return ""
	}
}

func formatOutcome(o agent.Outcome) string {
	if o.Status == agent.StatusCompleted {
		return answerPrefixStyle.Render("agent>") + " " + renderMarkdown(o.FinalText)
	}

	line := errorStyle.Render(string(o.Status))
	if o.Failure != nil {
		line = errorStyle.Render(fmt.Sprintf("%s: %s", o.Failure.Kind, o.Failure.Message))
		if o.Failure.Retryable {
			line += " " + dimStyle.Render("(retryable)")
		}
	}
	return line
}

func printUsage(out io.Writer, total usage.TokenCount, d time.Duration) {
	_, _ = fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%s · %d in / %d out tokens", d.Round(time.Millisecond), total.InputTokens, total.OutputTokens)))
}

func printHelp(out io.Writer) {
	_, _ = fmt.Fprintf(out, `%s
  /help   Show this help
  /new    Start a new conversation
  /quit   Exit
`, titleStyle.Render("Commands:"))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
