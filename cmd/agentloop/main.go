// Agentloop runs tool-using reasoning sessions from the terminal. It loads a
// YAML configuration, builds the engine, and either answers a single prompt,
// runs a read-eval-print loop, or exposes the engine over MCP or the relay
// protocol.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

func main() {
	// Handle subcommands before flag parsing.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "mcp":
			mcpCmd := flag.NewFlagSet("mcp", flag.ExitOnError)
			mcpCmd.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: agentloop mcp [flags]\n\nServe the configured tools over MCP on stdin/stdout.\n\nFlags:\n")
				mcpCmd.PrintDefaults()
			}
			common := addCommonFlags(mcpCmd)
			_ = mcpCmd.Parse(os.Args[2:])

			exit(common.setup(), func() error { return runMCP(common.configPath) })
			return
		case "relay":
			relayCmd := flag.NewFlagSet("relay", flag.ExitOnError)
			relayCmd.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: agentloop relay [flags]\n\nServe the configured provider over the relay protocol.\n\nFlags:\n")
				relayCmd.PrintDefaults()
			}
			common := addCommonFlags(relayCmd)
			listen := relayCmd.String("listen", ":8080", "address to listen on")
			_ = relayCmd.Parse(os.Args[2:])

			exit(common.setup(), func() error { return runRelay(common.configPath, *listen) })
			return
		case "sessions":
			sessionsCmd := flag.NewFlagSet("sessions", flag.ExitOnError)
			sessionsCmd.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: agentloop sessions [flags]\n\nList archived sessions, newest first.\n\nFlags:\n")
				sessionsCmd.PrintDefaults()
			}
			common := addCommonFlags(sessionsCmd)
			limit := sessionsCmd.Int("limit", 20, "maximum number of sessions to list (0 = all)")
			_ = sessionsCmd.Parse(os.Args[2:])

			exit(common.setup(), func() error { return runSessions(common.configPath, *limit) })
			return
		}
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: agentloop [flags] [prompt]\n       agentloop <command> [flags]\n\nFlags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n  mcp       Serve the configured tools over MCP on stdio\n  relay     Serve the configured provider over the relay protocol\n  sessions  List archived sessions\n")
	}

	common := addCommonFlags(flag.CommandLine)
	continueID := flag.String("continue", "", "continue the archived session with this id")
	verbose := flag.Bool("verbose", false, "show tool calls and state changes")
	flag.Parse()

	exit(common.setup(), func() error {
		return run(common.configPath, *continueID, flag.Args(), *verbose)
	})
}

type commonFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "path to configuration file (default: .agentloop/config.yaml or agentloop.yaml)")
	fs.StringVar(&c.envFile, "env", ".env", "path to .env file (ignored if missing)")
	fs.StringVar(&c.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	return c
}

// setup loads the .env file, installs the default logger, and resolves the
// configuration path.
func (c *commonFlags) setup() error {
	if err := loadDotEnv(c.envFile); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", c.logLevel)
	}
	// Logs go to stderr so stdout stays clean for answers and the MCP
	// transport.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	c.configPath = resolveConfigPath(c.configPath, ".agentloop")
	return nil
}

func exit(setupErr error, fn func() error) {
	err := setupErr
	if err == nil {
		err = fn()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. If the file does not exist
// it is silently ignored so that .env files remain optional.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// resolveConfigPath returns the configuration file to load: the explicit
// flag, then <dir>/config.yaml, then agentloop.yaml.
func resolveConfigPath(explicit, dir string) string {
	if explicit != "" {
		return explicit
	}

	dirConfig := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(dirConfig); err == nil {
		return dirConfig
	}

	return "agentloop.yaml"
}
