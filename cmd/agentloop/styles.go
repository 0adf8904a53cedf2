package main

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	userPrefixStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")) // green
	answerPrefixStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")) // cyan

	toolNameStyle  = lipgloss.NewStyle().Bold(true)
	toolErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Faint(true)
)

// mdRenderer renders final answers as terminal markdown. It stays nil when
// output is not interactive, and answers are printed as-is.
var mdRenderer *glamour.TermRenderer

func initMarkdownRenderer(width int) {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return
	}
	mdRenderer = r
}

func renderMarkdown(text string) string {
	if mdRenderer == nil {
		return text
	}
	out, err := mdRenderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}
