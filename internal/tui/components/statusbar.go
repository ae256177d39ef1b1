package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/furnace/internal/tui/theme"
)

// RenderStatusBar renders the bottom bar: key hints on the left, and a
// flash message or connection info on the right.
func RenderStatusBar(width int, hints, right string, rightIsError bool) string {
	t := theme.Active

	style := lipgloss.NewStyle().
		Foreground(t.TextMuted).
		Background(t.Surface).
		Width(width)

	rightStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	if rightIsError {
		rightStyle = rightStyle.Foreground(t.Orange)
	}

	left := " " + hints
	if right != "" {
		right = rightStyle.Render(right + " ")
	}

	padding := width - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 0 {
		padding = 0
	}

	return style.Render(left + strings.Repeat(" ", padding) + right)
}
