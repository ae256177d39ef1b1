package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/furnace/internal/tui/theme"
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders a unicode sparkline from values.
func Sparkline(values []float64, color lipgloss.Color) string {
	if len(values) == 0 {
		return ""
	}
	t := theme.Active

	peak := values[0]
	for _, v := range values[1:] {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		peak = 1
	}

	var buf strings.Builder
	buf.Grow(len(values) * 3)
	for _, v := range values {
		idx := int(v / peak * float64(len(sparkBlocks)-1))
		idx = max(0, min(idx, len(sparkBlocks)-1))
		buf.WriteRune(sparkBlocks[idx])
	}

	return lipgloss.NewStyle().Foreground(color).Background(t.Surface).Render(buf.String())
}

// StepBar is one row in StepBars.
type StepBar struct {
	Label string
	Value float64
	Text  string
}

// StepBars renders one horizontal bar per step, scaled to the largest
// value, with a right-aligned text column. Bars at or above warnAt are
// drawn in the warning color; warnAt <= 0 disables it.
func StepBars(rows []StepBar, width int, warnAt float64) string {
	if len(rows) == 0 {
		return ""
	}
	t := theme.Active

	labelW, textW := 0, 0
	peak := 0.0
	for _, r := range rows {
		labelW = max(labelW, lipgloss.Width(r.Label))
		textW = max(textW, lipgloss.Width(r.Text))
		peak = max(peak, r.Value)
	}
	if peak <= 0 {
		peak = 1
	}

	barW := width - labelW - textW - 2
	if barW < 4 {
		barW = 4
	}

	labelStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	textStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	emptyStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	space := lipgloss.NewStyle().Background(t.Surface).Render(" ")

	var b strings.Builder
	for i, r := range rows {
		color := t.Accent
		if warnAt > 0 && r.Value >= warnAt {
			color = t.Orange
		}
		filled := int(r.Value / peak * float64(barW))
		if r.Value > 0 && filled == 0 {
			filled = 1
		}
		filled = min(filled, barW)

		b.WriteString(labelStyle.Render(fmt.Sprintf("%*s", labelW, r.Label)))
		b.WriteString(space)
		b.WriteString(lipgloss.NewStyle().Foreground(color).Background(t.Surface).Render(strings.Repeat("█", filled)))
		b.WriteString(emptyStyle.Render(strings.Repeat("·", barW-filled)))
		b.WriteString(space)
		b.WriteString(textStyle.Render(fmt.Sprintf("%*s", textW, r.Text)))
		if i < len(rows)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
