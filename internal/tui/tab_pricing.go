package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/tui/components"
	"github.com/theirongolddev/furnace/internal/tui/theme"
)

func (a App) renderPricingTab(cw int) string {
	t := theme.Active
	table := a.ctrl.Table()
	header := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	active := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.Surface).Bold(true)
	dim := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)

	lines := []string{header.Render(fmt.Sprintf("  %-28s %12s %12s %14s", "Model", "In / 1K", "Out / 1K", "1K in + 1K out"))}
	for _, m := range table.Models() {
		p, _ := table.Lookup(m)
		marker, style := "  ", value
		if m == a.model {
			marker, style = "▸ ", active
		}
		name := m
		if m == table.DefaultModel() {
			name += " (default)"
		}
		lines = append(lines, style.Render(fmt.Sprintf("%s%-28s %12s %12s %14s", marker, truncStr(name, 28),
			cli.FormatRate(p.InputPer1K), cli.FormatRate(p.OutputPer1K),
			"$"+a.ctrl.Estimate(m, 1000, 1000).StringFixed(2))))
	}
	lines = append(lines, "", dim.Render("Unknown models are priced as "+table.DefaultModel()+". Press m to cycle the active model."))

	return components.ContentCard("Price table", strings.Join(lines, "\n"), cw)
}
