package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/tui/components"
	"github.com/theirongolddev/furnace/internal/tui/theme"
)

func (a App) renderHistoryTab(cw int) string {
	t := theme.Active
	dim := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	warn := lipgloss.NewStyle().Foreground(t.Orange).Background(t.Surface)
	header := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)

	switch {
	case a.history == nil:
		return components.ContentCard("History",
			dim.Render("History needs a persistent store. Set [daemon] store = \"sqlite\" in the config."), cw)
	case a.recordErr != nil:
		return components.ContentCard("History", warn.Render("Could not load history: "+a.recordErr.Error()), cw)
	case len(a.records) == 0:
		return components.ContentCard("History", dim.Render("No finished runs yet."), cw)
	}

	now := time.Now()
	var total float64
	lines := []string{header.Render(fmt.Sprintf("%-16s %10s %10s %10s %6s  %s",
		"Finished", "Burned", "Budget", "Balance", "Steps", "Model"))}
	for _, r := range a.records {
		total += r.Burned
		lines = append(lines,
			muted.Render(fmt.Sprintf("%-16s ", cli.FormatAge(r.FinishedAt, now)))+
				value.Render(fmt.Sprintf("%10s %10s %10s %6d  %s",
					cli.FormatUSD(r.Burned), cli.FormatUSD(r.Budget), cli.FormatUSD(r.Balance),
					r.Results, truncStr(r.Model, 20))))
	}

	var b strings.Builder
	b.WriteString(components.MetricCardRow([]components.Metric{
		{Label: "Runs", Value: fmt.Sprintf("%d", len(a.records))},
		{Label: "Total burned", Value: cli.FormatUSD(total), Color: t.Accent},
		{Label: "Last balance", Value: cli.FormatUSD(a.records[0].Balance)},
	}, cw))
	b.WriteString("\n")
	b.WriteString(components.ContentCard("Finished runs", strings.Join(lines, "\n"), cw))
	return b.String()
}
