package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/tui/components"
	"github.com/theirongolddev/furnace/internal/tui/theme"
)

// maxStepBars caps how many steps the bar list shows.
const maxStepBars = 20

func (a App) renderStepsTab(cw int) string {
	t := theme.Active
	s := a.snap
	inner := components.CardInnerWidth(cw)
	dim := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)

	if len(s.Results) == 0 {
		return components.ContentCard("Steps", dim.Render("No steps yet…"), cw)
	}

	var b strings.Builder

	var trend strings.Builder
	trend.WriteString(components.Sparkline(s.Steps, t.Accent))
	trend.WriteString("\n")
	avg := s.Burned / float64(len(s.Results))
	trend.WriteString(muted.Render(fmt.Sprintf("%d steps · avg %s · largest %s",
		len(s.Results), cli.FormatUSD(avg), cli.FormatUSD(largest(s.Steps)))))
	b.WriteString(components.ContentCard("Cost per step", trend.String(), cw))
	b.WriteString("\n")

	results := s.Latest(maxStepBars)
	rows := make([]components.StepBar, len(results))
	for i, r := range results {
		text := cli.FormatUSD(r.Cost)
		if r.PromptTokens > 0 || r.CompletionTokens > 0 {
			text = fmt.Sprintf("%s in / %s out  %s",
				cli.FormatTokens(r.PromptTokens), cli.FormatTokens(r.CompletionTokens), text)
		}
		rows[i] = components.StepBar{Label: fmt.Sprintf("#%d", r.I), Value: r.Cost, Text: text}
	}

	// Steps costing a quarter of the budget or more stand out.
	warnAt := 0.0
	if s.Budget > 0 {
		warnAt = s.Budget / 4
	}
	title := "Steps"
	if len(s.Results) > maxStepBars {
		title = fmt.Sprintf("Steps (last %d of %d)", maxStepBars, len(s.Results))
	}
	b.WriteString(components.ContentCard(title, components.StepBars(rows, inner, warnAt), cw))
	return b.String()
}

func largest(values []float64) float64 {
	m := 0.0
	for _, v := range values {
		m = max(m, v)
	}
	return m
}
