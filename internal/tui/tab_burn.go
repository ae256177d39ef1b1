package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/dashboard"
	"github.com/theirongolddev/furnace/internal/model"
	"github.com/theirongolddev/furnace/internal/tui/components"
	"github.com/theirongolddev/furnace/internal/tui/theme"
)

func (a App) renderBurnTab(cw int) string {
	t := theme.Active
	s := a.snap

	if a.startForm != nil {
		note := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface).
			Width(components.CardInnerWidth(cw)).Render(dashboard.BalanceUnsupportedMessage)
		return components.ContentCard("New run", a.startForm.View(), cw) + "\n" +
			components.ContentCard("", note, cw)
	}

	var b strings.Builder
	b.WriteString(components.MetricCardRow(burnMetrics(s), cw))
	b.WriteString("\n")

	inner := components.CardInnerWidth(cw)
	barW := max(inner-10-8-14, 10)
	var body strings.Builder
	body.WriteString(components.BudgetBar("Budget", s.Burned, s.Budget, 10, barW))
	body.WriteString("\n")
	body.WriteString(a.runLine(s))
	if a.entry.kind != entryNone {
		body.WriteString("\n\n")
		body.WriteString(a.renderEntry())
	}
	b.WriteString(components.ContentCard("Run", body.String(), cw))
	b.WriteString("\n")

	b.WriteString(components.ContentCard(
		fmt.Sprintf("Recent steps (last %d)", recentResults),
		renderResults(s.Latest(recentResults), inner), cw))
	return b.String()
}

func burnMetrics(s model.Snapshot) []components.Metric {
	t := theme.Active
	remainingColor := t.Green
	if s.OverBudget {
		remainingColor = t.Red
	}
	return []components.Metric{
		{Label: "Burned", Value: cli.FormatUSD(s.Burned), Note: fmt.Sprintf("%d%% of budget", s.PercentUsed), Color: t.Accent},
		{Label: "Remaining", Value: cli.FormatUSD(s.Remaining), Note: "of " + cli.FormatUSD(s.Budget), Color: remainingColor},
		{Label: "Balance", Value: cli.FormatUSD(s.Balance), Note: "settles on finish"},
		{Label: "Steps", Value: fmt.Sprintf("%d", len(s.Results)), Note: s.Status},
	}
}

func (a App) runLine(s model.Snapshot) string {
	t := theme.Active
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)

	switch {
	case s.Status == "finished":
		return muted.Render("Finished. Burned ") + value.Render(cli.FormatUSD(s.Burned)) +
			muted.Render(", balance now ") + value.Render(cli.FormatUSD(s.Balance)) +
			muted.Render(". Press n for a new run.")
	case !s.Active:
		return muted.Render("No active run. Press n to start one.")
	}

	pricing, _ := a.ctrl.Table().Lookup(a.model)
	return muted.Render("Model ") + value.Render(a.model) +
		muted.Render(fmt.Sprintf("  in %s / out %s per 1K",
			cli.FormatRate(pricing.InputPer1K), cli.FormatRate(pricing.OutputPer1K)))
}

func (a App) renderEntry() string {
	t := theme.Active
	label := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)

	var b strings.Builder
	switch a.entry.kind {
	case entryTokens:
		b.WriteString(label.Render("Log tokens"))
		b.WriteString(muted.Render(" with " + a.model))
	default:
		b.WriteString(label.Render("Log cost"))
	}
	b.WriteString("\n")
	for _, in := range a.entry.inputs {
		b.WriteString("  ")
		b.WriteString(in.View())
		b.WriteString("\n")
	}
	if a.entry.kind == entryTokens {
		b.WriteString(muted.Render("  ≈ $" + a.entryEstimate().StringFixed(2)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderResults(results []model.Result, w int) string {
	t := theme.Active
	muted := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	dim := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	value := lipgloss.NewStyle().Foreground(t.TextPrimary).Background(t.Surface)
	cost := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)

	if len(results) == 0 {
		return dim.Render("No steps yet…")
	}

	infoW := max(w-6-12-10, 10)
	lines := make([]string, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		lines = append(lines,
			muted.Render(fmt.Sprintf("#%-4d ", r.I))+
				value.Render(fmt.Sprintf("%-*s", infoW, truncStr(r.Info, infoW)))+
				cost.Render(fmt.Sprintf("%12s", cli.FormatUSD(r.Cost)))+
				dim.Render(fmt.Sprintf("%10s", r.TS.Local().Format("15:04:05"))))
	}
	return strings.Join(lines, "\n")
}
