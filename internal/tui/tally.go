package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/model"
	"github.com/theirongolddev/furnace/internal/tally"
	"github.com/theirongolddev/furnace/internal/tui/components"
	"github.com/theirongolddev/furnace/internal/tui/theme"
)

// snapshotMsg delivers a snapshot from the subscription.
type snapshotMsg struct {
	snap model.Snapshot
}

// subscribedMsg carries the channel once the subscription is open.
type subscribedMsg struct {
	ch <-chan model.Snapshot
}

// subscribeErrMsg reports that the subscription could not be opened or ended.
type subscribeErrMsg struct {
	err error
}

// resubscribeMsg retries a failed subscription.
type resubscribeMsg struct{}

const resubscribeDelay = 2 * time.Second

// Tally is the read-only pop-out view. It shows the latest snapshot
// published by the dashboard and the last few results.
type Tally struct {
	sub    tally.Subscriber
	source string
	ctx    context.Context
	cancel context.CancelFunc

	ch       <-chan model.Snapshot
	snap     model.Snapshot
	received bool
	updated  time.Time
	err      error

	width  int
	height int
}

// NewTally creates the pop-out view over sub. source names the transport
// in the status bar.
func NewTally(sub tally.Subscriber, source string) Tally {
	ctx, cancel := context.WithCancel(context.Background())
	return Tally{
		sub:    sub,
		source: source,
		ctx:    ctx,
		cancel: cancel,
		snap:   model.ZeroSnapshot(),
	}
}

// Init implements tea.Model.
func (m Tally) Init() tea.Cmd {
	sub, ctx := m.sub, m.ctx
	return func() tea.Msg {
		ch, err := sub.Subscribe(ctx)
		if err != nil {
			return subscribeErrMsg{err: err}
		}
		return subscribedMsg{ch: ch}
	}
}

func waitForSnapshot(ch <-chan model.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return subscribeErrMsg{err: errors.New("subscription closed")}
		}
		return snapshotMsg{snap: s}
	}
}

// Update implements tea.Model.
func (m Tally) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case subscribedMsg:
		m.ch = msg.ch
		m.err = nil
		return m, waitForSnapshot(m.ch)

	case snapshotMsg:
		m.snap = msg.snap.Sanitize()
		m.received = true
		m.updated = time.Now()
		return m, waitForSnapshot(m.ch)

	case subscribeErrMsg:
		m.err = msg.err
		return m, tea.Tick(resubscribeDelay, func(time.Time) tea.Msg { return resubscribeMsg{} })

	case resubscribeMsg:
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, m.Init()
	}
	return m, nil
}

// View implements tea.Model.
func (m Tally) View() string {
	if m.width == 0 {
		return ""
	}
	t := theme.Active
	w, h := m.width, m.height
	cw := min(w, 72)
	s := m.snap

	var b strings.Builder
	b.WriteString(components.MetricCardRow([]components.Metric{
		{Label: "Burned", Value: cli.FormatUSD(s.Burned), Color: t.Accent},
		{Label: "Remaining", Value: cli.FormatUSD(s.Remaining), Note: "of " + cli.FormatUSD(s.Budget)},
		{Label: "Balance", Value: cli.FormatUSD(s.Balance)},
	}, cw))
	b.WriteString("\n")

	inner := components.CardInnerWidth(cw)
	body := components.CompactBudgetBar("Budget", budgetPct(s), inner)
	if spark := components.Sparkline(s.Steps, t.Accent); spark != "" {
		body += "\n" + spark
	}
	b.WriteString(components.ContentCard("Run · "+s.Status, body, cw))
	b.WriteString("\n")

	dim := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)
	results := dim.Render("Waiting for data…")
	if m.received {
		results = renderResults(s.Latest(recentResults), inner)
	}
	b.WriteString(components.ContentCard(fmt.Sprintf("Last %d steps", recentResults), results, cw))

	right := "updated " + cli.FormatAge(m.updated, time.Now())
	isErr := false
	if m.err != nil {
		right, isErr = m.err.Error(), true
	}
	status := components.RenderStatusBar(w, "🔥 live tally via "+m.source+"  [q]uit", right, isErr)

	contentH := max(h-lipgloss.Height(status), minContentHeight)
	content := padHeight(truncateHeight(b.String(), contentH), contentH)
	content = lipgloss.Place(w, contentH, lipgloss.Center, lipgloss.Top, content,
		lipgloss.WithWhitespaceBackground(t.Background))

	return lipgloss.JoinVertical(lipgloss.Left, content, status)
}

func budgetPct(s model.Snapshot) float64 {
	if s.Budget <= 0 {
		return 0
	}
	return s.Burned / s.Budget
}
