// Package tui provides the interactive Bubble Tea dashboard and the live
// tally pop-out for furnace.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/furnace/internal/burn"
	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/dashboard"
	"github.com/theirongolddev/furnace/internal/model"
	"github.com/theirongolddev/furnace/internal/store"
	"github.com/theirongolddev/furnace/internal/tui/components"
	"github.com/theirongolddev/furnace/internal/tui/theme"
)

const (
	minTerminalWidth = 70
	maxContentWidth  = 140
	minContentHeight = 5

	recentResults = 8
	historyLimit  = 50
	opTimeout     = 5 * time.Second
)

// Options configures the dashboard.
type Options struct {
	// History, if set, backs the History tab.
	History store.History
	// Config is saved back when the first-run wizard completes.
	Config config.Config
	// NeedSetup shows the setup wizard before the dashboard.
	NeedSetup bool
}

// historyMsg carries finished sessions loaded in the background.
type historyMsg struct {
	records []store.Record
	err     error
}

type entryKind int

const (
	entryNone entryKind = iota
	entryTokens
	entryManual
)

// entryState is the inline form used to log a step.
type entryState struct {
	kind   entryKind
	inputs []textinput.Model
	focus  int
}

// App is the root Bubble Tea model of the burn dashboard.
type App struct {
	ctrl    *dashboard.Controller
	history store.History
	cfg     config.Config

	snap      model.Snapshot
	records   []store.Record
	recordErr error
	model     string

	// UI state
	width     int
	height    int
	activeTab int
	showHelp  bool

	// New-run form, shown on the Burn tab while no run is active
	startForm *huh.Form
	startVals *startValues

	// First-run setup
	setupForm *huh.Form
	setupVals *SetupValues

	entry entryState

	flash    string
	flashErr bool
}

// NewApp creates the dashboard around ctrl.
func NewApp(ctrl *dashboard.Controller, opts Options) App {
	a := App{
		ctrl:    ctrl,
		history: opts.History,
		cfg:     opts.Config,
		snap:    ctrl.Snapshot(),
		model:   resolveModel(ctrl.Table(), opts.Config.General.DefaultModel),
	}
	if opts.NeedSetup {
		vals := SetupValuesFrom(opts.Config)
		if vals.Model == "" {
			vals.Model = a.model
		}
		a.setupVals = &vals
		a.setupForm = NewSetupForm(a.setupVals, ctrl.Table().Models())
	}
	if !a.snap.Active {
		a.openStartForm()
	}
	return a
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{tea.EnableMouseCellMotion, a.loadHistoryCmd()}
	if a.setupForm != nil {
		cmds = append(cmds, a.setupForm.Init())
	} else if a.startForm != nil {
		cmds = append(cmds, a.startForm.Init())
	}
	return tea.Batch(cmds...)
}

func (a *App) openStartForm() {
	balance, budget := a.ctrl.Defaults()
	a.startVals = &startValues{
		Balance: balance.StringFixed(2),
		Budget:  budget.StringFixed(2),
		Model:   a.model,
	}
	a.startForm = newStartForm(a.startVals, a.ctrl)
	if a.width > 0 {
		a.startForm = a.startForm.WithWidth(a.formWidth())
	}
}

func (a App) formWidth() int {
	return components.CardInnerWidth(a.contentWidth())
}

func (a App) contentWidth() int {
	return min(a.width, maxContentWidth)
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		if a.setupForm != nil {
			a.setupForm = a.setupForm.WithWidth(msg.Width).WithHeight(msg.Height)
		}
		if a.startForm != nil {
			a.startForm = a.startForm.WithWidth(a.formWidth())
		}
		return a, nil

	case historyMsg:
		a.records, a.recordErr = msg.records, msg.err
		return a, nil

	case tea.MouseMsg:
		if a.setupForm != nil || a.showHelp {
			return a, nil
		}
		if msg.Button == tea.MouseButtonLeft && msg.Action == tea.MouseActionPress && msg.Y == 0 {
			if tab := components.TabAtX(msg.X, a.activeTab); tab >= 0 {
				return a.switchTab(tab)
			}
		}
		return a, nil

	case tea.KeyMsg:
		key := msg.String()
		if key == "ctrl+c" {
			return a, tea.Quit
		}

		if a.setupForm != nil {
			return a.updateSetupForm(msg)
		}
		if a.entry.kind != entryNone {
			return a.updateEntry(msg)
		}
		if a.activeTab == 0 && a.startForm != nil {
			if key == "esc" {
				a.startForm = nil
				return a, nil
			}
			return a.updateStartForm(msg)
		}

		if key == "?" {
			a.showHelp = !a.showHelp
			return a, nil
		}
		if a.showHelp {
			a.showHelp = false
			return a, nil
		}
		return a.handleKey(key)
	}

	// Forward cursor blinks and the like to whichever form is active.
	switch {
	case a.setupForm != nil:
		return a.updateSetupForm(msg)
	case a.entry.kind != entryNone:
		return a.updateEntry(msg)
	case a.startForm != nil:
		return a.updateStartForm(msg)
	}
	return a, nil
}

func (a App) handleKey(key string) (tea.Model, tea.Cmd) {
	a.flash = ""

	switch key {
	case "q":
		return a, tea.Quit
	case "left":
		return a.switchTab((a.activeTab - 1 + len(components.Tabs)) % len(components.Tabs))
	case "right":
		return a.switchTab((a.activeTab + 1) % len(components.Tabs))
	case "n":
		if a.snap.Active {
			a.setFlash("A run is already active; finish or reset it first", true)
			return a, nil
		}
		a.activeTab = 0
		a.openStartForm()
		return a, a.startForm.Init()
	case "t":
		return a.openEntry(entryTokens)
	case "c", "$":
		return a.openEntry(entryManual)
	case "m":
		a.model = nextModel(a.ctrl.Table().Models(), a.model)
		a.setFlash("Model: "+a.model, false)
		return a, nil
	case "u":
		return a.undo()
	case "f":
		return a.finish()
	case "x":
		return a.reset()
	case "r":
		return a, a.loadHistoryCmd()
	}

	if len(key) == 1 {
		if tab := components.TabIdxByKey(rune(key[0])); tab >= 0 {
			return a.switchTab(tab)
		}
	}
	return a, nil
}

func (a App) switchTab(tab int) (tea.Model, tea.Cmd) {
	a.activeTab = tab
	if tab == 2 {
		return a, a.loadHistoryCmd()
	}
	return a, nil
}

func (a *App) setFlash(msg string, isErr bool) {
	a.flash = msg
	a.flashErr = isErr
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// ─── Session actions ────────────────────────────────────────────

func (a App) updateSetupForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := a.setupForm.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		a.setupForm = f
	}

	switch a.setupForm.State {
	case huh.StateCompleted:
		a.setupVals.Apply(&a.cfg)
		theme.SetActive(a.cfg.Appearance.Theme)
		if err := config.Save(a.cfg); err != nil {
			log.Warn().Err(err).Msg("saving config failed")
			a.setFlash("Could not save config: "+err.Error(), true)
		} else {
			a.setFlash("Saved "+config.Path(), false)
		}
		a.model = resolveModel(a.ctrl.Table(), a.setupVals.Model)
		a.ctrl.Reset(context.Background(),
			burn.ParseAmount(a.setupVals.Balance), burn.ParseAmount(a.setupVals.Budget))
		a.snap = a.ctrl.Snapshot()
		a.setupForm = nil
		a.openStartForm()
		return a, a.startForm.Init()
	case huh.StateAborted:
		a.setupForm = nil
		return a, nil
	}
	return a, cmd
}

func (a App) updateStartForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := a.startForm.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		a.startForm = f
	}

	switch a.startForm.State {
	case huh.StateCompleted:
		return a.submitStart()
	case huh.StateAborted:
		a.startForm = nil
		return a, nil
	}
	return a, cmd
}

// submitStart begins a run from the start form values.
func (a App) submitStart() (tea.Model, tea.Cmd) {
	v := a.startVals
	a.startForm = nil
	a.model = resolveModel(a.ctrl.Table(), v.Model)

	ctx, cancel := opContext()
	defer cancel()
	snap, ok := a.ctrl.Start(ctx, burn.ParseAmount(v.Balance), burn.ParseAmount(v.Budget))
	a.snap = snap
	if !ok {
		a.setFlash("A run is already active here or in the daemon", true)
		return a, nil
	}
	a.setFlash(fmt.Sprintf("Run started: budget $%s", burn.Amount(snap.Budget).StringFixed(2)), false)
	return a, nil
}

func (a App) openEntry(kind entryKind) (tea.Model, tea.Cmd) {
	if !a.snap.Active {
		a.setFlash("Start a run first (n)", true)
		return a, nil
	}

	var placeholders []string
	switch kind {
	case entryTokens:
		placeholders = []string{"prompt tokens", "completion tokens", "description (optional)"}
	default:
		placeholders = []string{"cost, e.g. 1.25", "description (optional)"}
	}

	inputs := make([]textinput.Model, len(placeholders))
	for i, p := range placeholders {
		ti := textinput.New()
		ti.Placeholder = p
		ti.CharLimit = 64
		ti.Width = 24
		inputs[i] = ti
	}
	inputs[0].Focus()

	a.entry = entryState{kind: kind, inputs: inputs}
	a.activeTab = 0
	return a, textinput.Blink
}

func (a App) updateEntry(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "esc":
			a.entry = entryState{}
			return a, nil
		case "tab", "down":
			return a.focusEntry(a.entry.focus + 1), nil
		case "shift+tab", "up":
			return a.focusEntry(a.entry.focus - 1), nil
		case "enter":
			return a.submitEntry()
		}
	}

	var cmd tea.Cmd
	a.entry.inputs[a.entry.focus], cmd = a.entry.inputs[a.entry.focus].Update(msg)
	return a, cmd
}

func (a App) focusEntry(i int) App {
	n := len(a.entry.inputs)
	i = (i + n) % n
	inputs := make([]textinput.Model, n)
	copy(inputs, a.entry.inputs)
	inputs[a.entry.focus].Blur()
	inputs[i].Focus()
	a.entry.inputs = inputs
	a.entry.focus = i
	return a
}

func (a App) entryValue(i int) string {
	if i >= len(a.entry.inputs) {
		return ""
	}
	return strings.TrimSpace(a.entry.inputs[i].Value())
}

// entryEstimate prices the token entry as typed.
func (a App) entryEstimate() decimal.Decimal {
	p := float64(burn.ParseTokens(a.entryValue(0)))
	c := float64(burn.ParseTokens(a.entryValue(1)))
	return a.ctrl.Estimate(a.model, p, c)
}

func (a App) submitEntry() (tea.Model, tea.Cmd) {
	ctx, cancel := opContext()
	defer cancel()

	var (
		snap model.Snapshot
		out  burn.Outcome
	)
	switch a.entry.kind {
	case entryTokens:
		snap, out = a.ctrl.AddTokens(ctx, a.model,
			float64(burn.ParseTokens(a.entryValue(0))),
			float64(burn.ParseTokens(a.entryValue(1))),
			a.entryValue(2))
	default:
		snap, out = a.ctrl.AddManual(ctx, burn.ParseAmount(a.entryValue(0)), a.entryValue(1))
	}
	a.snap = snap

	if out == burn.RejectedZeroCost {
		a.setFlash(outcomeText(out, snap), true)
		return a, nil
	}
	a.entry = entryState{}
	a.setFlash(outcomeText(out, snap), out != burn.Accepted)
	return a, nil
}

func outcomeText(out burn.Outcome, snap model.Snapshot) string {
	switch out {
	case burn.Accepted:
		if n := len(snap.Results); n > 0 {
			return fmt.Sprintf("Step #%d: $%.2f", snap.Results[n-1].I, snap.Results[n-1].Cost)
		}
		return "Step added"
	case burn.RejectedInactive:
		return "No active run; press n to start one"
	case burn.RejectedZeroCost:
		return "That step costs $0.00; nothing was added"
	case burn.RejectedAtCap:
		return "Budget cap reached; finish or reset the run"
	case burn.RejectedOverCap:
		return "That step would cross the budget cap"
	default:
		return out.String()
	}
}

func (a App) undo() (tea.Model, tea.Cmd) {
	ctx, cancel := opContext()
	defer cancel()
	snap, ok := a.ctrl.Undo(ctx)
	a.snap = snap
	if !ok {
		a.setFlash("Nothing to undo", true)
		return a, nil
	}
	a.setFlash("Removed the last step", false)
	return a, nil
}

func (a App) finish() (tea.Model, tea.Cmd) {
	ctx, cancel := opContext()
	defer cancel()
	snap, ok := a.ctrl.Finish(ctx)
	a.snap = snap
	if !ok {
		a.setFlash("No active run to finish", true)
		return a, nil
	}
	a.setFlash(fmt.Sprintf("Finished: burned $%.2f, balance now $%.2f", snap.Burned, snap.Balance), false)
	return a, a.loadHistoryCmd()
}

func (a App) reset() (tea.Model, tea.Cmd) {
	ctx, cancel := opContext()
	defer cancel()
	a.snap = a.ctrl.Reset(ctx, decimal.Zero, decimal.Zero)
	a.entry = entryState{}
	a.activeTab = 0
	a.openStartForm()
	a.setFlash("Run reset", false)
	return a, a.startForm.Init()
}

// resolveModel maps name to a table entry, falling back to the default.
func resolveModel(table config.PriceTable, name string) string {
	if _, found := table.Lookup(name); found {
		return table.NormalizeModelName(name)
	}
	return table.DefaultModel()
}

func nextModel(models []string, current string) string {
	if len(models) == 0 {
		return current
	}
	for i, m := range models {
		if m == current {
			return models[(i+1)%len(models)]
		}
	}
	return models[0]
}

func (a App) loadHistoryCmd() tea.Cmd {
	h := a.history
	if h == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := opContext()
		defer cancel()
		records, err := h.History(ctx, historyLimit)
		return historyMsg{records: records, err: err}
	}
}

// ─── Views ──────────────────────────────────────────────────────

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}
	if a.width < minTerminalWidth {
		return a.viewTooNarrow()
	}
	if a.setupForm != nil {
		return a.setupForm.View()
	}
	if a.showHelp {
		return a.viewHelp()
	}
	return a.viewMain()
}

func (a App) viewTooNarrow() string {
	h := max(a.height, 5)
	msg := fmt.Sprintf("\n  Terminal too narrow (%d cols)\n\n  furnace needs at least %d columns.\n",
		a.width, minTerminalWidth)
	return padHeight(truncateHeight(msg, h), h)
}

func (a App) viewHelp() string {
	t := theme.Active

	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Background(t.Surface).
		Padding(1, 3)
	titleStyle := lipgloss.NewStyle().Foreground(t.AccentBright).Background(t.Surface).Bold(true)
	sectionStyle := lipgloss.NewStyle().Foreground(t.Accent).Background(t.Surface).Bold(true)
	keyStyle := lipgloss.NewStyle().Foreground(t.Cyan).Background(t.Surface).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(t.TextMuted).Background(t.Surface)
	dimStyle := lipgloss.NewStyle().Foreground(t.TextDim).Background(t.Surface)

	var b strings.Builder
	b.WriteString(titleStyle.Render("🔥 Keyboard Shortcuts"))
	b.WriteString("\n\n")

	sections := []struct {
		name     string
		bindings []struct{ key, desc string }
	}{
		{"Run", []struct{ key, desc string }{
			{"n", "Start a new run"},
			{"t", "Log a step from token counts"},
			{"c  $", "Log a step with a manual cost"},
			{"m", "Cycle the model for token steps"},
			{"u", "Undo the last step"},
			{"f", "Finish and settle the balance"},
			{"x", "Reset the run"},
		}},
		{"Views", []struct{ key, desc string }{
			{"b s h p", "Burn / Steps / History / Pricing"},
			{"← →", "Previous / Next view"},
			{"r", "Reload history"},
			{"?", "Toggle help"},
			{"q", "Quit"},
		}},
	}
	for i, sec := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sectionStyle.Render(sec.name))
		b.WriteString("\n")
		for _, bind := range sec.bindings {
			fmt.Fprintf(&b, "  %s  %s\n",
				keyStyle.Render(fmt.Sprintf("%-8s", bind.key)),
				descStyle.Render(bind.desc))
		}
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press any key to close"))

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, cardStyle.Render(b.String()),
		lipgloss.WithWhitespaceBackground(t.Background))
}

func (a App) statusHints() string {
	switch {
	case a.entry.kind != entryNone:
		return "[enter]log  [tab]next field  [esc]cancel"
	case a.activeTab == 0 && a.startForm != nil:
		return "[enter]next  [esc]close form  [ctrl+c]quit"
	case a.snap.Active:
		return "[t]okens  [c]ost  [u]ndo  [f]inish  [x]reset  [?]help  [q]uit"
	default:
		return "[n]ew run  [?]help  [q]uit"
	}
}

func (a App) viewMain() string {
	t := theme.Active
	w := a.width
	cw := a.contentWidth()
	h := a.height

	header := components.RenderTabBar(a.activeTab, w)

	right := a.flash
	if right == "" {
		right = a.model
	}
	statusBar := components.RenderStatusBar(w, a.statusHints(), right, a.flashErr)

	contentH := max(h-lipgloss.Height(header)-lipgloss.Height(statusBar), minContentHeight)

	var content string
	switch a.activeTab {
	case 0:
		content = a.renderBurnTab(cw)
	case 1:
		content = a.renderStepsTab(cw)
	case 2:
		content = a.renderHistoryTab(cw)
	case 3:
		content = a.renderPricingTab(cw)
	}

	content = padHeight(truncateHeight(content, contentH), contentH)
	content = fillLinesWithBackground(content, cw, t.Background)
	content = lipgloss.Place(w, contentH, lipgloss.Center, lipgloss.Top, content,
		lipgloss.WithWhitespaceBackground(t.Background))

	output := lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
	return lipgloss.Place(w, h, lipgloss.Left, lipgloss.Top, output,
		lipgloss.WithWhitespaceBackground(t.Background))
}

// ─── Helpers ────────────────────────────────────────────────────

func truncStr(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func truncateHeight(s string, limit int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= limit {
		return s
	}
	return strings.Join(lines[:limit], "\n")
}

func padHeight(s string, h int) string {
	lines := strings.Split(s, "\n")
	if len(lines) >= h {
		return s
	}
	return s + strings.Repeat("\n", h-len(lines))
}

// fillLinesWithBackground pads each line to width w with background color.
func fillLinesWithBackground(s string, w int, bg lipgloss.Color) string {
	lines := strings.Split(s, "\n")

	var result strings.Builder
	for i, line := range lines {
		result.WriteString(lipgloss.PlaceHorizontal(w, lipgloss.Left, line,
			lipgloss.WithWhitespaceBackground(bg)))
		if i < len(lines)-1 {
			result.WriteString("\n")
		}
	}
	return result.String()
}
