package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/theirongolddev/furnace/internal/burn"
	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/dashboard"
	"github.com/theirongolddev/furnace/internal/tui/theme"
)

// SetupValues holds the answers of the setup wizard.
type SetupValues struct {
	Balance      string
	Budget       string
	Model        string
	CapPolicy    string
	Theme        string
	SlackEnabled bool
	SlackChannel string
}

// SetupValuesFrom seeds the wizard from an existing config.
func SetupValuesFrom(cfg config.Config) SetupValues {
	return SetupValues{
		Balance:      fmt.Sprintf("%.2f", cfg.General.DefaultBalance),
		Budget:       fmt.Sprintf("%.2f", cfg.General.DefaultBudget),
		Model:        cfg.General.DefaultModel,
		CapPolicy:    burnPolicyName(cfg.General.CapPolicy),
		Theme:        theme.ByName(cfg.Appearance.Theme).Name,
		SlackEnabled: cfg.Slack.Enabled,
		SlackChannel: cfg.Slack.Channel,
	}
}

func burnPolicyName(s string) string {
	p, err := burn.ParseCapPolicy(s)
	if err != nil {
		return burn.HardStop.String()
	}
	return p.String()
}

// Apply writes the answers into cfg.
func (v SetupValues) Apply(cfg *config.Config) {
	cfg.General.DefaultBalance = burn.ParseAmount(v.Balance).InexactFloat64()
	cfg.General.DefaultBudget = burn.ParseAmount(v.Budget).InexactFloat64()
	if v.Model != "" {
		cfg.General.DefaultModel = v.Model
	}
	cfg.General.CapPolicy = burnPolicyName(v.CapPolicy)
	cfg.Appearance.Theme = theme.ByName(v.Theme).Name
	cfg.Slack.Enabled = v.SlackEnabled
	cfg.Slack.Channel = strings.TrimSpace(v.SlackChannel)
}

func validateAmount(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("enter an amount")
	}
	if burn.ParseAmount(s).IsNegative() {
		return errors.New("amount cannot be negative")
	}
	return nil
}

// NewSetupForm builds the furnace setup wizard bound to v.
func NewSetupForm(v *SetupValues, models []string) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Welcome to furnace").
				Description("Set the defaults used to seed each burn run.\n\n"+dashboard.BalanceUnsupportedMessage),
			huh.NewInput().
				Title("Default balance (USD)").
				Placeholder("25.00").
				Value(&v.Balance).
				Validate(validateAmount),
			huh.NewInput().
				Title("Default budget per run (USD)").
				Placeholder("5.00").
				Value(&v.Budget).
				Validate(validateAmount),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default model").
				Options(huh.NewOptions(models...)...).
				Value(&v.Model),
			huh.NewSelect[string]().
				Title("At the budget cap").
				Options(
					huh.NewOption("Stop after the cap is reached", burn.HardStop.String()),
					huh.NewOption("Reject any step that would cross the cap", burn.Strict.String()),
					huh.NewOption("Charge only what is left of the budget", burn.Clamp.String()),
				).
				Value(&v.CapPolicy),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Post steps to Slack?").
				Description("Needs SLACK_BOT_TOKEN or a webhook URL in the environment.").
				Value(&v.SlackEnabled),
			huh.NewInput().
				Title("Slack channel").
				Placeholder("#furnace").
				Value(&v.SlackChannel),
			huh.NewSelect[string]().
				Title("Color theme").
				Options(huh.NewOptions(theme.Names()...)...).
				Value(&v.Theme),
		),
	).WithShowHelp(false)
}

// startValues holds the answers of the new-run form.
type startValues struct {
	Balance    string
	Budget     string
	Model      string
	Prompt     string
	Completion string
}

// estimate prices the planned request with the selected model.
func (v *startValues) estimate(ctrl *dashboard.Controller) string {
	p := float64(burn.ParseTokens(v.Prompt))
	c := float64(burn.ParseTokens(v.Completion))
	if p == 0 && c == 0 {
		return "Enter planned token counts to see an estimate."
	}
	return fmt.Sprintf("≈ $%s per request with %s", ctrl.Estimate(v.Model, p, c).StringFixed(2),
		ctrl.Table().NormalizeModelName(v.Model))
}

func newStartForm(v *startValues, ctrl *dashboard.Controller) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Balance (USD)").
				Description("What your provider account holds right now.").
				Value(&v.Balance).
				Validate(validateAmount),
			huh.NewInput().
				Title("Budget for this run (USD)").
				Value(&v.Budget).
				Validate(validateAmount),
			huh.NewSelect[string]().
				Title("Model").
				Options(huh.NewOptions(ctrl.Table().Models()...)...).
				Value(&v.Model),
			huh.NewInput().
				Title("Planned prompt tokens").
				Placeholder("optional").
				Value(&v.Prompt),
			huh.NewInput().
				Title("Planned completion tokens").
				Placeholder("optional").
				Value(&v.Completion),
			huh.NewNote().
				Title("Estimated total").
				DescriptionFunc(func() string { return v.estimate(ctrl) }, v),
		),
	).WithShowHelp(false)
}
