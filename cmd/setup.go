package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "First-time setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	table, err := config.BuildPriceTable(cfg)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("  Welcome to furnace!")
	fmt.Println()

	vals := tui.SetupValuesFrom(cfg)
	if vals.Model == "" {
		vals.Model = table.DefaultModel()
	}
	if err := tui.NewSetupForm(&vals, table.Models()).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("  Setup canceled; nothing was saved.")
			return nil
		}
		return err
	}
	vals.Apply(&cfg)

	if err := saveConfig(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", configPath())
	if cfg.Slack.Enabled && config.GetSlackToken(cfg) == "" && config.GetSlackWebhookURL(cfg) == "" {
		fmt.Println("  Slack is enabled but no credentials are set: export SLACK_BOT_TOKEN")
		fmt.Println("  (or add bot_token / webhook_url under [slack]), then `furnace notify test`.")
	}
	fmt.Println("  Run `furnace setup` anytime to reconfigure.")
	fmt.Println()
	return nil
}

// maskSecret shows the ends of a secret.
func maskSecret(key string) string {
	if len(key) > 16 {
		return key[:8] + "..." + key[len(key)-4:]
	}
	if len(key) > 4 {
		return key[:4] + "..."
	}
	return "****"
}
