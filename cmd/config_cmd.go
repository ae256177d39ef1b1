package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	fmt.Printf("  Config file: %s\n", configPath())
	if configExists() {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Default balance: $%.2f\n", cfg.General.DefaultBalance)
	fmt.Printf("    Default budget:  $%.2f\n", cfg.General.DefaultBudget)
	fmt.Printf("    Default model:   %s\n", cfg.General.DefaultModel)
	fmt.Printf("    Cap policy:      %s\n", cfg.General.CapPolicy)
	fmt.Println()

	fmt.Println("  [Pricing]")
	if cfg.Pricing.DefaultModel != "" {
		fmt.Printf("    Default model: %s\n", cfg.Pricing.DefaultModel)
	}
	if cfg.Pricing.File != "" {
		fmt.Printf("    Price file:    %s\n", cfg.Pricing.File)
	}
	fmt.Printf("    Overrides:     %d\n", len(cfg.Pricing.Overrides))
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address: %s\n", cfg.Daemon.Addr)
	fmt.Printf("    Store:   %s\n", cfg.Daemon.Store)
	switch cfg.Daemon.Store {
	case "sqlite":
		fmt.Printf("    SQLite:  %s\n", config.SQLitePath(cfg))
	case "redis":
		fmt.Printf("    Redis:   %s (key %s)\n", cfg.Daemon.Redis.Addr, cfg.Daemon.Redis.Key)
	}
	fmt.Println()

	fmt.Println("  [Slack]")
	fmt.Printf("    Notifications: %v\n", cfg.Slack.Enabled)
	if tok := config.GetSlackToken(cfg); tok != "" {
		fmt.Printf("    Bot token: %s\n", maskSecret(tok))
	} else {
		fmt.Println("    Bot token: not configured")
	}
	if ch := config.GetSlackChannel(cfg); ch != "" {
		fmt.Printf("    Channel:   %s\n", ch)
	}
	if u := config.GetSlackWebhookURL(cfg); u != "" {
		fmt.Printf("    Webhook:   %s\n", maskSecret(u))
	}
	fmt.Println()

	fmt.Println("  [Connect]")
	if u := config.GetConnectFlowURL(cfg); u != "" {
		fmt.Printf("    Flow URL: %s\n", u)
	} else {
		fmt.Println("    Flow URL: not configured")
	}
	fmt.Println()

	fmt.Println("  [Appearance]")
	fmt.Printf("    Theme: %s\n", cfg.Appearance.Theme)
	fmt.Println()

	fmt.Println("  Run `furnace setup` to reconfigure.")
	return nil
}
