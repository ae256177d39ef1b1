package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/burn"
	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/config"
)

var (
	flagEstModel      string
	flagEstPrompt     string
	flagEstCompletion string
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Price a planned request from token counts",
	Example: "  furnace estimate --model gpt-4o-mini --prompt 2000 --completion 1000\n" +
		"  furnace estimate -m claude-3-5-sonnet -p 12k -c 1.5k",
	RunE: runEstimate,
}

func init() {
	estimateCmd.Flags().StringVarP(&flagEstModel, "model", "m", "", "Model (default from config)")
	estimateCmd.Flags().StringVarP(&flagEstPrompt, "prompt", "p", "0", "Prompt tokens")
	estimateCmd.Flags().StringVarP(&flagEstCompletion, "completion", "c", "0", "Completion tokens")
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(_ *cobra.Command, _ []string) error {
	table, err := config.BuildPriceTable(cfg)
	if err != nil {
		return err
	}

	name := flagEstModel
	if name == "" {
		name = cfg.General.DefaultModel
	}
	pricing, found := table.Lookup(name)
	resolved := table.NormalizeModelName(name)
	if !found {
		resolved = table.DefaultModel()
	}

	prompt := burn.ParseTokens(flagEstPrompt)
	completion := burn.ParseTokens(flagEstCompletion)
	total := burn.Amount(table.Estimate(name, float64(prompt), float64(completion)))

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Estimate",
		Headers: []string{"", "Tokens", "Rate / 1K", "Cost"},
		Rows: [][]string{
			{"Prompt", cli.FormatTokens(prompt), cli.FormatRate(pricing.InputPer1K),
				cli.FormatDecimal(burn.Amount(float64(prompt) / 1000 * pricing.InputPer1K))},
			{"Completion", cli.FormatTokens(completion), cli.FormatRate(pricing.OutputPer1K),
				cli.FormatDecimal(burn.Amount(float64(completion) / 1000 * pricing.OutputPer1K))},
			{"Total", cli.FormatTokens(prompt + completion), "", cli.FormatDecimal(total)},
		},
	}))
	if !found {
		fmt.Printf("  Unknown model %q, priced as %s\n", name, resolved)
	} else {
		fmt.Printf("  Model: %s\n", resolved)
	}
	fmt.Println()
	return nil
}
