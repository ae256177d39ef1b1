package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/burn"
	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/config"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the price table",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(_ *cobra.Command, _ []string) error {
	table, err := config.BuildPriceTable(cfg)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("PRICE TABLE  USD per 1K tokens"))
	fmt.Println()

	models := table.Models()
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		p, _ := table.Lookup(m)
		name := m
		if m == table.DefaultModel() {
			name += " *"
		}
		rows = append(rows, []string{
			name,
			cli.FormatRate(p.InputPer1K),
			cli.FormatRate(p.OutputPer1K),
			cli.FormatDecimal(burn.Amount(table.Estimate(m, 1000, 1000))),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Model", "Input", "Output", "1K in + 1K out"},
		Rows:    rows,
	}))
	fmt.Printf("  * default: unknown models are priced as %s\n", table.DefaultModel())
	if cfg.Pricing.File != "" {
		fmt.Printf("  Price file: %s\n", cfg.Pricing.File)
	}
	fmt.Println()
	return nil
}
