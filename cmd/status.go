package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/tally"
)

var (
	flagStatusJSON bool
	flagStatusFull bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "One-line tally for menubars and prompts",
	Long: "Prints the latest published snapshot as a single line, e.g.\n" +
		"  🔥 $1.20 / $5.00 (24%)\n" +
		"Use --json for the raw snapshot or --full for the recent steps.",
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagStatusJSON, "json", false, "Print the snapshot as JSON")
	statusCmd.Flags().BoolVar(&flagStatusFull, "full", false, "Print the summary and recent steps")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	remote := tally.NewHTTPStore(daemonURL(), &http.Client{Timeout: 5 * time.Second})
	snap, err := remote.Latest(ctx)
	if err != nil {
		return fmt.Errorf("daemon at %s: %w (start it with `furnace daemon --detach`)", daemonURL(), err)
	}

	switch {
	case flagStatusJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case flagStatusFull:
		fmt.Println()
		fmt.Print(cli.RenderTally(snap, 8))
		return nil
	default:
		fmt.Println(cli.StatusLine(snap))
		return nil
	}
}
