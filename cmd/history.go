package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished runs",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	progressf("  Loading history...\n")
	page, err := loadHistory(ctx)
	if err != nil {
		return err
	}
	records := page.Records
	if len(records) == 0 {
		fmt.Println("\n  No finished runs yet.")
		return nil
	}
	if len(records) > historyLimit {
		records = records[:historyLimit]
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("FINISHED RUNS"))
	fmt.Println()

	now := time.Now()
	var burned float64
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		burned += r.Burned
		rows = append(rows, []string{
			r.FinishedAt.Local().Format("Jan 02 15:04"),
			cli.FormatAge(r.FinishedAt, now),
			cli.FormatUSD(r.Burned),
			cli.FormatUSD(r.Budget),
			cli.FormatUSD(r.Balance),
			cli.FormatNumber(int64(r.Results)),
			r.Model,
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Finished", "Age", "Burned", "Budget", "Balance", "Steps", "Model"},
		Rows:    rows,
	}))
	shown := fmt.Sprintf("%d runs", len(records))
	if page.Total > len(records) {
		shown = fmt.Sprintf("%d of %d runs", len(records), page.Total)
	}
	fmt.Printf("  %s, %s burned  (from %s)\n\n", shown, cli.FormatUSD(burned), page.Source)
	return nil
}

type historyPage struct {
	Records []store.Record
	Source  string
	// Total is the size of the whole log when the store can count it,
	// otherwise len(Records).
	Total int
}

// loadHistory reads the finished-run log straight from a persistent store,
// or from the daemon when the store lives in its memory.
func loadHistory(ctx context.Context) (historyPage, error) {
	if cfg.Daemon.Store != "" && cfg.Daemon.Store != "memory" {
		st, err := store.Open(cfg)
		if err != nil {
			return historyPage{}, err
		}
		defer func() { _ = st.Close() }()
		if h, ok := st.(store.History); ok {
			return readHistory(ctx, h, cfg.Daemon.Store)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, daemonURL()+"/v1/history", nil)
	if err != nil {
		return historyPage{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return historyPage{}, fmt.Errorf("daemon at %s: %w", daemonURL(), err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return historyPage{}, fmt.Errorf("daemon history: HTTP %d", resp.StatusCode)
	}

	page := historyPage{Source: "daemon"}
	if err := json.NewDecoder(resp.Body).Decode(&page.Records); err != nil {
		return historyPage{}, fmt.Errorf("decoding history: %w", err)
	}
	page.Total = len(page.Records)
	return page, nil
}

func readHistory(ctx context.Context, h store.History, source string) (historyPage, error) {
	records, err := h.History(ctx, historyLimit)
	if err != nil {
		return historyPage{}, err
	}
	page := historyPage{Records: records, Source: source, Total: len(records)}
	if c, ok := h.(store.HistoryCounter); ok {
		if n, err := c.HistoryCount(ctx); err == nil {
			page.Total = n
		}
	}
	return page, nil
}
