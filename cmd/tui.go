package cmd

import (
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/dashboard"
	"github.com/theirongolddev/furnace/internal/notify"
	"github.com/theirongolddev/furnace/internal/store"
	"github.com/theirongolddev/furnace/internal/tally"
	"github.com/theirongolddev/furnace/internal/tui"
	"github.com/theirongolddev/furnace/internal/tui/theme"
)

const notifyTimeout = 10 * time.Second

var (
	flagNoPublish bool
	flagSetup     bool
)

var tuiCmd = &cobra.Command{
	Use:     "tui",
	Aliases: []string{"dashboard"},
	Short:   "Launch the interactive burn dashboard",
	RunE:    runTUI,
}

func init() {
	tuiCmd.Flags().BoolVar(&flagNoPublish, "no-publish", false, "Do not publish snapshots to the daemon")
	tuiCmd.Flags().BoolVar(&flagSetup, "setup", false, "Run the setup wizard first")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(_ *cobra.Command, _ []string) error {
	theme.SetActive(cfg.Appearance.Theme)

	// Force TrueColor profile so all background styling produces ANSI codes
	lipgloss.SetColorProfile(termenv.TrueColor)

	closeLog := logToFile()
	defer closeLog()

	opts, err := dashboard.FromConfig(cfg)
	if err != nil {
		return err
	}

	var pubs []tally.Publisher
	if !flagNoPublish {
		remote := tally.NewHTTPStore(daemonURL(), &http.Client{Timeout: 5 * time.Second})
		async := tally.Async(tally.StorePublisher{Store: remote})
		defer func() { _ = async.Close() }()
		pubs = append(pubs, async)
		// a run the daemon (or another dashboard) holds blocks starting here
		opts.Slot = remote
	}
	opts.Publisher = tally.NewFanout(pubs...)

	sink := notify.Async(notify.FromConfig(cfg), notifyTimeout)
	defer sink.Wait()
	opts.Sink = sink

	history, closeHistory := openHistory(cfg)
	defer closeHistory()
	opts.History = history

	ctrl := dashboard.New(opts)
	app := tui.NewApp(ctrl, tui.Options{
		History:   history,
		Config:    cfg,
		NeedSetup: flagSetup || !configExists(),
	})

	log.Info().Str("daemon", daemonURL()).Bool("publish", !flagNoPublish).Msg("dashboard starting")
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// openHistory opens the configured store for the finished-run log. The
// memory backend and stores that fail to open fall back to an in-process
// log that lives as long as the dashboard.
func openHistory(c config.Config) (store.History, func()) {
	st, err := store.Open(c)
	if err != nil {
		log.Warn().Err(err).Str("store", c.Daemon.Store).Msg("history store unavailable; keeping history in memory")
		return store.NewSlot(), func() {}
	}
	h, ok := st.(store.History)
	if !ok {
		_ = st.Close()
		return store.NewSlot(), func() {}
	}
	return h, func() { _ = st.Close() }
}
