package cmd

import (
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/tally"
	"github.com/theirongolddev/furnace/internal/tui"
	"github.com/theirongolddev/furnace/internal/tui/theme"
)

var flagTallyTransport string

var tallyCmd = &cobra.Command{
	Use:   "tally",
	Short: "Pop-out live tally that follows the dashboard",
	Long: "Follows the snapshot the dashboard publishes to the daemon, either by\n" +
		"polling the slot every 1.5s (poll) or over the daemon's WebSocket (ws).",
	RunE: runTally,
}

func init() {
	tallyCmd.Flags().StringVar(&flagTallyTransport, "transport", "poll", "Subscription transport: poll or ws")
	rootCmd.AddCommand(tallyCmd)
}

// tallySubscriber returns the subscriber for transport.
func tallySubscriber(transport string) (tally.Subscriber, error) {
	switch transport {
	case "", "poll":
		remote := tally.NewHTTPStore(daemonURL(), &http.Client{Timeout: 5 * time.Second})
		return tally.NewPoller(remote), nil
	case "ws":
		return tally.NewStreamSubscriber(daemonURL()), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want poll or ws)", transport)
	}
}

func runTally(_ *cobra.Command, _ []string) error {
	sub, err := tallySubscriber(flagTallyTransport)
	if err != nil {
		return err
	}

	theme.SetActive(cfg.Appearance.Theme)
	lipgloss.SetColorProfile(termenv.TrueColor)

	closeLog := logToFile()
	defer closeLog()

	source := flagTallyTransport
	if source == "" {
		source = "poll"
	}
	p := tea.NewProgram(tui.NewTally(sub, source+" "+daemonURL()), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
