package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/connect"
)

var flagConnectReturn string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Print the external authorization URL",
	Long: "Prints the authorization flow URL with the return address appended.\n" +
		"The daemon serves the same redirect at /api/connect/start.",
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&flagConnectReturn, "return", "", "Return URL (default the daemon's callback)")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(_ *cobra.Command, _ []string) error {
	returnTo := flagConnectReturn
	if returnTo == "" {
		returnTo = daemonURL() + "/api/connect/callback"
	}

	u, err := connect.RedirectURL(config.GetConnectFlowURL(cfg), returnTo)
	if errors.Is(err, connect.ErrFlowURLMissing) {
		return errors.New("no flow URL configured: set DESCOPE_FLOW_URL or [connect] flow_url")
	}
	if err != nil {
		return err
	}
	fmt.Println(u)
	return nil
}
