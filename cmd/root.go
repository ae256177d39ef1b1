// Package cmd implements the furnace CLI commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/tally"
)

var (
	flagConfig  string
	flagAddr    string
	flagVerbose bool
	flagQuiet   bool

	// cfg is the effective configuration, loaded before every command.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "furnace",
	Short: "Track AI spend against a budget while you work",
	Long: "furnace is a burn dashboard for AI spend: start a run with a balance and\n" +
		"a budget, log each request's cost, and watch the budget burn down.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runTUI,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "Daemon address (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
}

func loadConfig(_ *cobra.Command, _ []string) error {
	setupLogging(os.Stderr)

	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFrom(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Daemon.Addr = flagAddr
	}
	log.Debug().Str("config", configPath()).Str("addr", cfg.Daemon.Addr).Msg("config loaded")
	return nil
}

// setupLogging points the global logger at w.
func setupLogging(w io.Writer) {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

// logToFile redirects logging to the furnace log file so it does not
// draw over a full-screen view. The returned func closes the file.
func logToFile() func() {
	path := filepath.Join(config.DataDir(), "furnace.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		setupLogging(io.Discard)
		return func() {}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600) //nolint:gosec // path under the user's data dir
	if err != nil {
		setupLogging(io.Discard)
		return func() {}
	}
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	return func() { _ = f.Close() }
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.Path()
}

func configExists() bool {
	_, err := os.Stat(configPath())
	return err == nil
}

func saveConfig() error {
	if err := config.SaveTo(configPath(), cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

// daemonURL is the base URL of the configured daemon.
func daemonURL() string {
	return tally.BaseURL(cfg.Daemon.Addr)
}

func progressf(format string, args ...any) {
	if flagQuiet {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}
