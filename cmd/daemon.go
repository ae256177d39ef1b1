package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/daemon"
	"github.com/theirongolddev/furnace/internal/dashboard"
	"github.com/theirongolddev/furnace/internal/notify"
	"github.com/theirongolddev/furnace/internal/store"
	"github.com/theirongolddev/furnace/internal/tally"
)

// furnacedState is written next to the pid file while the daemon runs so
// status can describe it even when the API does not answer.
type furnacedState struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	Store     string    `json:"store"`
	// Slot names where the shared snapshot lives: a sqlite path or a
	// redis address and key. Empty for the memory store.
	Slot   string `json:"slot,omitempty"`
	Config string `json:"config"`
	Slack  bool   `json:"slack"`
}

// slotLocation describes the configured store's backing location.
func slotLocation(c config.Config) string {
	switch strings.ToLower(c.Daemon.Store) {
	case "sqlite":
		return config.SQLitePath(c)
	case "redis":
		return c.Daemon.Redis.Addr + " key " + c.Daemon.Redis.Key
	}
	return ""
}

// pidFiles manages the daemon's pid file and the state file beside it.
type pidFiles string

func (p pidFiles) statePath() string { return string(p) + ".json" }

func (p pidFiles) write(st furnacedState) error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	if err := os.WriteFile(string(p), []byte(strconv.Itoa(st.PID)+"\n"), 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.statePath(), append(data, '\n'), 0o600)
}

func (p pidFiles) pid() (int, error) {
	//nolint:gosec // daemon pid path is configured by the local user
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", p)
	}
	return pid, nil
}

func (p pidFiles) state() (furnacedState, error) {
	var st furnacedState
	//nolint:gosec // daemon state path is configured by the local user
	data, err := os.ReadFile(p.statePath())
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(data, &st)
	return st, err
}

func (p pidFiles) clear() {
	_ = os.Remove(string(p))
	_ = os.Remove(p.statePath())
}

// running returns the live daemon's pid. A stale pid file is removed.
func (p pidFiles) running() (int, bool, error) {
	pid, err := p.pid()
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !processAlive(pid) {
		p.clear()
		return pid, false, nil
	}
	return pid, true, nil
}

var (
	flagDaemonDetach       bool
	flagDaemonPIDFile      string
	flagDaemonLogFile      string
	flagDaemonEventsBuffer int
	flagDaemonStore        string
	flagDaemonChild        bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the local tally daemon (snapshot slot, streams, session API)",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process, slot and API status",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	defaultPID := filepath.Join(config.DataDir(), "furnaced.pid")
	defaultLog := filepath.Join(config.DataDir(), "furnaced.log")

	daemonCmd.PersistentFlags().StringVar(&flagDaemonPIDFile, "pid-file", defaultPID, "PID file path")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonLogFile, "log-file", defaultLog, "Log file path for detached mode")
	daemonCmd.PersistentFlags().IntVar(&flagDaemonEventsBuffer, "events-buffer", 0, "Max in-memory events retained (default from config)")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonStore, "store", "", "Snapshot store: memory, sqlite or redis (default from config)")

	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if flagDaemonDetach && flagDaemonChild {
		return errors.New("invalid daemon launch mode")
	}
	if flagDaemonStore != "" {
		cfg.Daemon.Store = flagDaemonStore
	}
	if flagDaemonEventsBuffer > 0 {
		cfg.Daemon.EventsBuffer = flagDaemonEventsBuffer
	}

	files := pidFiles(flagDaemonPIDFile)
	if pid, alive, err := files.running(); err != nil {
		return err
	} else if alive {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	if flagDaemonDetach {
		return startDaemonDetached()
	}
	return runDaemonForeground(files)
}

func startDaemonDetached() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	args := append(filterDetachArg(os.Args[1:]), "--child")

	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}
	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	child := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	child.Stdout = logf
	child.Stderr = logf
	child.Env = os.Environ()
	if err := child.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d)\n", child.Process.Pid)
	fmt.Printf("  Store: %s %s\n", cfg.Daemon.Store, slotLocation(cfg))
	fmt.Printf("  API: %s/v1/status\n", daemonURL())
	fmt.Printf("  Log: %s\n", flagDaemonLogFile)
	return nil
}

func runDaemonForeground(files pidFiles) error {
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Daemon.Store, err)
	}
	defer func() { _ = st.Close() }()

	session, err := dashboard.FromConfig(cfg)
	if err != nil {
		return err
	}
	sink := notify.Async(notify.FromConfig(cfg), notifyTimeout)
	defer sink.Wait()
	session.Sink = sink

	slack, err := notify.NewSlack(config.GetSlackToken(cfg), config.GetSlackChannel(cfg))
	if err != nil {
		log.Debug().Err(err).Msg("chat posting disabled")
		slack = nil
	}

	state := furnacedState{
		PID:       os.Getpid(),
		Addr:      cfg.Daemon.Addr,
		StartedAt: time.Now(),
		Store:     cfg.Daemon.Store,
		Slot:      slotLocation(cfg),
		Config:    configPath(),
		Slack:     slack != nil,
	}
	if err := files.write(state); err != nil {
		return err
	}
	defer files.clear()

	svc := daemon.New(daemon.Config{
		Addr:         cfg.Daemon.Addr,
		EventsBuffer: cfg.Daemon.EventsBuffer,
		StoreName:    cfg.Daemon.Store,
		FlowURL:      func() string { return config.GetConnectFlowURL(cfg) },
	}, daemon.Deps{
		Store:   st,
		Slack:   slack,
		Session: session,
	})

	fmt.Printf("  furnace daemon listening on %s\n", daemonURL())
	fmt.Printf("  Snapshot store: %s %s\n", state.Store, state.Slot)
	fmt.Printf("  Stop with: furnace daemon stop --pid-file %s\n", files)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	files := pidFiles(flagDaemonPIDFile)
	pid, alive, err := files.running()
	switch {
	case err != nil:
		return err
	case pid == 0:
		fmt.Printf("  Daemon: not running (no pid file at %s)\n", files)
		return nil
	case !alive:
		fmt.Printf("  Daemon: stale pid file removed (pid %d not alive)\n", pid)
		return nil
	}

	state, err := files.state()
	if err != nil {
		log.Debug().Err(err).Msg("daemon state file unreadable")
		state = furnacedState{PID: pid, Addr: cfg.Daemon.Addr, Store: cfg.Daemon.Store}
	}
	if flagAddr != "" {
		state.Addr = cfg.Daemon.Addr
	}
	printDaemonState(state)

	api, err := fetchDaemonStatus(state.Addr)
	if err != nil {
		fmt.Printf("  API status: %v\n", err)
		return nil
	}
	printDaemonAPI(api)
	return nil
}

func printDaemonState(st furnacedState) {
	fmt.Printf("  Daemon PID: %d (up %s)\n", st.PID, cli.FormatAge(st.StartedAt, time.Now()))
	fmt.Printf("  Address: %s\n", tally.BaseURL(st.Addr))
	fmt.Printf("  Store: %s\n", st.Store)
	if st.Slot != "" {
		fmt.Printf("  Slot: %s\n", st.Slot)
	}
	if st.Config != "" {
		fmt.Printf("  Config: %s\n", st.Config)
	}
}

func printDaemonAPI(st daemon.Status) {
	if st.LastSaveAt.IsZero() {
		fmt.Printf("  Last save: none yet\n")
	} else {
		fmt.Printf("  Last save: %s (%d total)\n", st.LastSaveAt.Local().Format(time.RFC3339), st.SaveCount)
	}
	fmt.Printf("  Stream subscribers: %d\n", st.SubscriberCount)
	fmt.Printf("  Slack: %v\n", st.SlackEnabled)
	fmt.Printf("  Tally: %s\n", cli.StatusLine(st.Latest))
	if st.Latest.Active && st.Latest.SessionID != "" {
		fmt.Printf("  Slot held by run %s\n", st.Latest.SessionID)
	}
	if st.LastError != "" {
		fmt.Printf("  Last error: %s\n", st.LastError)
	}
}

func fetchDaemonStatus(addr string) (daemon.Status, error) {
	var st daemon.Status
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tally.BaseURL(addr)+"/v1/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return st, fmt.Errorf("unreachable (%w)", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("malformed response (%w)", err)
	}
	return st, nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	files := pidFiles(flagDaemonPIDFile)
	pid, alive, err := files.running()
	if err != nil {
		return err
	}
	if !alive {
		return errors.New("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			files.clear()
			fmt.Printf("  Stopped daemon (pid %d)\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit in time", pid)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
