package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/cli"
	"github.com/theirongolddev/furnace/internal/daemon"
)

var (
	flagSessBalance    string
	flagSessBudget     string
	flagSessCost       string
	flagSessModel      string
	flagSessPrompt     string
	flagSessCompletion string
	flagSessDesc       string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive the daemon-owned burn session from scripts",
	RunE:  sessionAction(http.MethodGet, "/v1/session", nil),
}

func init() {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run",
		RunE: sessionAction(http.MethodPost, "/v1/session/start", func() map[string]any {
			return optionalFields(map[string]string{"balance": flagSessBalance, "budget": flagSessBudget})
		}),
	}
	startCmd.Flags().StringVar(&flagSessBalance, "balance", "", "Starting balance (default from config)")
	startCmd.Flags().StringVar(&flagSessBudget, "budget", "", "Budget cap (default from config)")

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Log a step by cost or by token counts",
		Example: "  furnace session add --cost 0.42 --desc \"rerank\"\n" +
			"  furnace session add --model gpt-4o --prompt 12k --completion 800",
		RunE: sessionAction(http.MethodPost, "/v1/session/add", func() map[string]any {
			return optionalFields(map[string]string{
				"cost":              flagSessCost,
				"model":             flagSessModel,
				"prompt_tokens":     flagSessPrompt,
				"completion_tokens": flagSessCompletion,
				"description":       flagSessDesc,
			})
		}),
	}
	addCmd.Flags().StringVar(&flagSessCost, "cost", "", "Manual cost in USD")
	addCmd.Flags().StringVar(&flagSessModel, "model", "", "Model for token pricing")
	addCmd.Flags().StringVar(&flagSessPrompt, "prompt", "", "Prompt tokens")
	addCmd.Flags().StringVar(&flagSessCompletion, "completion", "", "Completion tokens")
	addCmd.Flags().StringVar(&flagSessDesc, "desc", "", "Description")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the run",
		RunE: sessionAction(http.MethodPost, "/v1/session/reset", func() map[string]any {
			return optionalFields(map[string]string{"balance": flagSessBalance, "budget": flagSessBudget})
		}),
	}
	resetCmd.Flags().StringVar(&flagSessBalance, "balance", "", "New default balance")
	resetCmd.Flags().StringVar(&flagSessBudget, "budget", "", "New default budget")

	sessionCmd.AddCommand(
		startCmd,
		addCmd,
		&cobra.Command{Use: "undo", Short: "Remove the last step", RunE: sessionAction(http.MethodPost, "/v1/session/undo", nil)},
		&cobra.Command{Use: "finish", Short: "Finish and settle the balance", RunE: sessionAction(http.MethodPost, "/v1/session/finish", nil)},
		resetCmd,
	)
	rootCmd.AddCommand(sessionCmd)
}

func optionalFields(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func sessionAction(method, path string, body func() map[string]any) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var payload map[string]any
		if body != nil {
			payload = body()
		}
		resp, err := callSession(ctx, method, path, payload)
		if err != nil {
			return err
		}

		fmt.Println(cli.StatusLine(resp.Snapshot))
		if !resp.OK {
			reason := resp.Outcome
			if reason == "" {
				reason = "rejected"
			}
			return fmt.Errorf("%s: %s", path, reason)
		}
		return nil
	}
}

func callSession(ctx context.Context, method, path string, payload map[string]any) (daemon.SessionResponse, error) {
	var out daemon.SessionResponse

	var body io.Reader
	if method == http.MethodPost {
		data, err := json.Marshal(payload)
		if err != nil {
			return out, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, daemonURL()+path, body)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("daemon at %s: %w", daemonURL(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("daemon %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return out, nil
}
