package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/notify"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Chat notification tools",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message with the configured Slack credentials",
	RunE:  runNotifyTest,
}

var notifyPostCmd = &cobra.Command{
	Use:   "post <text>",
	Short: "Post a message to the default channel",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNotifyPost,
}

func init() {
	notifyCmd.AddCommand(notifyTestCmd, notifyPostCmd)
	rootCmd.AddCommand(notifyCmd)
}

func runNotifyTest(_ *cobra.Command, _ []string) error {
	return sendChat(notify.TestMessage())
}

func runNotifyPost(_ *cobra.Command, args []string) error {
	return sendChat(notify.Message{Text: strings.Join(args, " ")})
}

// sendChat delivers m through the bot token when configured, otherwise the
// incoming webhook.
func sendChat(m notify.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slack, err := notify.NewSlack(config.GetSlackToken(cfg), config.GetSlackChannel(cfg))
	if err == nil {
		ts, err := slack.Post(ctx, m.Text)
		if err != nil {
			return chatError(err)
		}
		fmt.Printf("  Sent to %s (ts %s)\n", slack.Channel(), ts)
		return nil
	}

	if hook := notify.NewWebhook(config.GetSlackWebhookURL(cfg)); hook != nil {
		if err := hook.Notify(ctx, m); err != nil {
			return chatError(err)
		}
		fmt.Println("  Sent via incoming webhook")
		return nil
	}

	return errors.New("slack is not configured: set SLACK_BOT_TOKEN and SLACK_DEFAULT_CHANNEL, " +
		"or SLACK_WEBHOOK_URL (or the [slack] section of " + configPath() + ")")
}

func chatError(err error) error {
	switch {
	case errors.Is(err, notify.ErrUnauthorized):
		return errors.New("slack rejected the bot token; check its scopes or issue a new one")
	case errors.Is(err, notify.ErrRateLimited):
		return errors.New("rate limited by slack; try again in a minute")
	default:
		return fmt.Errorf("slack: %w", err)
	}
}
