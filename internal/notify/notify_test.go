package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/model"
)

func slackServer(t *testing.T, status int, reply string) (*httptest.Server, *[]map[string]string) {
	t.Helper()
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNewSlackRequiresConfig(t *testing.T) {
	_, err := NewSlack("", "#c")
	assert.ErrorIs(t, err, ErrMissingConfig)
	_, err = NewSlack("xoxb", " ")
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestSlackPost(t *testing.T) {
	srv, got := slackServer(t, http.StatusOK, `{"ok":true,"ts":"1700000000.000100"}`)
	s, err := NewSlack("xoxb-test", "furnace-alerts")
	require.NoError(t, err)
	s = s.WithAPIURL(srv.URL)

	ts, err := s.Post(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000100", ts)
	require.Len(t, *got, 1)
	assert.Equal(t, "furnace-alerts", (*got)[0]["channel"])
	assert.Equal(t, "hello", (*got)[0]["text"])
}

func TestSlackErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		check  func(t *testing.T, err error)
	}{
		{"api error", http.StatusOK, `{"ok":false,"error":"channel_not_found"}`, func(t *testing.T, err error) {
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "channel_not_found", apiErr.Code)
		}},
		{"bad token", http.StatusOK, `{"ok":false,"error":"invalid_auth"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrUnauthorized)
		}},
		{"rate limited", http.StatusTooManyRequests, ``, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrRateLimited)
		}},
		{"server error", http.StatusBadGateway, ``, func(t *testing.T, err error) {
			assert.ErrorContains(t, err, "502")
		}},
		{"no error code", http.StatusOK, `{"ok":false}`, func(t *testing.T, err error) {
			assert.ErrorContains(t, err, "slack_error")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := slackServer(t, tt.status, tt.reply)
			s, err := NewSlack("xoxb-test", "c")
			require.NoError(t, err)
			_, err = s.WithAPIURL(srv.URL).Post(context.Background(), "x")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSlackRejectsEmptyText(t *testing.T) {
	s, err := NewSlack("xoxb-test", "c")
	require.NoError(t, err)
	_, err = s.Post(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestWebhook(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
	}))
	defer srv.Close()

	assert.Nil(t, NewWebhook(""))
	require.NoError(t, NewWebhook(srv.URL).Notify(context.Background(), Message{Text: "hi"}))
	assert.JSONEq(t, `{"text":"hi"}`, body)
}

func TestAsyncSwallowsFailures(t *testing.T) {
	rec := &Recorder{Err: errors.New("down")}
	a := Async(rec, time.Second)

	require.NoError(t, a.Notify(context.Background(), Message{Text: "one"}))
	require.NoError(t, a.Notify(context.Background(), Message{Text: "two"}))
	a.Wait()

	assert.Len(t, rec.Messages(), 2)
}

func TestMultiReturnsFirstError(t *testing.T) {
	bad := &Recorder{Err: errors.New("first")}
	good := &Recorder{}

	err := Multi{bad, good}.Notify(context.Background(), Message{Text: "x"})
	assert.EqualError(t, err, "first")
	assert.Len(t, good.Messages(), 1)
}

func TestMessages(t *testing.T) {
	s := model.Snapshot{Burned: 5, Budget: 5, Remaining: 0, Balance: 20, PercentUsed: 100, OverBudget: true,
		Results: []model.Result{{I: 1, Cost: 5, Info: "manual"}}}

	msg := ResultMessage(s, s.Results[0])
	assert.Contains(t, msg.Text, "Step #1: $5.00 (manual)")
	assert.Contains(t, msg.Text, "Burned $5.00 of $5.00")
	assert.Contains(t, msg.Text, "cap reached")

	fin := FinishMessage(s)
	assert.True(t, strings.Contains(fin.Text, "1 steps") && strings.Contains(fin.Text, "$20.00"), fin.Text)

	assert.NotEmpty(t, TestMessage().Text)
}

func TestFromConfig(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_DEFAULT_CHANNEL", "")
	t.Setenv("SLACK_WEBHOOK_URL", "")

	cfg := config.DefaultConfig()
	assert.IsType(t, Nop{}, FromConfig(cfg))

	cfg.Slack.Enabled = true
	assert.IsType(t, Nop{}, FromConfig(cfg))

	cfg.Slack.BotToken = "xoxb"
	cfg.Slack.Channel = "#c"
	assert.IsType(t, &Slack{}, FromConfig(cfg))

	cfg.Slack.WebhookURL = "http://127.0.0.1:1/hook"
	assert.IsType(t, Multi{}, FromConfig(cfg))
}
