package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	slackAPIURL    = "https://slack.com/api/chat.postMessage"
	requestTimeout = 10 * time.Second
	maxBodySize    = 1 << 20 // 1 MB
)

var (
	// ErrUnauthorized indicates the bot token is missing scopes or invalid.
	ErrUnauthorized = errors.New("notify: unauthorized (bot token invalid or revoked)")
	// ErrRateLimited indicates the chat API rate limit was hit.
	ErrRateLimited = errors.New("notify: rate limited")
	// ErrMissingConfig indicates the token or channel is unset.
	ErrMissingConfig = errors.New("notify: slack token or channel missing")
	// ErrEmptyMessage is returned for a message with no text.
	ErrEmptyMessage = errors.New("notify: missing text")
)

// APIError is a chat API response with ok=false.
type APIError struct {
	Code string
}

func (e *APIError) Error() string {
	return "notify: slack error: " + e.Code
}

// Slack posts messages with chat.postMessage.
type Slack struct {
	token   string
	channel string
	apiURL  string
	http    *http.Client
}

// NewSlack creates a Slack sink. Returns ErrMissingConfig if token or
// channel is empty.
func NewSlack(token, channel string) (*Slack, error) {
	token = strings.TrimSpace(token)
	channel = strings.TrimSpace(channel)
	if token == "" || channel == "" {
		return nil, ErrMissingConfig
	}
	return &Slack{
		token:   token,
		channel: channel,
		apiURL:  slackAPIURL,
		http:    &http.Client{},
	}, nil
}

// WithAPIURL returns a copy posting to url instead of the public API.
func (s *Slack) WithAPIURL(url string) *Slack {
	c := *s
	c.apiURL = url
	return &c
}

// Channel returns the destination channel.
func (s *Slack) Channel() string {
	return s.channel
}

// Notify posts m to the default channel.
func (s *Slack) Notify(ctx context.Context, m Message) error {
	_, err := s.Post(ctx, m.Text)
	return err
}

// Post sends text and returns the message timestamp.
func (s *Slack) Post(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	payload, err := json.Marshal(map[string]string{
		"channel": s.channel,
		"text":    text,
	})
	if err != nil {
		return "", fmt.Errorf("notify: encoding message: %w", err)
	}

	body, err := s.post(ctx, payload)
	if err != nil {
		return "", err
	}

	res := gjson.ParseBytes(body)
	if !res.Get("ok").Bool() {
		code := res.Get("error").String()
		switch code {
		case "invalid_auth", "not_authed", "token_revoked", "account_inactive", "missing_scope":
			return "", fmt.Errorf("%w: %s", ErrUnauthorized, code)
		case "ratelimited":
			return "", ErrRateLimited
		case "":
			code = "slack_error"
		}
		return "", &APIError{Code: code}
	}
	return res.Get("ts").String(), nil
}

func (s *Slack) post(ctx context.Context, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("notify: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notify: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("notify: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("notify: reading response: %w", err)
	}
	return body, nil
}

// Webhook posts to a Slack-compatible incoming webhook.
type Webhook struct {
	url  string
	http *http.Client
}

// NewWebhook returns a webhook sink, or nil if url is empty.
func NewWebhook(url string) *Webhook {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	return &Webhook{url: url, http: &http.Client{}}
}

// Notify posts {"text": ...} to the webhook.
func (w *Webhook) Notify(ctx context.Context, m Message) error {
	if strings.TrimSpace(m.Text) == "" {
		return ErrEmptyMessage
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("notify: encoding message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook status %d", resp.StatusCode)
	}
	return nil
}
