// Package notify sends human-readable burn updates to chat.
//
// Delivery is best effort. Callers wrap a Sink in Async so a slow or failing
// destination never delays or fails a session mutation.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/model"
)

// Message is one notification.
type Message struct {
	Text string `json:"text"`
}

// Sink delivers messages.
type Sink interface {
	Notify(ctx context.Context, m Message) error
}

// Nop discards every message.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Message) error { return nil }

// Recorder keeps every message it is given.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

// Notify records m and returns r.Err.
func (r *Recorder) Notify(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return r.Err
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// AsyncSink sends each message from its own goroutine. Failures are logged
// and dropped.
type AsyncSink struct {
	next    Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

// Async wraps next. timeout bounds each delivery; zero means 10s.
func Async(next Sink, timeout time.Duration) *AsyncSink {
	if timeout <= 0 {
		timeout = requestTimeout
	}
	return &AsyncSink{next: next, timeout: timeout}
}

// Notify starts delivery and returns nil immediately.
func (a *AsyncSink) Notify(_ context.Context, m Message) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, m); err != nil {
			log.Warn().Err(err).Msg("notification failed")
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (a *AsyncSink) Wait() {
	a.wg.Wait()
}

// Multi sends to every sink and returns the first error.
type Multi []Sink

// Notify delivers m to every sink.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var first error
	for _, s := range m {
		if err := s.Notify(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ResultMessage describes an accepted result.
func ResultMessage(s model.Snapshot, r model.Result) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "🔥 Step #%d: %s (%s)\n", r.I, usd(r.Cost), r.Info)
	fmt.Fprintf(&b, "Burned %s of %s · %s remaining (%d%%)", usd(s.Burned), usd(s.Budget), usd(s.Remaining), s.PercentUsed)
	if s.OverBudget {
		b.WriteString("\n⚠️ Budget cap reached")
	}
	return Message{Text: b.String()}
}

// FinishMessage describes a finished session.
func FinishMessage(s model.Snapshot) Message {
	return Message{Text: fmt.Sprintf(
		"✅ Session finished: %d steps, burned %s of %s. Balance now %s.",
		len(s.Results), usd(s.Burned), usd(s.Budget), usd(s.Balance),
	)}
}

// TestMessage is sent by the connectivity check.
func TestMessage() Message {
	return Message{Text: "🔥 Slack test message from Furnace!"}
}

func usd(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// FromConfig builds the sink configured in cfg. It returns Nop when
// notifications are disabled or nothing is configured.
func FromConfig(cfg config.Config) Sink {
	if !cfg.Slack.Enabled {
		return Nop{}
	}

	var sinks Multi
	if s, err := NewSlack(config.GetSlackToken(cfg), config.GetSlackChannel(cfg)); err == nil {
		sinks = append(sinks, s)
	}
	if w := NewWebhook(config.GetSlackWebhookURL(cfg)); w != nil {
		sinks = append(sinks, w)
	}

	switch len(sinks) {
	case 0:
		log.Warn().Msg("slack notifications enabled but no token/channel or webhook configured")
		return Nop{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}
