package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/theirongolddev/furnace/internal/model"
)

// StreamPath is the daemon's WebSocket event stream.
const StreamPath = "/v1/ws"

// StreamSubscriber subscribes to the daemon's WebSocket event stream and
// reconnects when the connection drops.
type StreamSubscriber struct {
	URL            string
	ReconnectDelay time.Duration
}

// NewStreamSubscriber returns a subscriber for the daemon at baseURL.
func NewStreamSubscriber(baseURL string) *StreamSubscriber {
	return &StreamSubscriber{
		URL:            toWebSocketURL(BaseURL(baseURL)) + StreamPath,
		ReconnectDelay: 2 * time.Second,
	}
}

// Subscribe dials the stream. The first dial must succeed; later drops are
// retried until ctx is canceled.
func (s *StreamSubscriber) Subscribe(ctx context.Context) (<-chan model.Snapshot, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan model.Snapshot, 1)
	go func() {
		defer close(ch)
		for {
			err := s.pump(ctx, conn, ch)
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			if ctx.Err() != nil {
				return
			}
			log.Debug().Err(err).Str("url", s.URL).Msg("tally stream dropped, reconnecting")

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.reconnectDelay()):
				}
				conn, err = s.dial(ctx)
				if err == nil {
					break
				}
				log.Debug().Err(err).Msg("tally stream reconnect failed")
			}
		}
	}()
	return ch, nil
}

func (s *StreamSubscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, s.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("tally: connecting to stream: %w", err)
	}
	conn.SetReadLimit(maxBodySize)
	return conn, nil
}

func (s *StreamSubscriber) pump(ctx context.Context, conn *websocket.Conn, ch chan model.Snapshot) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug().Err(err).Msg("tally stream: bad event")
			continue
		}
		offer(ch, ev.Snapshot.Sanitize())
	}
}

func (s *StreamSubscriber) reconnectDelay() time.Duration {
	if s.ReconnectDelay <= 0 {
		return 2 * time.Second
	}
	return s.ReconnectDelay
}

func toWebSocketURL(httpURL string) string {
	if strings.HasPrefix(httpURL, "https://") {
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	}
	if strings.HasPrefix(httpURL, "http://") {
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}
