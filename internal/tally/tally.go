// Package tally moves session snapshots between views.
//
// A Publisher accepts snapshots after every session mutation; a Subscriber
// delivers them to another view. Implementations are interchangeable: Bus
// for views in the same process, StorePublisher/Poller over a shared
// store.SnapshotStore, and StreamSubscriber over the daemon's WebSocket feed.
//
// Subscriber channels hold at most one pending snapshot. A slow reader
// skips intermediate snapshots but always sees the latest one.
package tally

import (
	"context"
	"time"

	"github.com/theirongolddev/furnace/internal/model"
)

// Topic is the fixed name snapshots are published under.
const Topic = "furnace-tally"

// Event types carried by Event.Type.
const (
	EventSnapshot = "snapshot"
	EventUpdate   = "tally_update"
)

// Publisher accepts snapshots.
type Publisher interface {
	Publish(ctx context.Context, s model.Snapshot) error
}

// Subscriber delivers snapshots until ctx is canceled, then closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan model.Snapshot, error)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, s model.Snapshot) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, s model.Snapshot) error {
	return f(ctx, s)
}

// Event is the envelope used by the daemon's event log and streams.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Topic     string         `json:"topic"`
	Timestamp time.Time      `json:"timestamp"`
	Snapshot  model.Snapshot `json:"snapshot"`
}

// offer delivers s on a one-slot channel, replacing any unread snapshot.
// Callers must be the only sender on ch.
func offer(ch chan model.Snapshot, s model.Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
