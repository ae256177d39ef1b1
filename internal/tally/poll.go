package tally

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/theirongolddev/furnace/internal/model"
	"github.com/theirongolddev/furnace/internal/store"
)

// DefaultPollInterval matches the pop-out view's refresh rate.
const DefaultPollInterval = 1500 * time.Millisecond

// StorePublisher publishes by writing the shared snapshot slot.
type StorePublisher struct {
	Store store.SnapshotStore
}

// Publish saves s to the store.
func (p StorePublisher) Publish(ctx context.Context, s model.Snapshot) error {
	return p.Store.Save(ctx, s)
}

// Poller subscribes by reading a shared store at a fixed interval and
// emitting snapshots that differ from the last one seen.
type Poller struct {
	Store    store.SnapshotStore
	Interval time.Duration
}

// NewPoller returns a Poller using DefaultPollInterval.
func NewPoller(st store.SnapshotStore) *Poller {
	return &Poller{Store: st, Interval: DefaultPollInterval}
}

// Subscribe starts polling. The first read happens immediately.
func (p *Poller) Subscribe(ctx context.Context) (<-chan model.Snapshot, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ch := make(chan model.Snapshot, 1)
	go func() {
		defer close(ch)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var (
			last    snapshotKey
			hasLast bool
		)
		poll := func() {
			snap, err := p.Store.Latest(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Msg("tally poll failed")
				}
				return
			}
			key := keyOf(snap)
			if hasLast && key == last {
				return
			}
			last, hasLast = key, true
			offer(ch, snap)
		}

		poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()

	return ch, nil
}

type snapshotKey struct {
	sessionID string
	ts        int64
	action    string
	results   int
}

func keyOf(s model.Snapshot) snapshotKey {
	return snapshotKey{
		sessionID: s.SessionID,
		ts:        s.TS,
		action:    s.Action,
		results:   len(s.Results),
	}
}
