package tally

import (
	"context"
	"sync"

	"github.com/theirongolddev/furnace/internal/model"
)

// Bus is an in-process publish/subscribe channel. New subscribers receive
// the latest snapshot immediately.
type Bus struct {
	mu        sync.Mutex
	latest    model.Snapshot
	hasLatest bool
	nextSubID int
	subs      map[int]chan model.Snapshot
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan model.Snapshot)}
}

// Publish records s as the latest snapshot and offers it to every subscriber.
// It never blocks.
func (b *Bus) Publish(_ context.Context, s model.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = s
	b.hasLatest = true
	for _, ch := range b.subs {
		offer(ch, s)
	}
	return nil
}

// Subscribe registers a subscriber until ctx is canceled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan model.Snapshot, error) {
	ch := make(chan model.Snapshot, 1)

	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subs[id] = ch
	if b.hasLatest {
		offer(ch, b.latest)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

// Latest returns the most recently published snapshot.
func (b *Bus) Latest() (model.Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
