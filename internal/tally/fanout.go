package tally

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/theirongolddev/furnace/internal/model"
)

// Fanout publishes to several publishers. A failing publisher is logged
// and skipped; Publish always returns nil.
type Fanout struct {
	pubs    []Publisher
	timeout time.Duration
}

// NewFanout returns a Fanout over pubs. Nil publishers are ignored.
func NewFanout(pubs ...Publisher) *Fanout {
	f := &Fanout{timeout: requestTimeout}
	for _, p := range pubs {
		if p != nil {
			f.pubs = append(f.pubs, p)
		}
	}
	return f
}

// Publish delivers s to every publisher in order.
func (f *Fanout) Publish(ctx context.Context, s model.Snapshot) error {
	for i, p := range f.pubs {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := p.Publish(pctx, s)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("publisher", i).Str("action", s.Action).Msg("snapshot publish failed")
		}
	}
	return nil
}

// AsyncPublisher publishes from a background goroutine so a slow
// destination never blocks the caller. Pending snapshots coalesce: only
// the newest unsent one is delivered.
type AsyncPublisher struct {
	next    Publisher
	pending chan model.Snapshot
	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

// Async starts a background publisher in front of next. Call Close to stop it.
func Async(next Publisher) *AsyncPublisher {
	a := &AsyncPublisher{
		next:    next,
		pending: make(chan model.Snapshot, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish queues s and returns immediately.
func (a *AsyncPublisher) Publish(_ context.Context, s model.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	default:
	}
	offer(a.pending, s)
	return nil
}

// Close stops the worker after it delivers any pending snapshot.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	select {
	case <-a.done:
	default:
		close(a.done)
	}
	a.mu.Unlock()
	<-a.stopped
	return nil
}

func (a *AsyncPublisher) run() {
	defer close(a.stopped)
	for {
		select {
		case s := <-a.pending:
			a.send(s)
		case <-a.done:
			select {
			case s := <-a.pending:
				a.send(s)
			default:
			}
			return
		}
	}
}

func (a *AsyncPublisher) send(s model.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := a.next.Publish(ctx, s); err != nil {
		log.Warn().Err(err).Str("action", s.Action).Msg("async snapshot publish failed")
	}
}
