package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/furnace/internal/burn"
	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/model"
	"github.com/theirongolddev/furnace/internal/notify"
	"github.com/theirongolddev/furnace/internal/store"
	"github.com/theirongolddev/furnace/internal/tally"
)

type capturePublisher struct {
	mu    sync.Mutex
	snaps []model.Snapshot
	err   error
}

func (p *capturePublisher) Publish(_ context.Context, s model.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
	return p.err
}

func (p *capturePublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.snaps))
	for i, s := range p.snaps {
		out[i] = s.Action
	}
	return out
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newController(t *testing.T, pub tally.Publisher, sink notify.Sink, hist store.History) *Controller {
	t.Helper()
	opts, err := FromConfig(config.DefaultConfig())
	require.NoError(t, err)
	opts.Publisher = pub
	opts.Sink = sink
	opts.History = hist
	return New(opts)
}

func TestControllerPublishesEveryMutation(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	rec := &notify.Recorder{}
	slot := store.NewSlot()
	c := newController(t, pub, rec, slot)

	_, ok := c.Start(ctx, d("25"), d("5"))
	require.True(t, ok)
	_, out := c.AddManual(ctx, d("2.00"), "a")
	require.Equal(t, burn.Accepted, out)
	_, out = c.AddTokens(ctx, "gpt-4o-mini", 2000, 1000, "")
	require.Equal(t, burn.Accepted, out)
	_, ok = c.Undo(ctx)
	require.True(t, ok)
	snap, ok := c.Finish(ctx)
	require.True(t, ok)
	c.Reset(ctx, decimal.Zero, decimal.Zero)

	assert.Equal(t, []string{
		model.ActionStarted, model.ActionResult, model.ActionResult,
		model.ActionUndo, model.ActionFinished, model.ActionReset,
	}, pub.actions())

	assert.Equal(t, 23.0, snap.Balance)
	assert.Equal(t, "finished", snap.Status)

	// two results and one finish
	msgs := rec.Messages()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[0].Text, "Step #1: $2.00 (a)")
	assert.Contains(t, msgs[1].Text, "2000 in / 1000 out")
	assert.Contains(t, msgs[2].Text, "Session finished")

	hist, err := slot.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 2.0, hist[0].Burned)

	// finish carries the settled balance into the next run
	assert.True(t, c.Session().Balance.Equal(d("23")), c.Session().Balance.String())
}

func TestControllerRejectionsDoNotPublish(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	rec := &notify.Recorder{}
	c := newController(t, pub, rec, nil)

	_, out := c.AddManual(ctx, d("1"), "")
	assert.Equal(t, burn.RejectedInactive, out)
	_, ok := c.Undo(ctx)
	assert.False(t, ok)
	_, ok = c.Finish(ctx)
	assert.False(t, ok)

	c.Start(ctx, d("25"), d("5"))
	_, ok = c.Start(ctx, d("1"), d("1"))
	assert.False(t, ok, "second start must not clear an active run")
	c.AddManual(ctx, d("5"), "")
	_, out = c.AddManual(ctx, d("1"), "")
	assert.Equal(t, burn.RejectedAtCap, out)

	assert.Equal(t, []string{model.ActionStarted, model.ActionResult}, pub.actions())
	assert.Len(t, rec.Messages(), 1)
}

func TestControllerCollaboratorFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{err: errors.New("publish down")}
	rec := &notify.Recorder{Err: errors.New("chat down")}
	c := newController(t, pub, rec, nil)

	c.Start(ctx, d("25"), d("5"))
	snap, out := c.AddManual(ctx, d("1.50"), "x")
	require.Equal(t, burn.Accepted, out)
	assert.Equal(t, 1.5, snap.Burned)
	assert.True(t, c.Session().Burned.Equal(d("1.5")))
}

func TestControllerWithBusAndPoller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := tally.NewBus()
	slot := store.NewSlot()
	c := newController(t, tally.NewFanout(bus, tally.StorePublisher{Store: slot}), nil, nil)

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	c.Start(ctx, d("25"), d("5"))
	c.AddManual(ctx, d("3"), "")

	var last model.Snapshot
	for last.Action != model.ActionResult {
		last = <-ch
	}
	assert.Equal(t, 3.0, last.Burned)

	stored, err := slot.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, stored.Burned)
}

// Two dashboards share one slot; only one run may be current at a time.
func TestControllersSharingSlotHoldOneRun(t *testing.T) {
	ctx := context.Background()
	slot := store.NewSlot()
	shared := func() *Controller {
		opts, err := FromConfig(config.DefaultConfig())
		require.NoError(t, err)
		opts.Publisher = tally.StorePublisher{Store: slot}
		opts.Slot = slot
		return New(opts)
	}
	tui, daemon := shared(), shared()

	first, ok := tui.Start(ctx, d("25"), d("5"))
	require.True(t, ok)

	held, claimed := daemon.Claimant(ctx)
	require.True(t, claimed)
	assert.Equal(t, first.SessionID, held.SessionID)

	_, ok = daemon.Start(ctx, d("10"), d("2"))
	assert.False(t, ok, "second start must be refused while the slot holds another run")
	assert.Equal(t, "idle", daemon.Snapshot().Status)

	// the owner keeps working against its own run
	_, claimed = tui.Claimant(ctx)
	assert.False(t, claimed)
	_, out := tui.AddManual(ctx, d("1"), "")
	require.Equal(t, burn.Accepted, out)

	latest, err := slot.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, latest.SessionID)
	assert.Equal(t, 1.0, latest.Burned)

	_, ok = tui.Finish(ctx)
	require.True(t, ok)
	second, ok := daemon.Start(ctx, d("10"), d("2"))
	require.True(t, ok)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestControllerConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	c := newController(t, nil, nil, nil)
	c.Start(ctx, d("100"), d("100"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddManual(ctx, d("1"), "")
		}()
	}
	wg.Wait()

	s := c.Session()
	assert.Len(t, s.Events, 50)
	assert.True(t, s.Burned.Equal(d("50")))
	for i, ev := range s.Events {
		assert.Equal(t, i+1, ev.Seq)
	}
}

func TestFromConfigRejectsBadPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.General.CapPolicy = "yolo"
	_, err := FromConfig(cfg)
	assert.Error(t, err)
}

func TestEstimate(t *testing.T) {
	c := newController(t, nil, nil, nil)
	assert.True(t, c.Estimate("gpt-4o-mini", 2000, 1000).Equal(d("0.9")))
}
