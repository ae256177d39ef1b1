// Package dashboard owns the live burn session and drives its collaborators.
//
// Every accepted mutation is published as a snapshot and, for results and
// finish, announced to the notification sink. Publish, notify and history
// failures are logged and never undo the mutation.
package dashboard

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/furnace/internal/burn"
	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/model"
	"github.com/theirongolddev/furnace/internal/notify"
	"github.com/theirongolddev/furnace/internal/store"
	"github.com/theirongolddev/furnace/internal/tally"
)

// BalanceUnsupportedMessage explains why provider balances are not fetched.
const BalanceUnsupportedMessage = "Provider balances can't be fetched with an API key; enter your balance manually. " +
	"Furnace tracks an estimate against the balance you enter."

// SlotReader reads the snapshot slot shared by every view of the same user.
type SlotReader interface {
	Latest(ctx context.Context) (model.Snapshot, error)
}

// Options configures a Controller. Zero values get sensible defaults.
type Options struct {
	Table     config.PriceTable
	Publisher tally.Publisher
	Sink      notify.Sink
	History   store.History
	// Slot, when set, is checked before starting so a run held by another
	// process is never replaced.
	Slot    SlotReader
	Policy  burn.CapPolicy
	Balance decimal.Decimal
	Budget  decimal.Decimal
}

// Controller serializes access to one burn session.
type Controller struct {
	mu      sync.Mutex
	session burn.Session
	table   config.PriceTable
	pub     tally.Publisher
	sink    notify.Sink
	history store.History
	slot    SlotReader
	balance decimal.Decimal
	budget  decimal.Decimal
}

// New returns a controller holding an Idle session seeded from opts.
func New(opts Options) *Controller {
	c := &Controller{
		table:   opts.Table,
		pub:     opts.Publisher,
		sink:    opts.Sink,
		history: opts.History,
		slot:    opts.Slot,
		balance: opts.Balance,
		budget:  opts.Budget,
	}
	if len(c.table.Models()) == 0 {
		c.table = config.BuiltinPriceTable()
	}
	if c.pub == nil {
		c.pub = tally.NewFanout()
	}
	if c.sink == nil {
		c.sink = notify.Nop{}
	}
	c.session = burn.New(c.balance, c.budget).WithPolicy(opts.Policy)
	return c
}

// FromConfig builds Options from cfg's defaults and price table.
func FromConfig(cfg config.Config) (Options, error) {
	table, err := config.BuildPriceTable(cfg)
	if err != nil {
		return Options{}, err
	}
	policy, err := burn.ParseCapPolicy(cfg.General.CapPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Table:   table,
		Policy:  policy,
		Balance: burn.Amount(cfg.General.DefaultBalance),
		Budget:  burn.Amount(cfg.General.DefaultBudget),
	}, nil
}

// Table returns the price table in use.
func (c *Controller) Table() config.PriceTable {
	return c.table
}

// Defaults returns the balance and budget used when a caller supplies none.
func (c *Controller) Defaults() (balance, budget decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, c.budget
}

// Session returns the current session value.
func (c *Controller) Session() burn.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Snapshot returns the current session as a snapshot without publishing it.
func (c *Controller) Snapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Snapshot("")
}

// Estimate prices a planned request without touching the session.
func (c *Controller) Estimate(modelName string, promptTokens, completionTokens float64) decimal.Decimal {
	return burn.Amount(config.Estimate(modelName, promptTokens, completionTokens, c.table))
}

// Claimant returns the shared slot's snapshot when it holds an active run
// that this controller does not own. A slot that cannot be read claims
// nothing.
func (c *Controller) Claimant(ctx context.Context) (model.Snapshot, bool) {
	if c.slot == nil {
		return model.Snapshot{}, false
	}
	held, err := c.slot.Latest(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("reading shared slot failed")
		return model.Snapshot{}, false
	}
	if !held.Active || held.SessionID == "" || held.SessionID == c.Session().ID {
		return model.Snapshot{}, false
	}
	return held, true
}

// Start begins a run. It reports false if a run is already active here or
// in the shared slot.
func (c *Controller) Start(ctx context.Context, balance, budget decimal.Decimal) (model.Snapshot, bool) {
	if held, claimed := c.Claimant(ctx); claimed {
		log.Info().Str("holder", held.SessionID).Msg("burn session start refused: slot holds another run")
		return c.Snapshot(), false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next, ok := c.session.Start(balance, budget)
	if !ok {
		return c.session.Snapshot(""), false
	}
	c.session = next
	c.balance, c.budget = next.Balance, next.Budget
	snap := next.Snapshot(model.ActionStarted)
	c.publish(ctx, snap)
	log.Info().Str("session", next.ID).Str("budget", next.Budget.StringFixed(2)).Msg("burn session started")
	return snap, true
}

// Add applies a charge.
func (c *Controller) Add(ctx context.Context, charge burn.Charge) (model.Snapshot, burn.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, out := c.session.AddResult(charge, c.table)
	if out != burn.Accepted {
		log.Debug().Stringer("outcome", out).Msg("burn result rejected")
		return c.session.Snapshot(""), out
	}
	c.session = next
	if ev, ok := next.LastEvent(); ok {
		log.Debug().Int("seq", ev.Seq).Str("cost", ev.Cost.StringFixed(2)).Str("model", ev.Model).Msg("burn result accepted")
	}
	snap := next.Snapshot(model.ActionResult)
	c.publish(ctx, snap)
	if n := len(snap.Results); n > 0 {
		c.notify(ctx, notify.ResultMessage(snap, snap.Results[n-1]))
	}
	return snap, out
}

// AddManual records a manually priced result.
func (c *Controller) AddManual(ctx context.Context, cost decimal.Decimal, description string) (model.Snapshot, burn.Outcome) {
	return c.Add(ctx, burn.ManualCharge(cost, description))
}

// AddTokens records a result priced from token counts.
func (c *Controller) AddTokens(ctx context.Context, modelName string, promptTokens, completionTokens float64, description string) (model.Snapshot, burn.Outcome) {
	return c.Add(ctx, burn.TokenCharge(modelName, promptTokens, completionTokens, description))
}

// Undo removes the most recent result.
func (c *Controller) Undo(ctx context.Context) (model.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, ok := c.session.Undo()
	if !ok {
		return c.session.Snapshot(""), false
	}
	c.session = next
	snap := next.Snapshot(model.ActionUndo)
	c.publish(ctx, snap)
	return snap, true
}

// Finish settles the session against the balance. The settled balance
// seeds the next run.
func (c *Controller) Finish(ctx context.Context) (model.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, ok := c.session.Finish()
	if !ok {
		return c.session.Snapshot(""), false
	}
	c.session = next
	c.balance = next.Balance
	snap := next.Snapshot(model.ActionFinished)
	c.publish(ctx, snap)
	c.notify(ctx, notify.FinishMessage(snap))
	if c.history != nil {
		if err := c.history.AppendHistory(ctx, snap); err != nil {
			log.Warn().Err(err).Msg("recording session history failed")
		}
	}
	log.Info().Str("session", next.ID).Str("burned", next.Burned.StringFixed(2)).Msg("burn session finished")
	return snap, true
}

// Reset discards the session. Zero balance and budget keep the previous
// values.
func (c *Controller) Reset(ctx context.Context, balance, budget decimal.Decimal) model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if balance.IsPositive() {
		c.balance = balance
	}
	if budget.IsPositive() {
		c.budget = budget
	}
	c.session = c.session.Reset(c.balance, c.budget)
	snap := c.session.Snapshot(model.ActionReset)
	c.publish(ctx, snap)
	return snap
}

func (c *Controller) publish(ctx context.Context, snap model.Snapshot) {
	if err := c.pub.Publish(ctx, snap); err != nil {
		log.Warn().Err(err).Str("action", snap.Action).Msg("snapshot publish failed")
	}
}

func (c *Controller) notify(ctx context.Context, m notify.Message) {
	if err := c.sink.Notify(ctx, m); err != nil {
		log.Warn().Err(err).Msg("notification failed")
	}
}
