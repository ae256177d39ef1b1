// Package burn implements the burn session state machine: a budget, a
// running burned total and an ordered log of priced results.
//
// Sessions are values. Every transition returns a new Session and leaves the
// receiver untouched, and every transition is total: calls that are invalid
// for the current state return the session unchanged.
package burn

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/model"
)

// percentEpsilon guards PercentUsed against a zero budget.
const percentEpsilon = 1e-9

var now = time.Now

// Status is the lifecycle state of a session.
type Status int

const (
	Idle Status = iota
	Active
	Finished
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Finished:
		return "finished"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CapPolicy decides how a result is treated relative to the budget cap.
type CapPolicy int

const (
	// HardStop rejects results once burned >= budget. A result that crosses
	// the cap from below is accepted in full.
	HardStop CapPolicy = iota
	// Strict also rejects any result that would push burned past the budget.
	Strict
	// Clamp accepts a crossing result with its cost cut to the remaining budget.
	Clamp
)

func (p CapPolicy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Clamp:
		return "clamp"
	default:
		return "hard-stop"
	}
}

// ParseCapPolicy parses a policy name. The empty string means HardStop.
func ParseCapPolicy(s string) (CapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hard-stop", "hardstop":
		return HardStop, nil
	case "strict":
		return Strict, nil
	case "clamp", "partial":
		return Clamp, nil
	default:
		return HardStop, fmt.Errorf("unknown cap policy %q (want hard-stop, strict or clamp)", s)
	}
}

// Outcome reports what AddResult did.
type Outcome int

const (
	Accepted Outcome = iota
	RejectedInactive
	RejectedZeroCost
	RejectedAtCap
	RejectedOverCap
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedInactive:
		return "rejected_inactive"
	case RejectedZeroCost:
		return "rejected_zero_cost"
	case RejectedAtCap:
		return "rejected_at_cap"
	case RejectedOverCap:
		return "rejected_over_cap"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Event is one priced result. Events are never mutated once created.
type Event struct {
	Seq              int
	Cost             decimal.Decimal
	Description      string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	Manual           bool
	OccurredAt       time.Time
}

// Charge describes the cost of a result. A manual charge carries Cost; an
// automatic charge carries a model and token counts priced by the table.
type Charge struct {
	Auto             bool
	Cost             decimal.Decimal
	Model            string
	PromptTokens     float64
	CompletionTokens float64
	Description      string
}

// ManualCharge returns a charge with a caller-supplied cost.
func ManualCharge(cost decimal.Decimal, description string) Charge {
	return Charge{Cost: cost, Description: description}
}

// TokenCharge returns a charge priced from token counts.
func TokenCharge(modelName string, promptTokens, completionTokens float64, description string) Charge {
	return Charge{
		Auto:             true,
		Model:            modelName,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Description:      description,
	}
}

// Session is the state of one burn run.
type Session struct {
	ID         string
	Balance    decimal.Decimal
	Budget     decimal.Decimal
	Burned     decimal.Decimal
	Events     []Event
	Status     Status
	Policy     CapPolicy
	StartedAt  time.Time
	FinishedAt time.Time
}

// New returns an Idle session. Negative inputs clamp to zero.
func New(balance, budget decimal.Decimal) Session {
	return Session{
		Balance: RoundCents(balance),
		Budget:  RoundCents(budget),
		Burned:  decimal.Zero,
		Status:  Idle,
	}
}

// WithPolicy returns a copy using policy p. The policy cannot change while
// the session is Active.
func (s Session) WithPolicy(p CapPolicy) Session {
	if s.Status == Active {
		return s
	}
	s.Policy = p
	return s
}

// Start begins a run from Idle or Finished, clearing burned and events.
// Starting an Active session is a no-op: reset it first.
func (s Session) Start(balance, budget decimal.Decimal) (Session, bool) {
	if s.Status == Active {
		return s, false
	}
	return Session{
		ID:        uuid.NewString(),
		Balance:   RoundCents(balance),
		Budget:    RoundCents(budget),
		Burned:    decimal.Zero,
		Status:    Active,
		Policy:    s.Policy,
		StartedAt: now(),
	}, true
}

// AddResult appends a priced result. It is rejected when the session is
// not Active, when the session is already at or over its cap, when the
// rounded cost is zero, or (Strict policy) when the result would cross the cap.
func (s Session) AddResult(c Charge, table config.PriceTable) (Session, Outcome) {
	if s.Status != Active {
		return s, RejectedInactive
	}
	if s.OverBudget() {
		return s, RejectedAtCap
	}

	ev := Event{
		Description: c.Description,
		Manual:      !c.Auto,
	}
	var cost decimal.Decimal
	if c.Auto {
		ev.Model = table.NormalizeModelName(c.Model)
		if _, found := table.Lookup(ev.Model); !found {
			ev.Model = table.DefaultModel()
		}
		ev.PromptTokens = wholeTokens(c.PromptTokens)
		ev.CompletionTokens = wholeTokens(c.CompletionTokens)
		cost = Amount(config.Estimate(ev.Model, c.PromptTokens, c.CompletionTokens, table))
		if ev.Description == "" {
			ev.Description = fmt.Sprintf("%d in / %d out", ev.PromptTokens, ev.CompletionTokens)
		}
	} else {
		cost = RoundCents(c.Cost)
		if ev.Description == "" {
			ev.Description = "manual"
		}
	}

	if !cost.IsPositive() {
		return s, RejectedZeroCost
	}

	if s.Burned.Add(cost).GreaterThan(s.Budget) {
		switch s.Policy {
		case Strict:
			return s, RejectedOverCap
		case Clamp:
			cost = s.Budget.Sub(s.Burned)
		}
	}

	ev.Seq = len(s.Events) + 1
	ev.Cost = cost
	ev.OccurredAt = now()

	next := s
	next.Events = append(slices.Clone(s.Events), ev)
	next.Burned = s.Burned.Add(cost)
	return next, Accepted
}

// AddManual is AddResult with a manual charge.
func (s Session) AddManual(cost decimal.Decimal, description string, table config.PriceTable) (Session, Outcome) {
	return s.AddResult(ManualCharge(cost, description), table)
}

// AddTokens is AddResult with a token-priced charge.
func (s Session) AddTokens(modelName string, promptTokens, completionTokens float64, description string, table config.PriceTable) (Session, Outcome) {
	return s.AddResult(TokenCharge(modelName, promptTokens, completionTokens, description), table)
}

// Undo removes the most recent result.
func (s Session) Undo() (Session, bool) {
	if s.Status != Active || len(s.Events) == 0 {
		return s, false
	}
	last := s.Events[len(s.Events)-1]

	next := s
	next.Events = slices.Clone(s.Events[:len(s.Events)-1])
	next.Burned = floorZero(s.Burned.Sub(last.Cost))
	return next, true
}

// Finish settles burned against the balance and freezes the session.
// Burned and events are kept for display.
func (s Session) Finish() (Session, bool) {
	if s.Status != Active {
		return s, false
	}
	next := s
	next.Balance = floorZero(s.Balance.Sub(s.Burned)).Round(CentPlaces)
	next.Status = Finished
	next.FinishedAt = now()
	return next, true
}

// Reset discards the session and returns a fresh Idle one with the same policy.
func (s Session) Reset(balance, budget decimal.Decimal) Session {
	return New(balance, budget).WithPolicy(s.Policy)
}

// Remaining is max(0, budget - burned).
func (s Session) Remaining() decimal.Decimal {
	return floorZero(s.Budget.Sub(s.Burned))
}

// OverBudget reports burned >= budget.
func (s Session) OverBudget() bool {
	return s.Burned.GreaterThanOrEqual(s.Budget)
}

// OverBy is max(0, burned - budget).
func (s Session) OverBy() decimal.Decimal {
	return floorZero(s.Burned.Sub(s.Budget))
}

// PercentUsed is burned/budget as a whole percentage capped at 100.
func (s Session) PercentUsed() int {
	budget := math.Max(s.Budget.InexactFloat64(), percentEpsilon)
	pct := math.Round(s.Burned.InexactFloat64() / budget * 100)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return int(pct)
}

// Sum recomputes the total of all event costs.
func (s Session) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, ev := range s.Events {
		total = total.Add(ev.Cost)
	}
	return total
}

// LastEvent returns the most recent event, if any.
func (s Session) LastEvent() (Event, bool) {
	if len(s.Events) == 0 {
		return Event{}, false
	}
	return s.Events[len(s.Events)-1], true
}

// Snapshot converts the session to its published wire form.
func (s Session) Snapshot(action string) model.Snapshot {
	results := make([]model.Result, 0, len(s.Events))
	steps := make([]float64, 0, len(s.Events))
	lastModel := ""
	for _, ev := range s.Events {
		results = append(results, model.Result{
			I:                ev.Seq,
			Cost:             ev.Cost.InexactFloat64(),
			Info:             ev.Description,
			TS:               ev.OccurredAt,
			Model:            ev.Model,
			PromptTokens:     ev.PromptTokens,
			CompletionTokens: ev.CompletionTokens,
			Manual:           ev.Manual,
		})
		steps = append(steps, ev.Cost.InexactFloat64())
		if ev.Model != "" {
			lastModel = ev.Model
		}
	}

	return model.Snapshot{
		SessionID:   s.ID,
		Burned:      s.Burned.InexactFloat64(),
		Remaining:   s.Remaining().InexactFloat64(),
		Budget:      s.Budget.InexactFloat64(),
		Balance:     s.Balance.InexactFloat64(),
		PercentUsed: s.PercentUsed(),
		OverBudget:  s.OverBudget(),
		Status:      s.Status.String(),
		Active:      s.Status == Active,
		Results:     results,
		Steps:       steps,
		Model:       lastModel,
		Action:      action,
		TS:          now().UnixMilli(),
	}
}

func wholeTokens(n float64) int64 {
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return 0
	}
	if n >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
