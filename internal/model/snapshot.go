// Package model defines the wire types shared by furnace views.
package model

import (
	"math"
	"time"
)

// Snapshot actions tag what mutation produced a snapshot.
const (
	ActionStarted  = "started"
	ActionResult   = "result"
	ActionUndo     = "undo"
	ActionFinished = "finished"
	ActionReset    = "reset"
)

// Result is one logged burn step as seen by other views.
type Result struct {
	I                int       `json:"i"`
	Cost             float64   `json:"cost"`
	Info             string    `json:"info"`
	TS               time.Time `json:"ts"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int64     `json:"prompt_tokens,omitempty"`
	CompletionTokens int64     `json:"completion_tokens,omitempty"`
	Manual           bool      `json:"manual,omitempty"`
}

// Snapshot is the published state of the current burn session.
type Snapshot struct {
	SessionID   string    `json:"session_id,omitempty"`
	Burned      float64   `json:"burned"`
	Remaining   float64   `json:"remaining"`
	Budget      float64   `json:"budget"`
	Balance     float64   `json:"balance"`
	PercentUsed int       `json:"percent_used"`
	OverBudget  bool      `json:"over_budget"`
	Status      string    `json:"status"`
	Active      bool      `json:"active"`
	Results     []Result  `json:"results"`
	Steps       []float64 `json:"steps"`
	Model       string    `json:"model,omitempty"`
	Action      string    `json:"action,omitempty"`
	TS          int64     `json:"ts"` // unix milliseconds
}

// ZeroSnapshot is the snapshot served before anything was written. Its TS
// is zero so pollers see it as unchanged between reads.
func ZeroSnapshot() Snapshot {
	return Snapshot{
		Status:  "idle",
		Results: []Result{},
		Steps:   []float64{},
	}
}

// At returns the snapshot timestamp.
func (s Snapshot) At() time.Time {
	return time.UnixMilli(s.TS)
}

// Latest returns the last n results in log order.
func (s Snapshot) Latest(n int) []Result {
	if n <= 0 || len(s.Results) <= n {
		return s.Results
	}
	return s.Results[len(s.Results)-n:]
}

// Sanitize coerces non-finite or negative amounts to zero and nil slices to
// empty ones, so a snapshot written by any client reads back well-formed.
func (s Snapshot) Sanitize() Snapshot {
	s.Burned = nonNegative(s.Burned)
	s.Remaining = nonNegative(s.Remaining)
	s.Budget = nonNegative(s.Budget)
	s.Balance = nonNegative(s.Balance)
	if s.PercentUsed < 0 {
		s.PercentUsed = 0
	}
	if s.PercentUsed > 100 {
		s.PercentUsed = 100
	}
	if s.Status == "" {
		s.Status = "idle"
	}

	if s.Results == nil {
		s.Results = []Result{}
	} else {
		results := make([]Result, len(s.Results))
		for i, r := range s.Results {
			r.Cost = nonNegative(r.Cost)
			results[i] = r
		}
		s.Results = results
	}

	if s.Steps == nil {
		s.Steps = []float64{}
	} else {
		steps := make([]float64, len(s.Steps))
		for i, v := range s.Steps {
			steps[i] = nonNegative(v)
		}
		s.Steps = steps
	}
	return s
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
