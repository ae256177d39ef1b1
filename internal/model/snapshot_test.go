package model

import (
	"encoding/json"
	"math"
	"testing"
)

func TestSanitize(t *testing.T) {
	s := Snapshot{
		Burned:      math.NaN(),
		Remaining:   -2,
		Budget:      5,
		Balance:     math.Inf(1),
		PercentUsed: 140,
		Results:     []Result{{I: 1, Cost: -1}},
	}

	got := s.Sanitize()
	if got.Burned != 0 || got.Remaining != 0 || got.Balance != 0 {
		t.Fatalf("amounts not clamped: %+v", got)
	}
	if got.Budget != 5 {
		t.Fatalf("Budget = %v, want 5", got.Budget)
	}
	if got.PercentUsed != 100 {
		t.Fatalf("PercentUsed = %d, want 100", got.PercentUsed)
	}
	if got.Results[0].Cost != 0 {
		t.Fatalf("result cost = %v, want 0", got.Results[0].Cost)
	}
	if got.Steps == nil {
		t.Fatal("Steps is nil, want empty slice")
	}
	if got.Status != "idle" {
		t.Fatalf("Status = %q, want idle", got.Status)
	}

	// receiver untouched
	if s.Results[0].Cost != -1 {
		t.Fatal("Sanitize mutated the receiver's results")
	}
}

func TestZeroSnapshotEncodesEmptyArrays(t *testing.T) {
	data, err := json.Marshal(ZeroSnapshot())
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["results"].([]any); !ok {
		t.Fatalf("results = %v, want empty array", raw["results"])
	}
	if _, ok := raw["burned"].(float64); !ok {
		t.Fatalf("burned = %v, want number", raw["burned"])
	}
}

func TestLatest(t *testing.T) {
	s := Snapshot{}
	for i := 1; i <= 10; i++ {
		s.Results = append(s.Results, Result{I: i})
	}

	last := s.Latest(8)
	if len(last) != 8 || last[0].I != 3 || last[7].I != 10 {
		t.Fatalf("Latest(8) = %+v", last)
	}
	if got := s.Latest(0); len(got) != 10 {
		t.Fatalf("Latest(0) len = %d, want 10", len(got))
	}
}
