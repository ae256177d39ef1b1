package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/furnace/internal/model"
)

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{2.5, "$2.50"},
		{1234.5, "$1,234.50"},
		{1234567.891, "$1,234,567.89"},
		{-2, "-$2.00"},
		{0.005, "$0.01"},
	}
	for _, tt := range tests {
		if got := FormatUSD(tt.in); got != tt.want {
			t.Errorf("FormatUSD(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{999, "999"},
		{1234, "1.2K"},
		{1234567, "1.2M"},
		{1234567890, "1.2B"},
	}
	for _, tt := range tests {
		if got := FormatTokens(tt.in); got != tt.want {
			t.Errorf("FormatTokens(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	if got := FormatRate(0.00015); got != "$0.0001" && got != "$0.0002" {
		t.Errorf("FormatRate(0.00015) = %q", got)
	}
	if got := FormatRate(0.03); got != "$0.03" {
		t.Errorf("FormatRate(0.03) = %q", got)
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "just now"},
		{45 * time.Second, "45s ago"},
		{125 * time.Second, "2m ago"},
		{3725 * time.Second, "1h 2m ago"},
	}
	for _, tt := range tests {
		if got := FormatAge(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("FormatAge(-%s) = %q, want %q", tt.ago, got, tt.want)
		}
	}
	if got := FormatAge(time.Time{}, now); got != "never" {
		t.Errorf("FormatAge(zero) = %q, want never", got)
	}
}

func TestStatusLine(t *testing.T) {
	if got := StatusLine(model.ZeroSnapshot()); got != "🔥 idle" {
		t.Errorf("StatusLine(zero) = %q", got)
	}

	s := model.Snapshot{Burned: 5, Budget: 5, PercentUsed: 100, OverBudget: true, Status: "active"}
	got := StatusLine(s)
	if !strings.Contains(got, "$5.00 / $5.00 (100%)") || !strings.HasSuffix(got, "CAP") {
		t.Errorf("StatusLine(at cap) = %q", got)
	}
}

func TestRenderTallyShowsRecentResults(t *testing.T) {
	s := model.ZeroSnapshot()
	for i := 1; i <= 10; i++ {
		s.Results = append(s.Results, model.Result{I: i, Cost: 0.5, Info: "step"})
	}
	out := RenderTally(s, 8)

	if strings.Contains(out, "│ 2 ") {
		t.Error("RenderTally included a result older than the last 8")
	}
	if !strings.Contains(out, "10") || !strings.Contains(out, "$0.50") {
		t.Errorf("RenderTally missing latest result:\n%s", out)
	}

	empty := RenderTally(model.ZeroSnapshot(), 8)
	if !strings.Contains(empty, "No steps yet") {
		t.Errorf("RenderTally(empty) missing placeholder:\n%s", empty)
	}
}

func TestRenderSparkline(t *testing.T) {
	if got := RenderSparkline(nil); got != "" {
		t.Errorf("RenderSparkline(nil) = %q", got)
	}
	if got := RenderSparkline([]float64{0, 1}); got != "▁█" {
		t.Errorf("RenderSparkline([0 1]) = %q", got)
	}
}
