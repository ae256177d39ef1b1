package burn

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses user-entered money. It tolerates surrounding
// whitespace, a leading "$" and thousands separators. Anything unparseable
// or negative yields zero.
func ParseAmount(s string) decimal.Decimal {
	s = cleanNumber(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return RoundCents(d)
}

// ParseTokens parses a user-entered token count. A trailing "k" or "m"
// (any case) scales by a thousand or a million. Fractions are truncated;
// anything unparseable or negative yields zero.
func ParseTokens(s string) int64 {
	s = cleanNumber(s)
	scale := 1.0
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		scale = 1e3
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "M"):
		scale = 1e6
	}
	if scale != 1 {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && scale == 1 {
		if n < 0 {
			return 0
		}
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	f *= scale
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	return strings.TrimSpace(s)
}
