package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultModel is the price table entry used for unknown model identifiers.
// It is the cheapest and most common model in the built-in table.
const DefaultModel = "gpt-4o-mini"

var (
	// ErrUnknownDefaultModel is returned when the designated default model
	// has no entry in the table.
	ErrUnknownDefaultModel = errors.New("config: default model missing from price table")
	// ErrNegativeRate is returned when a table entry carries a negative rate.
	ErrNegativeRate = errors.New("config: negative price rate")
)

// ModelPricing holds per-1K-token prices for a model.
type ModelPricing struct {
	InputPer1K  float64 `toml:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `toml:"output_per_1k" yaml:"output_per_1k"`
}

// DefaultPricing maps model identifiers to their built-in pricing.
var DefaultPricing = map[string]ModelPricing{
	"gpt-4o-mini": {InputPer1K: 0.15, OutputPer1K: 0.60},
	"gpt-4o":      {InputPer1K: 5.00, OutputPer1K: 15.00},
	"gpt-3.5":     {InputPer1K: 0.50, OutputPer1K: 1.50},
}

// PriceTable is an immutable model -> pricing mapping with an explicit
// fallback entry. Build one with NewPriceTable.
type PriceTable struct {
	rates        map[string]ModelPricing
	defaultModel string
}

// NewPriceTable copies rates into a new table. defaultModel must be present.
func NewPriceTable(rates map[string]ModelPricing, defaultModel string) (PriceTable, error) {
	if _, ok := rates[defaultModel]; !ok {
		return PriceTable{}, fmt.Errorf("%w: %q", ErrUnknownDefaultModel, defaultModel)
	}

	copied := make(map[string]ModelPricing, len(rates))
	for name, p := range rates {
		if p.InputPer1K < 0 || p.OutputPer1K < 0 {
			return PriceTable{}, fmt.Errorf("%w for %q", ErrNegativeRate, name)
		}
		copied[name] = p
	}
	return PriceTable{rates: copied, defaultModel: defaultModel}, nil
}

// BuiltinPriceTable returns the table of built-in prices.
func BuiltinPriceTable() PriceTable {
	t, err := NewPriceTable(DefaultPricing, DefaultModel)
	if err != nil {
		panic(err) // built-in table is static
	}
	return t
}

// DefaultModel returns the model used for unknown identifiers.
func (t PriceTable) DefaultModel() string {
	return t.defaultModel
}

// Models returns the known model identifiers in sorted order.
func (t PriceTable) Models() []string {
	names := make([]string, 0, len(t.rates))
	for name := range t.rates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the pricing for a model, normalizing the name first.
// Unknown models resolve to the default entry with found == false.
func (t PriceTable) Lookup(model string) (pricing ModelPricing, found bool) {
	if p, ok := t.rates[t.NormalizeModelName(model)]; ok {
		return p, true
	}
	return t.rates[t.defaultModel], false
}

// NormalizeModelName strips date suffixes from model identifiers when the
// base name is known.
// e.g., "gpt-4o-mini-2024-07-18" -> "gpt-4o-mini", "gpt-4o-20241120" -> "gpt-4o"
func (t PriceTable) NormalizeModelName(raw string) string {
	raw = strings.TrimSpace(raw)
	if _, ok := t.rates[raw]; ok {
		return raw
	}

	parts := strings.Split(raw, "-")

	// Compact date suffix: -20241120
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if isAllDigits(last) && len(last) >= 8 {
			candidate := strings.Join(parts[:len(parts)-1], "-")
			if _, ok := t.rates[candidate]; ok {
				return candidate
			}
		}
	}

	// ISO date suffix: -2024-07-18
	if len(parts) >= 4 {
		y, m, d := parts[len(parts)-3], parts[len(parts)-2], parts[len(parts)-1]
		if len(y) == 4 && isAllDigits(y) && len(m) == 2 && isAllDigits(m) && len(d) == 2 && isAllDigits(d) {
			candidate := strings.Join(parts[:len(parts)-3], "-")
			if _, ok := t.rates[candidate]; ok {
				return candidate
			}
		}
	}

	return raw
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Estimate computes the dollar estimate for a single request.
// Negative, NaN and infinite token counts are treated as zero. The result is
// not rounded.
func Estimate(model string, promptTokens, completionTokens float64, table PriceTable) float64 {
	pricing, _ := table.Lookup(model)

	cost := sanitizeTokens(promptTokens)/1000*pricing.InputPer1K +
		sanitizeTokens(completionTokens)/1000*pricing.OutputPer1K

	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return 0
	}
	return cost
}

// Estimate is the method form of the package-level Estimate.
func (t PriceTable) Estimate(model string, promptTokens, completionTokens float64) float64 {
	return Estimate(model, promptTokens, completionTokens, t)
}

func sanitizeTokens(n float64) float64 {
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return 0
	}
	return n
}

// PriceFile is the on-disk format for a custom price table.
type PriceFile struct {
	DefaultModel string                  `toml:"default_model" yaml:"default_model"`
	Models       map[string]ModelPricing `toml:"models" yaml:"models"`
}

// LoadPriceFile reads a price file. The format is chosen by extension:
// .yaml/.yml or .toml.
func LoadPriceFile(path string) (PriceFile, error) {
	var pf PriceFile

	data, err := os.ReadFile(path) //nolint:gosec // price file path is configured by the local user
	if err != nil {
		return pf, fmt.Errorf("reading price file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return pf, fmt.Errorf("parsing price file: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &pf); err != nil {
			return pf, fmt.Errorf("parsing price file: %w", err)
		}
	default:
		return pf, fmt.Errorf("unsupported price file format %q", filepath.Ext(path))
	}
	return pf, nil
}

// BuildPriceTable merges the built-in prices, the optional price file and
// the config overrides, in that order.
func BuildPriceTable(cfg Config) (PriceTable, error) {
	rates := make(map[string]ModelPricing, len(DefaultPricing))
	for name, p := range DefaultPricing {
		rates[name] = p
	}
	defaultModel := DefaultModel

	if cfg.Pricing.File != "" {
		pf, err := LoadPriceFile(cfg.Pricing.File)
		if err != nil {
			return PriceTable{}, err
		}
		for name, p := range pf.Models {
			rates[name] = p
		}
		if pf.DefaultModel != "" {
			defaultModel = pf.DefaultModel
		}
	}

	for name, o := range cfg.Pricing.Overrides {
		p := rates[name]
		if o.InputPer1K != nil {
			p.InputPer1K = *o.InputPer1K
		}
		if o.OutputPer1K != nil {
			p.OutputPer1K = *o.OutputPer1K
		}
		rates[name] = p
	}

	if cfg.Pricing.DefaultModel != "" {
		defaultModel = cfg.Pricing.DefaultModel
	}

	return NewPriceTable(rates, defaultModel)
}
