package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all furnace configuration.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Pricing    PricingConfig    `toml:"pricing"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Slack      SlackConfig      `toml:"slack"`
	Connect    ConnectConfig    `toml:"connect"`
	Appearance AppearanceConfig `toml:"appearance"`
}

// GeneralConfig holds the defaults used to seed a new session.
type GeneralConfig struct {
	DefaultBalance float64 `toml:"default_balance"`
	DefaultBudget  float64 `toml:"default_budget"`
	DefaultModel   string  `toml:"default_model"`
	// CapPolicy is one of "hard-stop", "strict" or "clamp".
	CapPolicy string `toml:"cap_policy"`
}

// PricingConfig controls the price table.
type PricingConfig struct {
	DefaultModel string                          `toml:"default_model,omitempty"`
	File         string                          `toml:"file,omitempty"`
	Overrides    map[string]ModelPricingOverride `toml:"overrides,omitempty"`
}

// ModelPricingOverride holds per-model pricing overrides.
type ModelPricingOverride struct {
	InputPer1K  *float64 `toml:"input_per_1k,omitempty"`
	OutputPer1K *float64 `toml:"output_per_1k,omitempty"`
}

// DaemonConfig controls the local snapshot daemon.
type DaemonConfig struct {
	Addr         string      `toml:"addr"`
	Store        string      `toml:"store"` // memory, sqlite or redis
	SQLitePath   string      `toml:"sqlite_path,omitempty"`
	EventsBuffer int         `toml:"events_buffer"`
	Redis        RedisConfig `toml:"redis"`
}

// RedisConfig holds the redis snapshot store settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`
	DB       int    `toml:"db"`
	Key      string `toml:"key"`
	TTLSec   int    `toml:"ttl_sec,omitempty"`
}

// SlackConfig holds chat notification settings.
type SlackConfig struct {
	Enabled    bool   `toml:"enabled"`
	BotToken   string `toml:"bot_token,omitempty"`
	Channel    string `toml:"channel,omitempty"`
	WebhookURL string `toml:"webhook_url,omitempty"`
}

// ConnectConfig holds the external auth redirect settings.
type ConnectConfig struct {
	FlowURL string `toml:"flow_url,omitempty"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			DefaultBalance: 25,
			DefaultBudget:  5,
			DefaultModel:   DefaultModel,
			CapPolicy:      "hard-stop",
		},
		Daemon: DaemonConfig{
			Addr:         "127.0.0.1:8787",
			Store:        "memory",
			EventsBuffer: 200,
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
				Key:  "furnace:tally",
			},
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "furnace")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "furnace")
}

// Path returns the full path to the config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// DataDir returns the XDG-compliant data directory used for the sqlite
// store, the daemon pid file and logs.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "furnace")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "furnace")
}

// Load reads the config file, returning defaults if it doesn't exist.
// A .env file in the working directory is loaded first so env-backed
// secrets are visible to the Get* helpers.
func Load() (Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config file at path, returning defaults if it doesn't exist.
func LoadFrom(path string) (Config, error) {
	_ = godotenv.Load() // optional .env; a missing file is fine

	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // config path is configured by the local user
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	return SaveTo(Path(), cfg)
}

// SaveTo writes the config to path.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // see above
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return toml.NewEncoder(f).Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(Path())
	return err == nil
}

// GetSlackToken returns the bot token from env var or config, in that order.
func GetSlackToken(cfg Config) string {
	if tok := os.Getenv("SLACK_BOT_TOKEN"); tok != "" {
		return tok
	}
	return cfg.Slack.BotToken
}

// GetSlackChannel returns the default channel from env var or config.
func GetSlackChannel(cfg Config) string {
	if ch := os.Getenv("SLACK_DEFAULT_CHANNEL"); ch != "" {
		return ch
	}
	return cfg.Slack.Channel
}

// GetSlackWebhookURL returns the incoming webhook URL from env var or config.
func GetSlackWebhookURL(cfg Config) string {
	if u := os.Getenv("SLACK_WEBHOOK_URL"); u != "" {
		return u
	}
	return cfg.Slack.WebhookURL
}

// GetConnectFlowURL returns the external auth flow URL from env var or config.
func GetConnectFlowURL(cfg Config) string {
	if u := os.Getenv("DESCOPE_FLOW_URL"); u != "" {
		return u
	}
	return cfg.Connect.FlowURL
}

// SQLitePath returns the configured sqlite path or the default under DataDir.
func SQLitePath(cfg Config) string {
	if cfg.Daemon.SQLitePath != "" {
		return cfg.Daemon.SQLitePath
	}
	return filepath.Join(DataDir(), "furnace.db")
}
