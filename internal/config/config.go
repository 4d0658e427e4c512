package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cryptosignal configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Telegram surface
	Telegram TelegramConfig `yaml:"telegram"`

	// LLM decision engine
	LLM LLMConfig `yaml:"llm"`

	// Bybit market data
	Market MarketConfig `yaml:"market"`

	// SQLite persistence
	Storage StorageConfig `yaml:"storage"`

	// Per-user job scheduling
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Indicator and prompt settings
	Analysis AnalysisConfig `yaml:"analysis"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// IANA timezone name, TZ env wins
	Timezone string `yaml:"timezone"`
}

// TelegramConfig configures the bot surface.
type TelegramConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID int64  `yaml:"channel_id"` // 0 disables channel publishing
}

// LLMConfig configures the decision LLM.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`

	// Optional methodology context passed to the model, never echoed in output.
	LiteratureURL string `yaml:"literature_url"`
}

// MarketConfig configures the Bybit client.
type MarketConfig struct {
	BaseURL  string `yaml:"base_url"`
	ProxyURL string `yaml:"proxy_url"` // used ONLY for Bybit requests
	Timeout  string `yaml:"timeout"`
	Retries  int    `yaml:"retries"`
}

// StorageConfig configures SQLite persistence and signal dedup.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`

	// Duplicate suppression
	SignalCooldown string  `yaml:"signal_cooldown"`
	PriceTolPct    float64 `yaml:"price_tol_pct"`  // percent tolerance for entry/tp/sl
	ConfidenceTol  float64 `yaml:"confidence_tol"` // absolute tolerance for confidence
}

// SchedulerConfig configures per-user check jobs.
type SchedulerConfig struct {
	DefaultInterval     string `yaml:"default_interval"`
	MaxConcurrentChecks int    `yaml:"max_concurrent_checks"`
}

// AnalysisConfig configures indicators and the prompt source.
type AnalysisConfig struct {
	MAWindow   int    `yaml:"ma_window"`
	MACDFast   int    `yaml:"macd_fast"`
	MACDSlow   int    `yaml:"macd_slow"`
	MACDSignal int    `yaml:"macd_signal"`
	PromptPath string `yaml:"prompt_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "cryptosignal",
		Version: "1.0.0",

		Telegram: TelegramConfig{},

		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: "120s",
		},

		Market: MarketConfig{
			BaseURL: "https://api.bybit.com",
			Timeout: "15s",
			Retries: 2,
		},

		Storage: StorageConfig{
			DatabasePath:   "data/bot.db",
			SignalCooldown: "6h",
			PriceTolPct:    0.5,
			ConfidenceTol:  0.03,
		},

		Scheduler: SchedulerConfig{
			DefaultInterval:     "1h",
			MaxConcurrentChecks: 4,
		},

		Analysis: AnalysisConfig{
			MAWindow:   21,
			MACDFast:   12,
			MACDSlow:   26,
			MACDSignal: 9,
			PromptPath: "secrets/market_prompt.txt",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "cryptosignal.log",
		},

		Timezone: "Europe/Madrid",
	}
}

// Load loads configuration from a YAML file.
// A missing file yields defaults; env overrides always apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		c.Telegram.BotToken = tok
	}
	if id, ok := parseChannelID(os.Getenv("TELEGRAM_CHANNEL_ID")); ok {
		c.Telegram.ChannelID = id
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if urls := os.Getenv("LITERATURE_URLS"); urls != "" {
		c.LLM.LiteratureURL = urls
	}

	if proxy := os.Getenv("PROXY_URL"); proxy != "" {
		c.Market.ProxyURL = proxy
	}
	if secs := os.Getenv("BYBIT_TIMEOUT_SECONDS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			c.Market.Timeout = fmt.Sprintf("%ds", n)
		}
	}
	if retries := os.Getenv("BYBIT_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n >= 0 {
			c.Market.Retries = n
		}
	}

	if path := os.Getenv("CRYPTOSIGNAL_DB"); path != "" {
		c.Storage.DatabasePath = path
	}

	if tz := os.Getenv("TZ"); tz != "" {
		c.Timezone = tz
	}
}

// parseChannelID parses a channel ID env value, tolerating the common
// double-dash typo in negative channel IDs ("--100123" -> -100123).
func parseChannelID(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "--") {
		s = s[1:]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetMarketTimeout returns the Bybit request timeout as a duration.
func (c *Config) GetMarketTimeout() time.Duration {
	d, err := time.ParseDuration(c.Market.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetSignalCooldown returns the duplicate-suppression window as a duration.
func (c *Config) GetSignalCooldown() time.Duration {
	d, err := time.ParseDuration(c.Storage.SignalCooldown)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// GetDefaultInterval returns the default per-user check interval.
func (c *Config) GetDefaultInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.DefaultInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token not configured (set TELEGRAM_BOT_TOKEN)")
	}
	if c.Market.BaseURL == "" {
		return fmt.Errorf("market base URL not configured")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("database path not configured")
	}
	if c.Scheduler.MaxConcurrentChecks < 1 {
		return fmt.Errorf("max_concurrent_checks must be at least 1")
	}
	if c.Analysis.MAWindow < 2 {
		return fmt.Errorf("ma_window must be at least 2")
	}
	return nil
}
