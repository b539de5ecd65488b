// Package config provides configuration management for the watch engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"ticker-sentry/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Provider      ProviderConfig     `mapstructure:"provider"`
	Limits        LimitsConfig       `mapstructure:"limits"`
	Watch         WatchConfig        `mapstructure:"watch"`
	Positions     PositionsConfig    `mapstructure:"positions"`
	Store         StoreConfig        `mapstructure:"store"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// ProviderConfig holds market-data provider configuration.
type ProviderConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Frequency string        `mapstructure:"frequency"` // daily, 1hour, 5min
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LimitsConfig holds provider request budget configuration.
type LimitsConfig struct {
	HourlyLimit  int `mapstructure:"hourly_limit"`
	DailyLimit   int `mapstructure:"daily_limit"`
	SafetyMargin int `mapstructure:"safety_margin"`
}

// WatchConfig holds due-task sweep configuration.
type WatchConfig struct {
	BatchLimit    int           `mapstructure:"batch_limit"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PositionsConfig holds watched-position check configuration.
type PositionsConfig struct {
	AdverseThresholdPct float64       `mapstructure:"adverse_threshold_pct"`
	CheckInterval       time.Duration `mapstructure:"check_interval"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, alerts_only, errors_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Credentials holds API credentials.
type Credentials struct {
	Provider ProviderCredentials `mapstructure:"provider"`
}

// ProviderCredentials holds market-data provider credentials.
type ProviderCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/ticker-sentry"
	}
	return filepath.Join(home, ".config", "ticker-sentry")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	applyDefaults(cfg, configDir)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("provider.base_url", "https://api.tiingo.com/tiingo")
	v.SetDefault("provider.frequency", "5min")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("limits.hourly_limit", 50)
	v.SetDefault("limits.daily_limit", 500)
	v.SetDefault("limits.safety_margin", 5)
	v.SetDefault("watch.batch_limit", 200)
	v.SetDefault("watch.sweep_interval", "15m")
	v.SetDefault("positions.adverse_threshold_pct", 0.05)
	v.SetDefault("positions.check_interval", "1h")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("notifications.level", "all")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TICKER_SENTRY_API_KEY"); v != "" {
		cfg.Credentials.Provider.APIKey = v
	}
	if v := os.Getenv("TIINGO_API_KEY"); v != "" && cfg.Credentials.Provider.APIKey == "" {
		cfg.Credentials.Provider.APIKey = v
	}
	if v := os.Getenv("TICKER_SENTRY_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TICKER_SENTRY_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
		cfg.Notifications.Webhook.Enabled = true
		cfg.Notifications.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
}

func applyDefaults(cfg *Config, configDir string) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "sentry.db")
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(configDir, "logs", "sentry.log")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch models.BarFrequency(c.Provider.Frequency) {
	case models.FreqDaily, models.FreqHourly, models.Freq5Min:
	default:
		return fmt.Errorf("invalid provider frequency: %s (must be 'daily', '1hour' or '5min')", c.Provider.Frequency)
	}

	if c.Limits.HourlyLimit <= 0 || c.Limits.DailyLimit <= 0 {
		return fmt.Errorf("request limits must be positive")
	}
	if c.Limits.SafetyMargin < 0 {
		return fmt.Errorf("safety_margin must be non-negative")
	}
	if c.Limits.SafetyMargin >= c.Limits.HourlyLimit {
		return fmt.Errorf("safety_margin must be below hourly_limit")
	}

	if c.Watch.BatchLimit <= 0 {
		return fmt.Errorf("batch_limit must be positive")
	}
	if c.Positions.AdverseThresholdPct <= 0 || c.Positions.AdverseThresholdPct >= 1 {
		return fmt.Errorf("adverse_threshold_pct must be between 0 and 1")
	}

	return nil
}

// Frequency returns the configured bar frequency.
func (c *Config) Frequency() models.BarFrequency {
	return models.BarFrequency(c.Provider.Frequency)
}
