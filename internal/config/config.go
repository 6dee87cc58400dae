// Package config provides configuration management for the portfolio state service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/logging"
	"portfolio-state/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Bus        BusConfig        `mapstructure:"bus"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Store      StoreConfig      `mapstructure:"store"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	UI         UIConfig         `mapstructure:"ui"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// ServiceConfig holds state service configuration.
type ServiceConfig struct {
	Mode            string  `mapstructure:"mode"` // "live", "paper"
	StartingCapital float64 `mapstructure:"starting_capital"`
	QueueSize       int     `mapstructure:"queue_size"`
	Timezone        string  `mapstructure:"timezone"`
}

// CheckpointConfig holds checkpoint cadence and storage configuration.
type CheckpointConfig struct {
	Dir                    string        `mapstructure:"dir"`
	EveryFills             int           `mapstructure:"every_fills"`
	Interval               time.Duration `mapstructure:"interval"`
	Timeout                time.Duration `mapstructure:"timeout"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	HistoryLimit           int           `mapstructure:"history_limit"`
}

// BusConfig holds event bus configuration.
type BusConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

// LedgerConfig holds ledger configuration.
type LedgerConfig struct {
	DedupCapacity int `mapstructure:"dedup_capacity"`
}

// FeedConfig holds the upstream fill feed configuration.
type FeedConfig struct {
	URL                  string        `mapstructure:"url"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	InitialBackoff       time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
}

// StoreConfig holds SQLite history configuration.
type StoreConfig struct {
	Path    string `mapstructure:"path"`
	Journal bool   `mapstructure:"journal"`
}

// AlertsConfig holds checkpoint failure alert channels.
type AlertsConfig struct {
	Terminal       bool          `mapstructure:"terminal"`
	Bell           bool          `mapstructure:"bell"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// UIConfig holds CLI output configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	TimeFormat   string `mapstructure:"time_format"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/portfolio-state"
	}
	return filepath.Join(home, ".config", "portfolio-state")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is created from the template.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.mode", "paper")
	v.SetDefault("service.starting_capital", 100000.0)
	v.SetDefault("service.queue_size", 1024)
	v.SetDefault("service.timezone", "Asia/Kolkata")

	v.SetDefault("checkpoint.dir", "state")
	v.SetDefault("checkpoint.every_fills", 10)
	v.SetDefault("checkpoint.interval", "30s")
	v.SetDefault("checkpoint.timeout", "5s")
	v.SetDefault("checkpoint.max_consecutive_failures", 5)
	v.SetDefault("checkpoint.history_limit", 100)

	v.SetDefault("bus.history_size", 1000)
	v.SetDefault("ledger.dedup_capacity", 10000)

	v.SetDefault("feed.url", "")
	v.SetDefault("feed.max_reconnect_attempts", 10)
	v.SetDefault("feed.initial_backoff", "500ms")
	v.SetDefault("feed.max_backoff", "30s")
	v.SetDefault("feed.ping_interval", "20s")

	v.SetDefault("store.path", "state/history.db")
	v.SetDefault("store.journal", true)

	v.SetDefault("alerts.terminal", true)
	v.SetDefault("alerts.bell", true)
	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.webhook_timeout", "10s")

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", logDefaults.FilePath)
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.time_format", "02-Jan-2006 15:04:05")
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, create template and continue on defaults
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORTFOLIO_MODE"); v != "" {
		cfg.Service.Mode = v
	}
	if v := os.Getenv("PORTFOLIO_STARTING_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Service.StartingCapital = f
		}
	}
	if v := os.Getenv("PORTFOLIO_CHECKPOINT_DIR"); v != "" {
		cfg.Checkpoint.Dir = v
	}
	if v := os.Getenv("PORTFOLIO_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("PORTFOLIO_ALERT_WEBHOOK"); v != "" {
		cfg.Alerts.WebhookURL = v
	}
	if v := os.Getenv("PORTFOLIO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// resolvePaths makes relative state paths relative to the config directory.
func (c *Config) resolvePaths() {
	if c.Checkpoint.Dir != "" && !filepath.IsAbs(c.Checkpoint.Dir) {
		c.Checkpoint.Dir = filepath.Join(c.Dir, c.Checkpoint.Dir)
	}
	if c.Store.Path != "" && !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(c.Dir, c.Store.Path)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !models.Mode(c.Service.Mode).IsValid() {
		return invalid("invalid mode: %s (must be 'live' or 'paper')", c.Service.Mode)
	}
	if c.Service.StartingCapital <= 0 {
		return invalid("starting_capital must be positive")
	}
	if c.Service.QueueSize <= 0 {
		return invalid("queue_size must be positive")
	}
	if c.Checkpoint.Dir == "" {
		return invalid("checkpoint.dir must be set")
	}
	if c.Checkpoint.EveryFills <= 0 {
		return invalid("checkpoint.every_fills must be positive")
	}
	if c.Checkpoint.Interval < 0 {
		return invalid("checkpoint.interval must be non-negative")
	}
	if c.Checkpoint.Timeout <= 0 {
		return invalid("checkpoint.timeout must be positive")
	}
	if c.Checkpoint.MaxConsecutiveFailures <= 0 {
		return invalid("checkpoint.max_consecutive_failures must be positive")
	}
	if c.Bus.HistorySize < 0 {
		return invalid("bus.history_size must be non-negative")
	}
	if c.Ledger.DedupCapacity <= 0 {
		return invalid("ledger.dedup_capacity must be positive")
	}
	if c.Feed.InitialBackoff < 0 || c.Feed.MaxBackoff < 0 {
		return invalid("feed backoff must be non-negative")
	}
	if c.Alerts.WebhookTimeout < 0 {
		return invalid("alerts.webhook_timeout must be non-negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// TradingMode returns the configured mode.
func (c *Config) TradingMode() models.Mode {
	return models.Mode(c.Service.Mode)
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.TradingMode() == models.ModePaper
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		NoColor:    !c.UI.ColorEnabled,
	}
}
