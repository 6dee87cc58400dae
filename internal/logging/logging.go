// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days

	// ConsoleOut overrides the console destination (default os.Stderr).
	ConsoleOut io.Writer
	NoColor    bool
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "portfolio-state", "logs", "state.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

var levelLabels = map[string]struct {
	label string
	color string
}{
	"debug": {"DBG", "36"},
	"info":  {"INF", "32"},
	"warn":  {"WRN", "33"},
	"error": {"ERR", "31"},
	"fatal": {"FTL", "35"},
}

func formatLevel(noColor bool) zerolog.Formatter {
	return func(i interface{}) string {
		name, ok := i.(string)
		if !ok {
			return "???"
		}
		l, ok := levelLabels[name]
		if !ok {
			return strings.ToUpper(name)
		}
		if noColor {
			return l.label
		}
		return "\033[" + l.color + "m" + l.label + "\033[0m"
	}
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
// Without any writer enabled it logs to stderr.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		out := cfg.ConsoleOut
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:         out,
			NoColor:     cfg.NoColor,
			TimeFormat:  time.RFC3339,
			FormatLevel: formatLevel(cfg.NoColor),
		})
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stderr
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	level := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithComponent tags the logger with a component name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithStrategy adds a strategy id to the logger context.
func WithStrategy(logger zerolog.Logger, strategy string) zerolog.Logger {
	return logger.With().Str("strategy", strategy).Logger()
}

// LogFill logs an applied fill.
func LogFill(logger zerolog.Logger, fillID, symbol, side string, qty int, price, realized float64) {
	logger.Info().
		Str("event", "fill").
		Str("fill_id", fillID).
		Str("symbol", symbol).
		Str("side", side).
		Int("quantity", qty).
		Float64("price", price).
		Float64("realized_pnl", realized).
		Msg("Fill applied")
}

// LogCheckpoint logs the outcome of a checkpoint write.
func LogCheckpoint(logger zerolog.Logger, reason string, fillsApplied int64, equity float64, duration time.Duration, err error) {
	if err != nil {
		logger.Error().
			Str("event", "checkpoint").
			Str("reason", reason).
			Int64("fills_applied", fillsApplied).
			Dur("duration", duration).
			Err(err).
			Msg("Checkpoint failed")
		return
	}
	logger.Info().
		Str("event", "checkpoint").
		Str("reason", reason).
		Int64("fills_applied", fillsApplied).
		Float64("equity", equity).
		Dur("duration", duration).
		Msg("Checkpoint saved")
}
