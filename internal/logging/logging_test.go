package logging

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestNewLoggerWithConfigWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "state.log")
	logger := NewLoggerWithConfig(LogConfig{Level: "info", File: true, FilePath: path, MaxSize: 1})
	logger.Info().Msg("hello")
	assert.FileExists(t, path)
}

func TestConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithConfig(LogConfig{Level: "info", Console: true, ConsoleOut: &buf, NoColor: true})
	logger.Warn().Str("fill_id", "F1").Msg("Rejected invalid fill")
	logger.Debug().Msg("hidden")

	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "Rejected invalid fill")
	assert.Contains(t, out, "fill_id=F1")
	assert.NotContains(t, out, "\033[")
	assert.NotContains(t, out, "hidden")
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	LogFill(WithComponent(base, "ledger"), "F1", "RELIANCE", "BUY", 10, 2500, 0)
	out := buf.String()
	assert.Contains(t, out, `"component":"ledger"`)
	assert.Contains(t, out, `"fill_id":"F1"`)
	assert.Contains(t, out, `"message":"Fill applied"`)

	buf.Reset()
	LogCheckpoint(WithStrategy(WithSymbol(base, "TCS"), "momentum"), "cadence", 10, 101000, time.Millisecond, errors.New("disk full"))
	out = buf.String()
	require.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"symbol":"TCS"`)
	assert.Contains(t, out, `"strategy":"momentum"`)
	assert.Contains(t, out, "disk full")

	buf.Reset()
	LogCheckpoint(base, "interval", 10, 101000, time.Millisecond, nil)
	assert.Contains(t, buf.String(), `"message":"Checkpoint saved"`)
}
