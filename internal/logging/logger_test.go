package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/moodtrack/internal/config"
)

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "WARN", "error"} {
		for _, format := range []string{"", "json", "text"} {
			logger, err := New(config.LoggingConfig{Level: level, Format: format})
			require.NoError(t, err, "level %q format %q", level, format)
			require.NotNil(t, logger)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "verbose"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Format: "binary"})
	require.Error(t, err)
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("dropped")
	logger.Info("kept", "key", "entries")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug records are filtered at info level")
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	require.Equal(t, "moodtrack", record["component"])
	require.Equal(t, "kept", record["msg"])
	require.Equal(t, "entries", record["key"])
}

func TestCorrelationContext(t *testing.T) {
	ctx := context.Background()
	require.Empty(t, CorrelationID(ctx))

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	FromContext(ctx, base).Info("plain")
	require.NotContains(t, buf.String(), "correlation_id")

	ctx = WithCorrelationID(ctx, "req-1")
	require.Equal(t, "req-1", CorrelationID(ctx))
	FromContext(ctx, base).Info("tagged")
	require.Contains(t, buf.String(), `"correlation_id":"req-1"`)
}
