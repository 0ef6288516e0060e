package infra

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-aid-sync/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestSetupLogger_TagsServiceAndNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aidsync.log")
	cfg := &config.Config{LogLevel: "WARN", LogFormat: "json", LogFile: path, NodeID: 7}

	logger := SetupLogger(cfg, "relay")
	Component(logger, "tracker").Info("dropped below level")
	Component(logger, "tracker").Warn("Snapshot write failed", "error", "disk full")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "relay", rec["service"])
	assert.EqualValues(t, 7, rec["node_id"])
	assert.Equal(t, "tracker", rec["component"])
	assert.Equal(t, "disk full", rec["error"])
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	Component(newLogger(&buf, "TEXT", slog.LevelInfo), "broker").Info("RabbitMQ link up")
	assert.Contains(t, buf.String(), "component=broker")
	assert.Contains(t, buf.String(), `msg="RabbitMQ link up"`)
}
