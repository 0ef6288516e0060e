package infra

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Guizzs26/go-aid-sync/internal/config"
)

// SetupLogger builds the process logger for one binary. Records carry the
// binary name and the node id so relays sharing a log file stay apart.
func SetupLogger(cfg *config.Config, service string) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file %s unavailable, logging to stdout only: %v\n", cfg.LogFile, err)
		} else {
			out = io.MultiWriter(os.Stdout, logFile)
		}
	}
	return newLogger(out, cfg.LogFormat, ParseLevel(cfg.LogLevel)).With(
		"service", service,
		"node_id", cfg.NodeID,
	)
}

func newLogger(out io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "JSON") {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// ParseLevel maps LOG_LEVEL values; anything unknown is INFO
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component scopes a logger to one pipeline stage
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}
