// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatText outputs human-readable key=value lines.
	FormatText Format = "text"
	// FormatJSON outputs one JSON object per line.
	FormatJSON Format = "json"
)

// Standard field keys.
const (
	ToolKey    = "tool"
	SessionKey = "session"
	NetworkKey = "network"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum level (debug, info, warn, error). Default: info.
	Level string

	// Format sets the output format. Default: text.
	Format Format

	// Output is the log destination. Default: os.Stderr. Stream mode must
	// never point this at stdout.
	Output io.Writer

	// Quiet discards every record.
	Quiet bool

	AddSource bool
}

// New creates a structured logger from cfg.
func New(cfg Config) *slog.Logger {
	if cfg.Quiet {
		return slog.New(slog.DiscardHandler)
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch Format(strings.ToLower(string(cfg.Format))) {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidFormat reports whether f names a supported format.
func ValidFormat(f Format) bool {
	switch Format(strings.ToLower(string(f))) {
	case FormatText, FormatJSON:
		return true
	}
	return false
}
