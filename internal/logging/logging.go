package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup builds the SDK logger. The library stays quiet by default: only
// warnings and errors reach the output unless the caller raises the level.
// Each call gets its own level var, so independently configured clients
// do not re-level each other.
func Setup(level string, out io.Writer) (*slog.Logger, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "warn"
	}
	lv := new(slog.LevelVar)
	if err := lv.UnmarshalText([]byte(normalized)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	if out == nil {
		out = os.Stderr
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: lv,
	})
	return slog.New(handler), nil
}

// LevelFor maps the debug/verbose configuration flags to a log level.
// Verbose wins over debug.
func LevelFor(debug, verbose bool) string {
	switch {
	case verbose:
		return "debug"
	case debug:
		return "info"
	default:
		return "warn"
	}
}
