package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

func parseLogLevel(input string) (slog.Level, string, error) {
	level := strings.ToLower(strings.TrimSpace(input))
	switch level {
	case "", "info":
		return slog.LevelInfo, "info", nil
	case "debug":
		return slog.LevelDebug, "debug", nil
	case "warn", "warning":
		return slog.LevelWarn, "warn", nil
	case "error", "err":
		return slog.LevelError, "error", nil
	default:
		return slog.LevelInfo, "", fmt.Errorf("unsupported log level %q", input)
	}
}

// newLogger writes text logs to w. Stdout is reserved for command output
// and the MCP stdio transport, so callers pass stderr.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, _, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
