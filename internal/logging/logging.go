// Package logging configures structured logging for brapi-mcp.
//
// All output goes to stderr: in MCP stdio mode stdout belongs to the
// transport and must never be written to.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a slog.Logger writing text records to stderr at the given
// level. Unknown level strings fall back to info.
func New(level string) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(h)
}

// ParseLevel maps a config-supplied level name to a slog.Level.
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
