// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// InitFromEnv installs a default logger from LOG_LEVEL and LOG_FORMAT. It is
// used before the configuration is loaded.
func InitFromEnv() {
	InitLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// New builds a logger writing to w without touching the process default.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithPeer returns a logger carrying the peer's client id and remote address.
func WithPeer(clientID int, remoteAddr string) *slog.Logger {
	return slog.Default().With("client_id", clientID, "remote_addr", remoteAddr)
}

// WithSubscriber returns a logger carrying the subscriber id.
func WithSubscriber(subscriberID string) *slog.Logger {
	return slog.Default().With("subscriber_id", subscriberID)
}
