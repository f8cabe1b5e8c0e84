// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the bridge.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	defaultTCPPort         = 3001
	defaultSocketPort      = 3002
	defaultMaxMessageSize  = 4096
	defaultMaxFrameSize    = 64 * 1024
	defaultRateBurst       = 5
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultAllowedOrigin   = "http://localhost:3000"
)

// RateLimitConfig defines the parameters for per-subscriber request rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the bridge configuration settings.
type Config struct {
	Host            string
	TCPPort         int
	SocketPort      int
	AllowedOrigins  []string
	MaxMessageSize  int64
	MaxFrameSize    int
	RateLimit       RateLimitConfig
	PeerIdleTimeout time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

// rawConfig mirrors the environment before any value is parsed, so that a
// malformed variable degrades to its default instead of failing the load.
type rawConfig struct {
	Host            string `env:"BIND_HOST"`
	TCPPort         string `env:"TCP_PORT" default:"3001"`
	SocketPort      string `env:"SOCKET_PORT" default:"3002"`
	AllowedOrigins  string `env:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	MaxMessageSize  string `env:"MAX_MESSAGE_SIZE" default:"4096"`
	MaxFrameSize    string `env:"MAX_FRAME_SIZE" default:"65536"`
	RateBurst       string `env:"RATE_LIMIT_BURST" default:"5"`
	RefillInterval  string `env:"RATE_LIMIT_REFILL_INTERVAL" default:"1"`
	PeerIdleTimeout string `env:"PEER_IDLE_TIMEOUT" default:"0s"`
	ShutdownTimeout string `env:"SHUTDOWN_TIMEOUT" default:"5s"`
	LogLevel        string `env:"LOG_LEVEL" default:"info"`
	LogFormat       string `env:"LOG_FORMAT" default:"text"`
}

var validate = validator.New()

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func defaultConfig() Config {
	return Config{
		TCPPort:        defaultTCPPort,
		SocketPort:     defaultSocketPort,
		AllowedOrigins: []string{defaultAllowedOrigin},
		MaxMessageSize: defaultMaxMessageSize,
		MaxFrameSize:   defaultMaxFrameSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: defaultRefillInterval,
		},
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadConfig reads a .env file when present, then the process environment.
// Invalid values fall back to their defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var raw rawConfig
	if err := env.Load(&raw, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := fromRaw(raw)
	return &cfg, nil
}

func fromRaw(raw rawConfig) Config {
	cfg := defaultConfig()

	cfg.Host = strings.TrimSpace(raw.Host)
	cfg.TCPPort = parsePort("TCP_PORT", raw.TCPPort, defaultTCPPort)
	cfg.SocketPort = parsePort("SOCKET_PORT", raw.SocketPort, defaultSocketPort)

	if origins := parseOrigins(raw.AllowedOrigins); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}

	cfg.MaxMessageSize = parseMaxMessageSize(raw.MaxMessageSize, defaultMaxMessageSize)
	cfg.MaxFrameSize = parseIntValue(raw.MaxFrameSize, defaultMaxFrameSize)
	cfg.RateLimit.Burst = parseIntValue(raw.RateBurst, defaultRateBurst)
	cfg.RateLimit.RefillInterval = parseRefillInterval(raw.RefillInterval, defaultRefillInterval)
	cfg.PeerIdleTimeout = parseDuration(raw.PeerIdleTimeout, 0)
	cfg.ShutdownTimeout = parseDuration(raw.ShutdownTimeout, defaultShutdownTimeout)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	cfg.LogLevel = parseOneOf(raw.LogLevel, "debug info warn error", "info")
	cfg.LogFormat = parseOneOf(raw.LogFormat, "text json", "text")

	return cfg
}

// TCPAddr returns the host:port the peer listener binds to.
func (c Config) TCPAddr() string {
	return joinHostPort(c.Host, c.TCPPort)
}

// SocketAddr returns the host:port the subscriber HTTP server binds to.
func (c Config) SocketAddr() string {
	return joinHostPort(c.Host, c.SocketPort)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func parsePort(name, value string, defaultValue int) int {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("Ignoring non-numeric port", "variable", name, "value", value, "default", defaultValue)
		return defaultValue
	}
	if err := validate.Var(port, "min=1,max=65535"); err != nil {
		slog.Warn("Ignoring out-of-range port", "variable", name, "value", port, "default", defaultValue)
		return defaultValue
	}
	return port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d >= 0 {
		return d
	}
	return defaultValue
}

func parseOneOf(value, allowed, defaultValue string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if err := validate.Var(value, "oneof="+allowed); err != nil {
		return defaultValue
	}
	return value
}
