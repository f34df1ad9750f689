// Package config defines the runtime configuration for chatd and
// provides helpers for parsing and validating listener ports.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	chaterr "chatd/internal/errors"
)

// Config holds every tuneable for a chatd server process.
type Config struct {
	// ── Listeners ────────────────────────────────────────────────────
	Host         string // bind address; empty binds all interfaces
	Port         int    // TCP chat port (required)
	WSPort       int    // WebSocket port; 0 disables the WebSocket listener
	WSPath       string // HTTP path upgraded to WebSocket
	BindAttempts int    // tries before giving up on a busy port

	// ── Sessions ─────────────────────────────────────────────────────
	MaxLineLength int           // longest accepted unterminated line
	WriteTimeout  time.Duration // deadline for one outbound write

	// ── Output ───────────────────────────────────────────────────────
	Verbose       int
	StatsInterval time.Duration // 0 disables periodic stats logging
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Host:          DefaultHost,
		WSPath:        DefaultWSPath,
		BindAttempts:  DefaultBindAttempts,
		MaxLineLength: DefaultMaxLineLength,
		WriteTimeout:  DefaultWriteTimeout,
		Verbose:       DefaultVerbosity,
	}
}

// ── Port helpers ─────────────────────────────────────────────────────

// ParsePort accepts a decimal port number in 1-65535.
func ParsePort(arg string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", arg)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port == 0 {
		return &chaterr.ConfigError{
			Field:   "port",
			Message: "listening port is required",
			Hint:    "pass it as the only argument: chatd 7000",
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &chaterr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
			Hint:    "use a port between 1 and 65535",
		}
	}

	if c.WSPort != 0 {
		if c.WSPort < 1 || c.WSPort > 65535 {
			return &chaterr.ConfigError{
				Field:   "ws-port",
				Value:   c.WSPort,
				Message: "out of range 1-65535",
			}
		}
		if c.WSPort == c.Port {
			return &chaterr.ConfigError{
				Field:   "ws-port",
				Value:   c.WSPort,
				Message: "must differ from the TCP port",
				Hint:    "omit --ws-port to serve TCP only",
			}
		}
		if !strings.HasPrefix(c.WSPath, "/") {
			return &chaterr.ConfigError{
				Field:   "ws-path",
				Value:   c.WSPath,
				Message: "must start with /",
			}
		}
	}

	if c.MaxLineLength < 1 {
		return &chaterr.ConfigError{
			Field:   "max-line",
			Value:   c.MaxLineLength,
			Message: "must be positive",
		}
	}
	if c.WriteTimeout <= 0 {
		return &chaterr.ConfigError{
			Field:   "write-timeout",
			Value:   c.WriteTimeout,
			Message: "must be positive",
			Hint:    "a client that stops reading would stall every other client",
		}
	}
	if c.StatsInterval < 0 {
		return &chaterr.ConfigError{
			Field:   "stats-interval",
			Value:   c.StatsInterval,
			Message: "must not be negative",
		}
	}
	if c.BindAttempts < 1 {
		return &chaterr.ConfigError{
			Field:   "bind-attempts",
			Value:   c.BindAttempts,
			Message: "must be at least 1",
		}
	}

	return nil
}
