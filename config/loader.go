package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the CHATD_ prefix.  Durations are given
// in whole seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// well-formed env vars override the existing value.  This should be
// called BEFORE CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CHATD_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("CHATD_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := envInt("CHATD_WS_PORT"); v > 0 {
		cfg.WSPort = v
	}
	if v := os.Getenv("CHATD_WS_PATH"); v != "" {
		cfg.WSPath = v
	}
	if v := envInt("CHATD_BIND_ATTEMPTS"); v > 0 {
		cfg.BindAttempts = v
	}

	// Sessions
	if v := envInt("CHATD_MAX_LINE"); v > 0 {
		cfg.MaxLineLength = v
	}
	if v := envInt("CHATD_WRITE_TIMEOUT"); v > 0 {
		cfg.WriteTimeout = secondsDuration(v)
	}

	// Output
	if v, ok := envIntSet("CHATD_VERBOSE"); ok && v >= 0 {
		cfg.Verbose = v
	}
	if v := envInt("CHATD_STATS_INTERVAL"); v > 0 {
		cfg.StatsInterval = secondsDuration(v)
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	n, _ := envIntSet(key)
	return n
}

// envIntSet distinguishes an explicit "0" from an unset variable.
func envIntSet(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
