package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags and environment variable loading.

const (
	// DefaultHost binds every interface.
	DefaultHost = ""

	// DefaultWSPath is the HTTP path upgraded to a WebSocket session.
	DefaultWSPath = "/chat"

	// DefaultBindAttempts is how many times to try binding a busy port.
	DefaultBindAttempts = 1

	// DefaultMaxLineLength bounds the bytes buffered for one command
	// line that has not seen its terminating newline yet.
	DefaultMaxLineLength = 64 * 1024

	// DefaultWriteTimeout is the deadline for a single outbound write.
	// A client that cannot absorb one line within it is disconnected.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultVerbosity prints accept/close events.
	DefaultVerbosity = 1
)
