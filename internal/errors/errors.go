// Package errors provides domain-specific error types for chatd.
//
// Two families live here.  Protocol errors are sentinels returned by the
// command dispatcher; every one of them is reported to the client as a
// single ERROR line and the connection stays open.  Network and config
// errors carry structured context (operation, address, retryability,
// hints) for the reactor and the CLI.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Protocol sentinels ───────────────────────────────────────────────

var (
	ErrInvalidName    = errors.New("invalid name")
	ErrNickInUse      = errors.New("nickname already in use")
	ErrNoNick         = errors.New("nickname not set")
	ErrNotInRoom      = errors.New("not in a room")
	ErrUnknownNick    = errors.New("no such nickname")
	ErrUnknownCommand = errors.New("unknown command")
)

// ── Connection sentinels ─────────────────────────────────────────────

var (
	ErrServerClosed = errors.New("server closed")
	ErrInvalidUTF8  = errors.New("line is not valid UTF-8")
	ErrLineTooLong  = errors.New("line exceeds maximum length")
)

// IsProtocol reports whether err is one of the protocol sentinels, i.e.
// an error the client caused and that is answered with ERROR.
func IsProtocol(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrNickInUse),
		errors.Is(err, ErrNoNick),
		errors.Is(err, ErrNotInRoom),
		errors.Is(err, ErrUnknownNick),
		errors.Is(err, ErrUnknownCommand):
		return true
	}
	return false
}

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "listen", "accept", "read", "write"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsClosed reports whether err is the expected result of using a
// connection or listener after it was closed locally.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrServerClosed)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use chatd/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
