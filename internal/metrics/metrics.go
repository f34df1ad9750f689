// Package metrics provides lightweight, lock-free counters for tracking
// runtime statistics of a chatd server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a chatd server.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	commands          atomic.Int64
	protocolErrors    atomic.Int64
	connErrors        atomic.Int64
	panics            atomic.Int64
	rooms             atomic.Int64
	nicks             atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from a client.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to a client.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Dispatch metrics ─────────────────────────────────────────────────

// CommandDispatched counts one framed line handed to the dispatcher.
func (c *Collector) CommandDispatched() {
	if c == nil {
		return
	}
	c.commands.Add(1)
}

// Commands returns the number of dispatched lines.
func (c *Collector) Commands() int64 {
	if c == nil {
		return 0
	}
	return c.commands.Load()
}

// ProtocolError counts one ERROR reply.
func (c *Collector) ProtocolError() {
	if c == nil {
		return
	}
	c.protocolErrors.Add(1)
}

// ProtocolErrors returns the number of ERROR replies sent.
func (c *Collector) ProtocolErrors() int64 {
	if c == nil {
		return 0
	}
	return c.protocolErrors.Load()
}

// SetRegistrySize records the current number of rooms and bound nicks.
func (c *Collector) SetRegistrySize(rooms, nicks int) {
	if c == nil {
		return
	}
	c.rooms.Store(int64(rooms))
	c.nicks.Store(int64(nicks))
}

// ── Error metrics ────────────────────────────────────────────────────

// ConnectionError records a connection torn down by an I/O failure.
func (c *Collector) ConnectionError(msg string) {
	if c == nil {
		return
	}
	c.connErrors.Add(1)
	c.recordLast(msg)
}

// ConnectionErrors returns the number of connections lost to errors.
func (c *Collector) ConnectionErrors() int64 {
	if c == nil {
		return 0
	}
	return c.connErrors.Load()
}

// PanicRecovered records a dispatch panic caught by the loop.
func (c *Collector) PanicRecovered(v interface{}) {
	if c == nil {
		return
	}
	c.panics.Add(1)
	c.recordLast(fmt.Sprintf("panic: %v", v))
}

// Panics returns the number of recovered dispatch panics.
func (c *Collector) Panics() int64 {
	if c == nil {
		return 0
	}
	return c.panics.Load()
}

func (c *Collector) recordLast(msg string) {
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	Commands          int64  `json:"commands"`
	ProtocolErrors    int64  `json:"protocol_errors"`
	ConnectionErrors  int64  `json:"connection_errors"`
	Panics            int64  `json:"panics"`
	Rooms             int64  `json:"rooms"`
	Nicks             int64  `json:"nicks"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		Commands:          c.commands.Load(),
		ProtocolErrors:    c.protocolErrors.Load(),
		ConnectionErrors:  c.connErrors.Load(),
		Panics:            c.panics.Load(),
		Rooms:             c.rooms.Load(),
		Nicks:             c.nicks.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// String renders the snapshot on one line for the log.
func (s Snapshot) String() string {
	return fmt.Sprintf("up %s, %d/%d conns, %d rooms, %d nicks, %d cmds, %d errors, in %dB out %dB",
		s.Uptime, s.ConnectionsActive, s.ConnectionsTotal, s.Rooms, s.Nicks,
		s.Commands, s.ProtocolErrors, s.BytesIn, s.BytesOut)
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
