// Package session holds the server-side state of one client connection:
// its identity, nickname and room, and the framer that turns the raw
// inbound byte stream into command lines.
//
// Sessions are not safe for concurrent use.  The reactor owns every
// session and is the only goroutine that reads or mutates one.
package session

import (
	"fmt"
)

// State is the protocol state of a session.  It is derived from the
// session's nick and room and never stored.
type State int

const (
	// StateInit: no nickname yet.
	StateInit State = iota
	// StateOutside: nickname set, not in a room.
	StateOutside
	// StateInside: nickname set and joined to a room.
	StateInside
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOutside:
		return "outside"
	case StateInside:
		return "inside"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the per-connection state.  ID is the identity used as the
// key in every registry; Nick and Room are empty when unset and are
// only changed through the registry package so that the registries
// stay in lockstep with them.
type Session struct {
	ID   uint64
	Addr string // remote address, for logs

	Nick string
	Room string

	framer
}

// New creates a session in StateInit.  maxLine bounds the size of an
// unterminated line the framer will buffer; 0 means unbounded.
func New(id uint64, addr string, maxLine int) *Session {
	return &Session{
		ID:     id,
		Addr:   addr,
		framer: framer{maxLine: maxLine},
	}
}

// State derives the protocol state from Nick and Room.
func (s *Session) State() State {
	switch {
	case s.Nick == "":
		return StateInit
	case s.Room == "":
		return StateOutside
	default:
		return StateInside
	}
}

func (s *Session) String() string {
	if s.Nick == "" {
		return fmt.Sprintf("#%d", s.ID)
	}
	return fmt.Sprintf("#%d (%s)", s.ID, s.Nick)
}
