// Package chat interprets client command lines.
//
// The Dispatcher is the only code that mutates the registry.  It runs on
// the reactor goroutine, one line at a time, so every command is atomic
// with respect to every other command on every connection.
package chat

import (
	"fmt"

	chaterr "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/protocol"
	"chatd/internal/registry"
	"chatd/internal/session"
	"chatd/util"
)

// Outbox delivers events to sessions.  Send must not block indefinitely
// and must not call back into the Dispatcher; a delivery failure is the
// Outbox's business (the reactor marks the target for teardown).
type Outbox interface {
	Send(to *session.Session, ev protocol.Event)
}

// Outcome tells the caller what to do with the session after a line.
type Outcome int

const (
	// Continue means keep processing lines for this session.
	Continue Outcome = iota
	// Close means the session asked to leave; drop its remaining
	// lines and tear it down.
	Close
)

// Dispatcher applies commands to the registry and emits the resulting
// replies and notifications through an Outbox.
type Dispatcher struct {
	reg     *registry.Registry
	out     Outbox
	logger  *util.Logger
	metrics *metrics.Collector
}

// New creates a Dispatcher.  logger and m may be nil.
func New(reg *registry.Registry, out Outbox, logger *util.Logger, m *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Dispatcher{reg: reg, out: out, logger: logger, metrics: m}
}

// Handle processes one framed line from s.
func (d *Dispatcher) Handle(s *session.Session, line string) Outcome {
	cmd := protocol.Parse(line)
	if cmd.Kind == protocol.KindEmpty {
		return Continue
	}
	d.metrics.CommandDispatched()

	var err error
	switch cmd.Kind {
	case protocol.KindNick:
		err = d.nick(s, cmd.Arg)
	case protocol.KindJoin:
		err = d.join(s, cmd.Arg)
	case protocol.KindLeave:
		err = d.leave(s)
	case protocol.KindBye:
		d.out.Send(s, protocol.Bye())
		return Close
	case protocol.KindPriv:
		err = d.priv(s, cmd.Arg, cmd.Text)
	case protocol.KindMessage:
		// Broadcasts are not acknowledged.
		if err = d.message(s, cmd.Text); err == nil {
			return Continue
		}
	default:
		err = fmt.Errorf("%q: %w", line, chaterr.ErrUnknownCommand)
	}

	if err != nil {
		d.metrics.ProtocolError()
		if chaterr.IsProtocol(err) {
			d.logger.Debug("%s: %s: %v", s, cmd.Kind, err)
		} else {
			d.logger.Warn("%s: %s: unexpected error: %v", s, cmd.Kind, err)
		}
		d.out.Send(s, protocol.Error())
		return Continue
	}
	d.out.Send(s, protocol.OK())
	return Continue
}

func (d *Dispatcher) nick(s *session.Session, name string) error {
	if !protocol.ValidName(name) {
		return fmt.Errorf("nick %q: %w", name, chaterr.ErrInvalidName)
	}
	old, err := d.reg.Nicks.Bind(s, name)
	if err != nil {
		return err
	}
	if old == "" || old == name {
		return nil
	}
	if s.Room != "" {
		d.broadcast(s, protocol.NewNick(old, name))
	}
	return nil
}

func (d *Dispatcher) join(s *session.Session, room string) error {
	if !protocol.ValidName(room) {
		return fmt.Errorf("room %q: %w", room, chaterr.ErrInvalidName)
	}
	if s.Nick == "" {
		return chaterr.ErrNoNick
	}
	d.leaveRoom(s)

	for _, m := range d.reg.Rooms.Join(s, room) {
		d.out.Send(m, protocol.Joined(s.Nick))
	}
	d.logger.Verbose("%s joined %q", s, room)
	return nil
}

func (d *Dispatcher) leave(s *session.Session) error {
	if s.State() != session.StateInside {
		return chaterr.ErrNotInRoom
	}
	d.leaveRoom(s)
	return nil
}

// leaveRoom removes s from its room, if any, and tells the members left
// behind.  The registry deletes the room when s was the last member.
func (d *Dispatcher) leaveRoom(s *session.Session) {
	room, remaining, ok := d.reg.Rooms.Leave(s)
	if !ok {
		return
	}
	for _, m := range remaining {
		d.out.Send(m, protocol.Left(s.Nick))
	}
	d.logger.Verbose("%s left %q", s, room)
}

func (d *Dispatcher) priv(s *session.Session, target, text string) error {
	if s.Nick == "" {
		return chaterr.ErrNoNick
	}
	to, ok := d.reg.Nicks.Lookup(target)
	if !ok {
		return fmt.Errorf("%q: %w", target, chaterr.ErrUnknownNick)
	}
	d.out.Send(to, protocol.Private(s.Nick, text))
	return nil
}

func (d *Dispatcher) message(s *session.Session, text string) error {
	if s.State() != session.StateInside {
		return chaterr.ErrNotInRoom
	}
	d.broadcast(s, protocol.Message(s.Nick, text))
	return nil
}

// broadcast sends ev to every member of s's room except s.
func (d *Dispatcher) broadcast(s *session.Session, ev protocol.Event) {
	for _, m := range d.reg.Rooms.Members(s.Room) {
		if m.ID != s.ID {
			d.out.Send(m, ev)
		}
	}
}

// Disconnect performs the registry half of tearing s down: it leaves the
// room, notifying the members left behind, then releases the nick.  It
// is safe to call for a session that never registered anything.
func (d *Dispatcher) Disconnect(s *session.Session) {
	nick := s.Nick
	room, remaining := d.reg.Release(s)
	for _, m := range remaining {
		d.out.Send(m, protocol.Left(nick))
	}
	if room != "" {
		d.logger.Verbose("#%d left %q on disconnect", s.ID, room)
	}
}
