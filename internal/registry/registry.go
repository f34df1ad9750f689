// Package registry keeps the server-wide room and nickname tables.
//
// Both tables are owned by the reactor goroutine and are deliberately
// unsynchronized: every mutation happens while dispatching a single
// command, one command at a time.  The registry is constructed once and
// handed to the dispatcher explicitly; there is no package-level state.
package registry

import (
	"fmt"

	"chatd/internal/session"
)

// Registry bundles the room and nick tables.
type Registry struct {
	Rooms *Rooms
	Nicks *Nicks
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{Rooms: NewRooms(), Nicks: NewNicks()}
}

// Release performs the registry part of tearing a session down, in
// order: leave its room, then release its nick.  It returns the room s
// left and the members still in it, so the caller can notify them.
func (r *Registry) Release(s *session.Session) (room string, remaining []*session.Session) {
	room, remaining, _ = r.Rooms.Leave(s)
	r.Nicks.Unbind(s)
	return room, remaining
}

// Check verifies the cross-table invariants against the set of live
// sessions and returns the first violation found.
//
//   - a nick entry exists iff some live session holds that nick
//   - a room exists iff it has members, and every member is live,
//     names that room and holds a nick
//   - every live session that names a room is a member of it
func (r *Registry) Check(live []*session.Session) error {
	byID := make(map[uint64]*session.Session, len(live))
	for _, s := range live {
		byID[s.ID] = s
	}

	for nick, s := range r.Nicks.byNick {
		if byID[s.ID] != s {
			return fmt.Errorf("nick %q bound to dead session %s", nick, s)
		}
		if s.Nick != nick {
			return fmt.Errorf("nick %q bound to %s which holds %q", nick, s, s.Nick)
		}
	}

	for name, members := range r.Rooms.rooms {
		if len(members) == 0 {
			return fmt.Errorf("room %q exists with no members", name)
		}
		for id, m := range members {
			if m.ID != id || byID[id] != m {
				return fmt.Errorf("room %q holds dead or mis-keyed session %s", name, m)
			}
			if m.Room != name {
				return fmt.Errorf("room %q holds %s which names %q", name, m, m.Room)
			}
			if m.State() != session.StateInside {
				return fmt.Errorf("room %q holds %s in state %v", name, m, m.State())
			}
		}
	}

	for _, s := range live {
		if s.Nick != "" {
			if owner, ok := r.Nicks.byNick[s.Nick]; !ok || owner != s {
				return fmt.Errorf("%s holds nick %q without an entry", s, s.Nick)
			}
		}
		if s.Room != "" {
			if r.Rooms.rooms[s.Room][s.ID] != s {
				return fmt.Errorf("%s names room %q but is not a member", s, s.Room)
			}
		}
	}
	return nil
}
