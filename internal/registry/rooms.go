package registry

import (
	"fmt"
	"sort"

	"chatd/internal/session"
)

// Rooms maps room names to their member sets.  A room exists exactly
// while it has at least one member: the first Join creates it and the
// Leave that empties it deletes it.
type Rooms struct {
	rooms map[string]map[uint64]*session.Session
}

// NewRooms returns an empty room registry.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[uint64]*session.Session)}
}

// Join adds s to the named room, creating the room if needed, and sets
// s.Room.  It returns the members that were already present, ordered
// by session ID.  s must not be in a room; call Leave first.
func (r *Rooms) Join(s *session.Session, name string) (existing []*session.Session) {
	if s.Room != "" {
		panic(fmt.Sprintf("registry: %s joining %q while still in %q", s, name, s.Room))
	}
	members, ok := r.rooms[name]
	if !ok {
		members = make(map[uint64]*session.Session)
		r.rooms[name] = members
	}
	existing = sorted(members)
	members[s.ID] = s
	s.Room = name
	return existing
}

// Leave removes s from its room and clears s.Room.  It returns the room
// name and the remaining members ordered by session ID; remaining is
// empty when the room was deleted.  ok is false if s was not in a room.
func (r *Rooms) Leave(s *session.Session) (name string, remaining []*session.Session, ok bool) {
	if s.Room == "" {
		return "", nil, false
	}
	name = s.Room
	members := r.rooms[name]
	if members[s.ID] != s {
		panic(fmt.Sprintf("registry: %s claims room %q but is not a member", s, name))
	}
	delete(members, s.ID)
	s.Room = ""
	if len(members) == 0 {
		delete(r.rooms, name)
		return name, nil, true
	}
	return name, sorted(members), true
}

// Members returns the members of the named room ordered by session ID,
// or nil if the room does not exist.
func (r *Rooms) Members(name string) []*session.Session {
	return sorted(r.rooms[name])
}

// Exists reports whether the named room currently exists.
func (r *Rooms) Exists(name string) bool {
	_, ok := r.rooms[name]
	return ok
}

// Len returns the number of existing rooms.
func (r *Rooms) Len() int { return len(r.rooms) }

// Names returns the existing room names in lexical order.
func (r *Rooms) Names() []string {
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sorted(members map[uint64]*session.Session) []*session.Session {
	if len(members) == 0 {
		return nil
	}
	out := make([]*session.Session, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
