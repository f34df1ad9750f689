package registry

import (
	"fmt"

	chaterr "chatd/internal/errors"
	"chatd/internal/session"
)

// Nicks maps nicknames to sessions.  Each nickname is bound to at most
// one session, and a session's Nick field always names its own entry.
type Nicks struct {
	byNick map[string]*session.Session
}

// NewNicks returns an empty nick registry.
func NewNicks() *Nicks {
	return &Nicks{byNick: make(map[string]*session.Session)}
}

// Bind gives nick to s, releasing the nick s held before.  It returns
// the previous nick (empty if none).  Binding the nick s already holds
// is a no-op; binding a nick held by another session fails with
// ErrNickInUse and changes nothing.
func (n *Nicks) Bind(s *session.Session, nick string) (old string, err error) {
	if owner, ok := n.byNick[nick]; ok {
		if owner.ID == s.ID {
			return nick, nil
		}
		return "", fmt.Errorf("%q: %w", nick, chaterr.ErrNickInUse)
	}
	old = s.Nick
	if old != "" {
		n.release(s)
	}
	n.byNick[nick] = s
	s.Nick = nick
	return old, nil
}

// Unbind releases the nick held by s, if any, and clears s.Nick.
func (n *Nicks) Unbind(s *session.Session) {
	if s.Nick == "" {
		return
	}
	n.release(s)
	s.Nick = ""
}

func (n *Nicks) release(s *session.Session) {
	if n.byNick[s.Nick] != s {
		panic(fmt.Sprintf("registry: %s holds nick %q without a matching entry", s, s.Nick))
	}
	delete(n.byNick, s.Nick)
}

// Lookup returns the session bound to nick.
func (n *Nicks) Lookup(nick string) (*session.Session, bool) {
	s, ok := n.byNick[nick]
	return s, ok
}

// Len returns the number of bound nicknames.
func (n *Nicks) Len() int { return len(n.byNick) }
