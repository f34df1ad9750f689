package protocol

import (
	"fmt"
	"strings"
)

// EventKind identifies a server-to-client event line.
type EventKind int

const (
	EventOK EventKind = iota
	EventError
	EventJoined
	EventLeft
	EventMessage
	EventNewNick
	EventPrivate
	EventBye
)

var eventNames = [...]string{ //nolint:gochecknoglobals
	EventOK:      "OK",
	EventError:   "ERROR",
	EventJoined:  "JOINED",
	EventLeft:    "LEFT",
	EventMessage: "MESSAGE",
	EventNewNick: "NEWNICK",
	EventPrivate: "PRIVATE",
	EventBye:     "BYE",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one line sent by the server.
type Event struct {
	Kind EventKind
	Nick string // subject of JOINED/LEFT/MESSAGE/PRIVATE, old nick of NEWNICK
	New  string // new nick of NEWNICK
	Text string // body of MESSAGE/PRIVATE
}

// ── Constructors ─────────────────────────────────────────────────────

func OK() Event { return Event{Kind: EventOK} }
func Error() Event { return Event{Kind: EventError} }
func Bye() Event { return Event{Kind: EventBye} }
func Joined(nick string) Event { return Event{Kind: EventJoined, Nick: nick} }
func Left(nick string) Event { return Event{Kind: EventLeft, Nick: nick} }
func NewNick(old, nick string) Event { return Event{Kind: EventNewNick, Nick: old, New: nick} }
func Message(nick, text string) Event { return Event{Kind: EventMessage, Nick: nick, Text: text} }
func Private(nick, text string) Event { return Event{Kind: EventPrivate, Nick: nick, Text: text} }

// String renders the event without its trailing newline.
func (e Event) String() string {
	switch e.Kind {
	case EventJoined, EventLeft:
		return e.Kind.String() + " " + e.Nick
	case EventNewNick:
		return e.Kind.String() + " " + e.Nick + " " + e.New
	case EventMessage, EventPrivate:
		return e.Kind.String() + " " + e.Nick + " " + e.Text
	default:
		return e.Kind.String()
	}
}

// Encode renders the event as a wire line including the newline.
func (e Event) Encode() []byte {
	s := e.String()
	b := make([]byte, 0, len(s)+1)
	b = append(b, s...)
	return append(b, '\n')
}

// ParseEvent decodes one server line (without its newline).  It is the
// inverse of [Event.String] and is used by clients and tests.
func ParseEvent(line string) (Event, error) {
	word, rest, _ := strings.Cut(line, " ")
	switch word {
	case "OK", "ERROR", "BYE":
		if rest != "" {
			return Event{}, fmt.Errorf("unexpected argument in %q", line)
		}
		switch word {
		case "OK":
			return OK(), nil
		case "ERROR":
			return Error(), nil
		default:
			return Bye(), nil
		}
	case "JOINED", "LEFT":
		if rest == "" {
			return Event{}, fmt.Errorf("missing nick in %q", line)
		}
		if word == "JOINED" {
			return Joined(rest), nil
		}
		return Left(rest), nil
	case "NEWNICK":
		old, nick, ok := strings.Cut(rest, " ")
		if !ok || old == "" || nick == "" {
			return Event{}, fmt.Errorf("malformed %q", line)
		}
		return NewNick(old, nick), nil
	case "MESSAGE", "PRIVATE":
		nick, text, ok := strings.Cut(rest, " ")
		if !ok || nick == "" {
			return Event{}, fmt.Errorf("malformed %q", line)
		}
		if word == "MESSAGE" {
			return Message(nick, text), nil
		}
		return Private(nick, text), nil
	default:
		return Event{}, fmt.Errorf("unknown event %q", word)
	}
}
