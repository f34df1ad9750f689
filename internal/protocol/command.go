// Package protocol implements the chatd line protocol: parsing of
// client command lines and encoding/decoding of server event lines.
//
// Every line is UTF-8 text terminated by a single '\n'.  The newline is
// not part of the line as seen by this package; framing lives in the
// session package.
package protocol

import "strings"

// Kind identifies a parsed client command.
type Kind int

const (
	KindEmpty   Kind = iota // blank line, ignored
	KindNick                // /nick <name>
	KindJoin                // /join <name>
	KindLeave               // /leave
	KindBye                 // /bye
	KindPriv                // /priv <nick> <text>
	KindMessage             // plain text or //escaped text
	KindUnknown             // any other line starting with '/'
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNick:
		return "nick"
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	case KindBye:
		return "bye"
	case KindPriv:
		return "priv"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Command is one parsed client line.
type Command struct {
	Kind Kind
	Arg  string // nick for /nick and /priv, room for /join
	Text string // message body for /priv and messages
}

const (
	prefixNick = "/nick "
	prefixJoin = "/join "
	prefixPriv = "/priv "
	cmdLeave   = "/leave"
	cmdBye     = "/bye"
)

// Parse classifies a single line.  It never fails: anything that is not
// a recognised command but starts with '/' is KindUnknown, anything else
// is a message.  Argument validity is checked by the dispatcher.
func Parse(line string) Command {
	switch {
	case line == "":
		return Command{Kind: KindEmpty}
	case strings.HasPrefix(line, "//"):
		return Command{Kind: KindMessage, Text: line[1:]}
	case strings.HasPrefix(line, prefixNick):
		return Command{Kind: KindNick, Arg: line[len(prefixNick):]}
	case strings.HasPrefix(line, prefixJoin):
		return Command{Kind: KindJoin, Arg: line[len(prefixJoin):]}
	case line == cmdLeave:
		return Command{Kind: KindLeave}
	case line == cmdBye:
		return Command{Kind: KindBye}
	case strings.HasPrefix(line, prefixPriv):
		target, text, ok := strings.Cut(line[len(prefixPriv):], " ")
		if !ok {
			return Command{Kind: KindUnknown}
		}
		return Command{Kind: KindPriv, Arg: target, Text: text}
	case strings.HasPrefix(line, "/"):
		return Command{Kind: KindUnknown}
	default:
		return Command{Kind: KindMessage, Text: line}
	}
}

// ValidName reports whether s may be used as a nick or room name:
// non-empty and free of spaces.  Everything else is accepted.
func ValidName(s string) bool {
	return s != "" && !strings.Contains(s, " ")
}
