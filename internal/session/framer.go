package session

import (
	"bytes"
	"unicode/utf8"

	chaterr "chatd/internal/errors"
)

// framer splits a byte stream into '\n'-terminated lines.
//
// Invariant: inbound holds exactly the bytes received so far that have
// not been emitted as part of a complete line, and therefore never
// contains a '\n'.
type framer struct {
	inbound []byte
	pending []string
	maxLine int
}

// Feed appends data to the accumulator and queues every line it
// completes.  The newline is stripped; a '\r' before it is kept.  The
// trailing partial line stays buffered for the next call.
//
// Feed fails with ErrInvalidUTF8 if a completed line is not valid
// UTF-8, and with ErrLineTooLong if a completed line or the
// unterminated remainder exceeds the limit.  Nothing from a failed call
// is queued.
func (f *framer) Feed(data []byte) error {
	// The buffered remainder has no newline, so scanning starts at the
	// first new byte.
	search := len(f.inbound)
	f.inbound = append(f.inbound, data...)

	var lines []string
	consumed := 0
	for {
		i := bytes.IndexByte(f.inbound[search:], '\n')
		if i < 0 {
			break
		}
		end := search + i
		line := f.inbound[consumed:end]
		if f.maxLine > 0 && len(line) > f.maxLine {
			return chaterr.ErrLineTooLong
		}
		if !utf8.Valid(line) {
			return chaterr.ErrInvalidUTF8
		}
		lines = append(lines, string(line))
		consumed = end + 1
		search = consumed
	}

	if consumed > 0 {
		n := copy(f.inbound, f.inbound[consumed:])
		f.inbound = f.inbound[:n]
	}
	f.pending = append(f.pending, lines...)

	if f.maxLine > 0 && len(f.inbound) > f.maxLine {
		return chaterr.ErrLineTooLong
	}
	return nil
}

// Next pops the oldest queued line.
func (f *framer) Next() (string, bool) {
	if len(f.pending) == 0 {
		return "", false
	}
	line := f.pending[0]
	f.pending[0] = ""
	f.pending = f.pending[1:]
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return line, true
}

// Pending returns the number of queued lines.
func (f *framer) Pending() int { return len(f.pending) }

// Buffered returns the length of the unterminated remainder.
func (f *framer) Buffered() int { return len(f.inbound) }

// Drop discards queued lines and the buffered remainder.
func (f *framer) Drop() {
	f.pending = nil
	f.inbound = nil
}
