// Package transport provides the listeners the chat server accepts
// clients on.  A transport only moves bytes; what the bytes mean is the
// reactor's and dispatcher's job.  Plain TCP and WebSocket listeners
// both hand out Conns that look like a byte stream.
package transport

import (
	"io"
	"net"
	"time"
)

// Conn is one accepted client connection.  Read is called from a single
// reader goroutine; Write, SetWriteDeadline and Close are called from
// the reactor goroutine.  Close must unblock a pending Read.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetWriteDeadline(t time.Time) error
}

// Listener accepts client connections.  After Close, Accept returns an
// error satisfying errors.Is(err, net.ErrClosed).
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}
