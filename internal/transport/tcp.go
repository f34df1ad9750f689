package transport

import (
	"context"
	"net"

	chaterr "chatd/internal/errors"
)

// TCPListener accepts plain TCP clients.
type TCPListener struct {
	ln *net.TCPListener
}

// ListenTCP binds addr ("host:port", empty host for all interfaces).
// Socket options are applied through listenConfig before bind.
func ListenTCP(ctx context.Context, addr string) (*TCPListener, error) {
	ln, err := listen(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln.(*net.TCPListener)}, nil
}

func listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: control}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, chaterr.Wrap("listen", addr, err)
	}
	return ln, nil
}

// Accept waits for the next client.
func (l *TCPListener) Accept() (Conn, error) {
	c, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close stops the listener.
func (l *TCPListener) Close() error { return l.ln.Close() }

// Addr returns the bound address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }
