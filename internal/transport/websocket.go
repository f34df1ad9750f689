package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	chaterr "chatd/internal/errors"
)

// closeGrace bounds the close frame sent when the server drops a
// WebSocket client.  Close runs on the event loop, so this is kept short.
const closeGrace = 50 * time.Millisecond

// WSListener accepts chat clients over WebSocket.  Each upgraded
// connection is handed out through Accept as a byte-stream Conn: every
// text message received is one or more protocol lines, and every Write
// (one event line) is sent as one text message.
type WSListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	conns    chan Conn
	limit    int64 // largest accepted message; 0 = unlimited

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	serveErr  error
}

// ListenWebSocket binds addr and serves WebSocket upgrades on path.
// Requests for any other path get 404.  When maxLine is positive a text
// message may carry at most maxLine bytes plus its newline; a larger
// message is refused with close code 1009 before its payload is read,
// and Read reports ErrLineTooLong.
func ListenWebSocket(ctx context.Context, addr, path string, maxLine int) (*WSListener, error) {
	ln, err := listen(ctx, addr)
	if err != nil {
		return nil, err
	}
	l := &WSListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients may be served from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(chan Conn),
		done:  make(chan struct{}),
	}
	if maxLine > 0 {
		l.limit = int64(maxLine) + 1
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		err := l.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.mu.Lock()
			l.serveErr = err
			l.mu.Unlock()
		}
		l.shutdown()
	}()
	return l, nil
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket endpoint only accepts GET", http.StatusMethodNotAllowed)
		return
	}
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		return
	}
	if l.limit > 0 {
		ws.SetReadLimit(l.limit)
	}
	select {
	case l.conns <- newWSConn(ws):
	case <-l.done:
		ws.Close()
	}
}

// Accept waits for the next upgraded client.
func (l *WSListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		l.mu.Lock()
		err := l.serveErr
		l.mu.Unlock()
		if err != nil {
			return nil, errors.Join(err, net.ErrClosed)
		}
		return nil, net.ErrClosed
	}
}

// Close stops serving.  Connections already handed out are unaffected.
func (l *WSListener) Close() error {
	l.shutdown()
	return l.srv.Close()
}

func (l *WSListener) shutdown() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Addr returns the bound address.
func (l *WSListener) Addr() net.Addr { return l.ln.Addr() }

// wsConn adapts a message-oriented WebSocket to the Conn byte stream.
type wsConn struct {
	ws   *websocket.Conn
	rest []byte // unread part of the current message
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// Read returns bytes from the current text message, fetching the next
// one when it is used up.  A message without a trailing newline is
// terminated with one, so each message is at least one line.  A close
// frame from the peer reads as io.EOF.
func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.rest) == 0 {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return 0, chaterr.ErrLineTooLong
			}
			return 0, err
		}
		if typ != websocket.TextMessage || len(msg) == 0 {
			continue
		}
		if msg[len(msg)-1] != '\n' {
			msg = append(msg, '\n')
		}
		c.rest = msg
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

// Write sends p as one text message without its trailing newline.
func (c *wsConn) Write(p []byte) (int, error) {
	msg := p
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame, best effort, and closes the socket.
func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
