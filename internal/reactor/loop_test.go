package reactor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatd/internal/metrics"
	"chatd/internal/session"
	"chatd/internal/transport"
	"chatd/util"
)

// ── Harness ──────────────────────────────────────────────────────────

type server struct {
	loop    *Loop
	addr    string
	metrics *metrics.Collector
	cancel  context.CancelFunc
	done    chan error
	once    sync.Once
}

// startServer runs a Loop on a loopback TCP listener plus any extra
// listeners.  configure may adjust the loop before Run.
func startServer(t *testing.T, configure func(*Loop), extra ...transport.Listener) *server {
	t.Helper()
	ln, err := transport.ListenTCP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	l := &Loop{
		Listeners:     append([]transport.Listener{ln}, extra...),
		Logger:        util.NewLogger(0),
		Metrics:       m,
		MaxLineLength: 1024,
		WriteTimeout:  2 * time.Second,
	}
	if configure != nil {
		configure(l)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &server{loop: l, addr: ln.Addr().String(), metrics: m, cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- l.Run(ctx) }()
	t.Cleanup(func() { s.stop(t) })
	return s
}

func (s *server) stop(t *testing.T) {
	t.Helper()
	s.once.Do(func() {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down in time")
		}
	})
}

type peer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (s *server) dial(t *testing.T) *peer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *peer) send(lines ...string) {
	c.t.Helper()
	c.raw(strings.Join(lines, "\n") + "\n")
}

func (c *peer) raw(data string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(data)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *peer) readLine() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	line, err := c.r.ReadString('\n')
	return strings.TrimSuffix(line, "\n"), err
}

// expect reads the next lines and compares them with want.
func (c *peer) expect(want ...string) {
	c.t.Helper()
	for _, w := range want {
		got, err := c.readLine()
		if err != nil {
			c.t.Fatalf("waiting for %q: %v", w, err)
		}
		if got != w {
			c.t.Fatalf("got %q, want %q", got, w)
		}
	}
}

// expectClosed asserts the server closes the connection without
// sending anything more.
func (c *peer) expectClosed() {
	c.t.Helper()
	line, err := c.readLine()
	if err == nil {
		c.t.Fatalf("got %q, want connection closed", line)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.t.Fatal("connection still open")
	}
}

// login connects, sets a nick and optionally joins a room.
func (s *server) login(t *testing.T, nick, room string) *peer {
	t.Helper()
	c := s.dial(t)
	c.send("/nick " + nick)
	c.expect("OK")
	if room != "" {
		c.send("/join " + room)
		c.expect("OK")
	}
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── Scenarios ────────────────────────────────────────────────────────

func TestScenario_NickCollision(t *testing.T) {
	s := startServer(t, nil)
	a, b := s.dial(t), s.dial(t)

	a.send("/nick alice")
	a.expect("OK")
	b.send("/nick alice")
	b.expect("ERROR")
	b.send("/nick bob")
	b.expect("OK")
}

func TestScenario_JoinAndMessage(t *testing.T) {
	s := startServer(t, nil)
	a := s.login(t, "alice", "lobby")
	b := s.dial(t)

	b.send("/nick bob", "/join lobby")
	b.expect("OK", "OK")
	a.expect("JOINED bob")

	b.send("hello")
	a.expect("MESSAGE bob hello")

	// bob's next reply proves he received nothing for his own message.
	b.send("/leave")
	b.expect("OK")
	a.expect("LEFT bob")
}

func TestScenario_LeaveDeletesRoom(t *testing.T) {
	s := startServer(t, nil)
	a := s.login(t, "alice", "lobby")
	eventually(t, "room to exist", func() bool { return s.metrics.Snapshot().Rooms == 1 })

	a.send("/leave")
	a.expect("OK")
	eventually(t, "room to be deleted", func() bool { return s.metrics.Snapshot().Rooms == 0 })
}

func TestScenario_Priv(t *testing.T) {
	s := startServer(t, nil)
	a := s.login(t, "alice", "")

	a.send("/priv bob hi")
	a.expect("ERROR")

	b := s.login(t, "bob", "")
	a.send("/priv bob hi")
	b.expect("PRIVATE alice hi")
	a.expect("OK")
}

func TestScenario_Bye(t *testing.T) {
	s := startServer(t, nil)
	a := s.login(t, "alice", "lobby")
	b := s.login(t, "bob", "lobby")
	a.expect("JOINED bob")

	b.send("/bye")
	b.expect("BYE")
	b.expectClosed()
	a.expect("LEFT bob")

	// The nick is free again.
	c := s.dial(t)
	c.send("/nick bob")
	c.expect("OK")
	eventually(t, "registry to settle", func() bool {
		snap := s.metrics.Snapshot()
		return snap.Nicks == 2 && snap.Rooms == 1 && snap.ConnectionsActive == 2
	})
}

func TestBye_StopsBatch(t *testing.T) {
	s := startServer(t, nil)
	a := s.dial(t)
	a.raw("/nick alice\n/bye\n/nick carol\n")
	a.expect("OK", "BYE")
	a.expectClosed()

	c := s.dial(t)
	c.send("/nick alice", "/nick carol")
	c.expect("OK", "OK")
}

func TestPeerClose_ReleasesSession(t *testing.T) {
	s := startServer(t, nil)
	a := s.login(t, "alice", "lobby")
	b := s.login(t, "bob", "lobby")
	a.expect("JOINED bob")

	b.conn.Close()
	a.expect("LEFT bob")

	c := s.dial(t)
	c.send("/nick bob")
	c.expect("OK")
}

func TestFraming_SplitAcrossWrites(t *testing.T) {
	s := startServer(t, nil)
	a := s.dial(t)

	for _, part := range []string{"/ni", "ck al", "ice", "\n/jo", "in lo", "bby\n\n"} {
		a.raw(part)
		time.Sleep(10 * time.Millisecond)
	}
	a.expect("OK", "OK")

	a.send("/leave", "/leave")
	a.expect("OK", "ERROR")
}

// ── Fault isolation ──────────────────────────────────────────────────

func TestInvalidUTF8_ClosesOnlyThatConnection(t *testing.T) {
	s := startServer(t, nil)
	a := s.login(t, "alice", "lobby")
	bad := s.login(t, "mallory", "lobby")
	a.expect("JOINED mallory")

	bad.raw("\xff\xfe\n")
	bad.expectClosed()
	a.expect("LEFT mallory")

	a.send("/leave")
	a.expect("OK")
	eventually(t, "connection error to be counted", func() bool {
		return s.metrics.ConnectionErrors() == 1
	})
}

func TestLineTooLong_Closes(t *testing.T) {
	s := startServer(t, nil)
	for name, data := range map[string]string{
		"unterminated": strings.Repeat("x", 2048),
		"terminated":   "/nick " + strings.Repeat("x", 2048) + "\n",
	} {
		t.Run(name, func(t *testing.T) {
			a := s.dial(t)
			a.raw(data)
			a.expectClosed()
		})
	}
}

func TestPanic_RecoveredAndIsolated(t *testing.T) {
	s := startServer(t, func(l *Loop) {
		l.onLine = func(sess *session.Session, line string) {
			if sess.Nick == "bob" && line == "/leave" {
				// Claim a room the registry knows nothing about.
				sess.Room = "ghost"
			}
		}
	})
	a := s.login(t, "alice", "")
	b := s.login(t, "bob", "")

	b.send("/leave")
	b.expectClosed()

	a.send("/join lobby")
	a.expect("OK")
	eventually(t, "panic to be counted", func() bool { return s.metrics.Panics() >= 1 })

	// bob's nick was released despite the corrupt session.
	c := s.dial(t)
	c.send("/nick bob")
	c.expect("OK")
}

// failConn is a scripted Conn whose writes start failing after ok
// successful ones.
type failConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once
	wrote  chan string

	mu sync.Mutex
	ok int
}

func newFailConn(ok int, script string) *failConn {
	c := &failConn{in: make(chan []byte, 1), closed: make(chan struct{}), wrote: make(chan string, 16), ok: ok}
	c.in <- []byte(script)
	return c
}

func (c *failConn) Read(p []byte) (int, error) {
	select {
	case b := <-c.in:
		return copy(p, b), nil
	case <-c.closed:
		return 0, io.EOF
	}
}

func (c *failConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ok == 0 {
		return 0, errors.New("broken pipe")
	}
	c.ok--
	c.wrote <- string(p)
	return len(p), nil
}

func (c *failConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *failConn) RemoteAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1} }
func (c *failConn) SetWriteDeadline(_ time.Time) error { return nil }

// oneShotListener hands out a single Conn and then blocks until closed.
type oneShotListener struct {
	conn   transport.Conn
	served bool
	closed chan struct{}
	once   sync.Once
}

func (l *oneShotListener) Accept() (transport.Conn, error) {
	if !l.served {
		l.served = true
		return l.conn, nil
	}
	<-l.closed
	return nil, net.ErrClosed
}

func (l *oneShotListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *oneShotListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 0)} }

func TestWriteFailure_TearsDownTargetAfterLine(t *testing.T) {
	ghost := newFailConn(2, "/nick ghost\n/join lobby\n")
	s := startServer(t, nil, &oneShotListener{conn: ghost, closed: make(chan struct{})})

	for i := 0; i < 2; i++ {
		select {
		case line := <-ghost.wrote:
			if line != "OK\n" {
				t.Fatalf("ghost got %q", line)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("ghost never registered")
		}
	}

	a := s.login(t, "alice", "")
	a.send("/join lobby")
	a.expect("OK", "LEFT ghost")

	select {
	case <-ghost.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("ghost connection not closed")
	}

	c := s.dial(t)
	c.send("/nick ghost")
	c.expect("OK")
}

// stallConn is a failConn whose peer stops reading after ok writes:
// later writes block until the write deadline, or forever without one.
type stallConn struct {
	*failConn

	dmu      sync.Mutex
	deadline time.Time
}

func newStallConn(ok int, script string) *stallConn {
	return &stallConn{failConn: newFailConn(ok, script)}
}

func (c *stallConn) Write(p []byte) (int, error) {
	c.failConn.mu.Lock()
	if c.ok > 0 {
		c.ok--
		c.failConn.mu.Unlock()
		c.wrote <- string(p)
		return len(p), nil
	}
	c.failConn.mu.Unlock()

	d := c.writeDeadline()
	if d.IsZero() {
		<-c.closed
		return 0, net.ErrClosed
	}
	select {
	case <-time.After(time.Until(d)):
		return 0, os.ErrDeadlineExceeded
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *stallConn) SetWriteDeadline(t time.Time) error {
	c.dmu.Lock()
	defer c.dmu.Unlock()
	c.deadline = t
	return nil
}

func (c *stallConn) writeDeadline() time.Time {
	c.dmu.Lock()
	defer c.dmu.Unlock()
	return c.deadline
}

func waitWrites(t *testing.T, c *stallConn, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case line := <-c.wrote:
			if line != "OK\n" {
				t.Fatalf("stalled peer got %q", line)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("stalled peer never registered")
		}
	}
}

func TestStalledReader_DroppedAtWriteDeadline(t *testing.T) {
	ghost := newStallConn(2, "/nick ghost\n/join lobby\n")
	s := startServer(t, func(l *Loop) { l.WriteTimeout = 200 * time.Millisecond },
		&oneShotListener{conn: ghost, closed: make(chan struct{})})
	waitWrites(t, ghost, 2)

	start := time.Now()
	a := s.login(t, "alice", "")
	a.send("/join lobby")
	a.expect("OK", "LEFT ghost")

	// The loop is free again for everyone else.
	c := s.login(t, "carol", "lobby")
	a.expect("JOINED carol")
	c.send("hi")
	a.expect("MESSAGE carol hi")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("loop held for %v by a stalled reader", elapsed)
	}

	select {
	case <-ghost.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled connection not closed")
	}
}

func TestWriteTimeout_DefaultsWhenUnset(t *testing.T) {
	ghost := newStallConn(2, "/nick ghost\n/join lobby\n")
	startServer(t, func(l *Loop) { l.WriteTimeout = 0 },
		&oneShotListener{conn: ghost, closed: make(chan struct{})})
	waitWrites(t, ghost, 2)

	d := ghost.writeDeadline()
	if d.IsZero() {
		t.Fatal("write issued without a deadline")
	}
	if left := time.Until(d); left < defaultWriteTimeout-2*time.Second || left > defaultWriteTimeout {
		t.Errorf("deadline %v away, want about %v", left, defaultWriteTimeout)
	}
}

// errListener fails Accept with a permanent error.
type errListener struct{}

func (errListener) Accept() (transport.Conn, error) { return nil, errors.New("listener exploded") }
func (errListener) Close() error                    { return nil }
func (errListener) Addr() net.Addr                  { return &net.TCPAddr{} }

func TestRun_PermanentAcceptErrorStops(t *testing.T) {
	l := &Loop{Listeners: []transport.Listener{errListener{}}, Logger: util.NewLogger(0)}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := l.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "listener exploded") {
		t.Fatalf("Run = %v", err)
	}
}

func TestRun_NoListeners(t *testing.T) {
	if err := (&Loop{}).Run(context.Background()); err == nil {
		t.Fatal("expected an error without listeners")
	}
}

func TestShutdown_ClosesClients(t *testing.T) {
	s := startServer(t, nil)
	a := s.login(t, "alice", "lobby")
	b := s.login(t, "bob", "lobby")
	a.expect("JOINED bob")

	s.stop(t)
	a.expectClosed()
	b.expectClosed()
	if got := s.metrics.ActiveConnections(); got != 0 {
		t.Errorf("active connections = %d after shutdown", got)
	}
}

// ── WebSocket ────────────────────────────────────────────────────────

func TestWebSocket_SharesRooms(t *testing.T) {
	ws, err := transport.ListenWebSocket(context.Background(), "127.0.0.1:0", "/chat", 1024)
	if err != nil {
		t.Fatal(err)
	}
	s := startServer(t, nil, ws)
	a := s.login(t, "alice", "lobby")

	wc, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/chat", ws.Addr()), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer wc.Close()

	read := func() string {
		t.Helper()
		wc.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
		_, msg, err := wc.ReadMessage()
		if err != nil {
			t.Fatalf("ws read: %v", err)
		}
		return string(msg)
	}

	wc.WriteMessage(websocket.TextMessage, []byte("/nick webby")) //nolint:errcheck
	if got := read(); got != "OK" {
		t.Fatalf("ws got %q", got)
	}
	wc.WriteMessage(websocket.TextMessage, []byte("/join lobby\nhi from the browser")) //nolint:errcheck
	if got := read(); got != "OK" {
		t.Fatalf("ws got %q", got)
	}
	a.expect("JOINED webby", "MESSAGE webby hi from the browser")

	a.send("hello websocket")
	if got := read(); got != "MESSAGE alice hello websocket" {
		t.Errorf("ws got %q", got)
	}
}
