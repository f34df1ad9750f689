// Package reactor runs the chat server's single control loop.
//
// Goroutines are used only to wait on blocking OS calls: one per
// listener for Accept and one per connection for Read.  They never touch
// shared state; they post events to the loop, and the loop goroutine
// alone frames input, dispatches commands, mutates the registry and
// writes replies.  No two command lines are ever processed concurrently.
package reactor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"chatd/internal/chat"
	chaterr "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/protocol"
	"chatd/internal/registry"
	"chatd/internal/retry"
	"chatd/internal/session"
	"chatd/internal/transport"
	"chatd/util"
)

// defaultWriteTimeout applies when Loop.WriteTimeout is unset.  Every
// write carries a deadline so a peer that stops reading cannot hold the
// loop.
const defaultWriteTimeout = 5 * time.Second

type eventKind int

const (
	evAccepted eventKind = iota
	evData
	evClosed
)

type event struct {
	kind eventKind
	conn transport.Conn // evAccepted
	id   uint64         // evData, evClosed
	data []byte         // evData
	err  error          // evClosed; nil or io.EOF for an orderly close
}

// client is the loop's record of one live connection.
type client struct {
	sess *session.Session
	conn transport.Conn
	dead error // set when a write failed; torn down after the current line
	gone bool
}

// Loop is the connection multiplexer.  Set the exported fields, then
// call Run once.
type Loop struct {
	Listeners []transport.Listener
	Registry  *registry.Registry // created by Run when nil
	Logger    *util.Logger
	Metrics   *metrics.Collector

	MaxLineLength int           // 0 = unlimited
	WriteTimeout  time.Duration // 0 = defaultWriteTimeout
	StatsInterval time.Duration // 0 = no periodic stats

	// onLine, when set, runs on the loop before each line is dispatched.
	onLine func(s *session.Session, line string)

	events     chan event
	stop       chan struct{}
	wg         sync.WaitGroup
	clients    map[uint64]*client
	nextID     uint64
	dead       []*client
	closing    bool
	dispatcher *chat.Dispatcher
}

// Run serves until ctx is cancelled or a listener fails permanently.
// On return every listener is closed and every session torn down.
func (l *Loop) Run(ctx context.Context) error {
	if len(l.Listeners) == 0 {
		return chaterr.New("reactor: no listeners")
	}
	if l.Logger == nil {
		l.Logger = util.NewLogger(0)
	}
	if l.Registry == nil {
		l.Registry = registry.New()
	}
	l.events = make(chan event, 64)
	l.stop = make(chan struct{})
	l.clients = make(map[uint64]*client)
	l.dispatcher = chat.New(l.Registry, l, l.Logger, l.Metrics)

	ctx, cancel := context.WithCancel(ctx)
	defer l.shutdown(cancel)

	failed := make(chan error, len(l.Listeners))
	for _, ln := range l.Listeners {
		l.Logger.Info("listening on %s", ln.Addr())
		l.wg.Add(1)
		go l.acceptLoop(ctx, ln, failed)
	}

	var tick <-chan time.Time
	if l.StatsInterval > 0 {
		t := time.NewTicker(l.StatsInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return err
		case ev := <-l.events:
			l.handle(ev)
		case <-tick:
			l.Logger.Info("stats: %s", l.Metrics.Snapshot())
			if l.Logger.Enabled(util.LogVerbose) {
				l.Logger.Verbose("rooms: %s", strings.Join(l.Registry.Rooms.Names(), " "))
			}
		}
	}
}

func (l *Loop) shutdown(cancel context.CancelFunc) {
	cancel()
	close(l.stop)
	for _, ln := range l.Listeners {
		ln.Close()
	}

	l.closing = true
	ids := make([]uint64, 0, len(l.clients))
	for id := range l.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		l.teardown(l.clients[id], chaterr.ErrServerClosed)
	}

	l.wg.Wait()
	l.Logger.Verbose("final stats: %s", l.Metrics.Snapshot())
}

// post hands ev to the loop.  It reports false once the loop has
// stopped, in which case the caller should exit.
func (l *Loop) post(ev event) bool {
	select {
	case l.events <- ev:
		return true
	case <-l.stop:
		return false
	}
}

func (l *Loop) stopping() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// acceptLoop waits for clients on ln.  Temporary failures (EMFILE and
// friends) pause with backoff; anything else ends the listener and is
// reported on failed.
func (l *Loop) acceptLoop(ctx context.Context, ln transport.Listener, failed chan<- error) {
	defer l.wg.Done()
	backoff := retry.AcceptBackoff()
	failures := 0

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.stopping() {
				return
			}
			if chaterr.IsRetryable(err) {
				failures++
				l.Metrics.ConnectionError(err.Error())
				l.Logger.Warn("accept on %s: %v (retrying)", ln.Addr(), err)
				if backoff.Wait(ctx, failures) != nil {
					return
				}
				continue
			}
			failed <- chaterr.Wrap("accept", ln.Addr().String(), err)
			return
		}
		failures = 0
		if !l.post(event{kind: evAccepted, conn: conn}) {
			conn.Close()
			return
		}
	}
}

// readLoop performs the blocking reads for one connection.
func (l *Loop) readLoop(id uint64, conn transport.Conn) {
	defer l.wg.Done()
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	for {
		n, err := conn.Read(*buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, (*buf)[:n])
			if !l.post(event{kind: evData, id: id, data: data}) {
				return
			}
		}
		if err != nil {
			l.post(event{kind: evClosed, id: id, err: err})
			return
		}
	}
}

// ── Loop goroutine ───────────────────────────────────────────────────

func (l *Loop) handle(ev event) {
	switch ev.kind {
	case evAccepted:
		l.accept(ev.conn)
	case evData:
		if c := l.clients[ev.id]; c != nil {
			l.receive(c, ev.data)
		}
	case evClosed:
		if c := l.clients[ev.id]; c != nil {
			l.teardown(c, ev.err)
		}
	}
	l.reap()
	l.Metrics.SetRegistrySize(l.Registry.Rooms.Len(), l.Registry.Nicks.Len())
}

func (l *Loop) accept(conn transport.Conn) {
	l.nextID++
	addr := conn.RemoteAddr().String()
	c := &client{
		sess: session.New(l.nextID, addr, l.MaxLineLength),
		conn: conn,
	}
	l.clients[c.sess.ID] = c
	l.Metrics.ConnectionOpened()
	l.Logger.Info("accepted connection #%d from %s", c.sess.ID, addr)

	l.wg.Add(1)
	go l.readLoop(c.sess.ID, conn)
}

// receive frames data and dispatches every complete line in order.
func (l *Loop) receive(c *client, data []byte) {
	l.Metrics.BytesReceived(int64(len(data)))
	if err := c.sess.Feed(data); err != nil {
		l.teardown(c, chaterr.Wrap("read", c.sess.Addr, err))
		return
	}

	for !c.gone && c.dead == nil {
		line, ok := c.sess.Next()
		if !ok {
			break
		}
		outcome := l.dispatch(c, line)
		if outcome == chat.Close {
			c.sess.Drop()
			l.teardown(c, nil)
		}
		l.reap()
		if l.Logger.Enabled(util.LogDebug) {
			l.checkInvariants()
		}
	}
	l.reap()
}

// dispatch runs one line through the dispatcher.  A panic is an
// invariant violation: it is logged and the session is marked for
// teardown so the loop can carry on with everyone else.
func (l *Loop) dispatch(c *client, line string) (outcome chat.Outcome) {
	defer func() {
		if v := recover(); v != nil {
			l.Metrics.PanicRecovered(v)
			l.Logger.Error("recovered panic handling %s: %v\n%s", c.sess, v, debug.Stack())
			l.markDead(c, fmt.Errorf("internal error: %v", v))
			outcome = chat.Continue
		}
	}()
	if l.onLine != nil {
		l.onLine(c.sess, line)
	}
	return l.dispatcher.Handle(c.sess, line)
}

// Send implements chat.Outbox.  The write is eager and bounded by
// WriteTimeout; a failure marks the target dead instead of tearing it
// down on the spot, since the caller may be iterating a member list.
func (l *Loop) Send(to *session.Session, ev protocol.Event) {
	if l.closing {
		return
	}
	c := l.clients[to.ID]
	if c == nil || c.gone || c.dead != nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout())) //nolint:errcheck
	n, err := c.conn.Write(ev.Encode())
	l.Metrics.BytesSent(int64(n))
	if err != nil {
		l.markDead(c, chaterr.Wrap("write", c.sess.Addr, err))
	}
}

func (l *Loop) writeTimeout() time.Duration {
	if l.WriteTimeout > 0 {
		return l.WriteTimeout
	}
	return defaultWriteTimeout
}

func (l *Loop) markDead(c *client, err error) {
	if c.dead != nil || c.gone {
		return
	}
	c.dead = err
	l.dead = append(l.dead, c)
}

// reap tears down sessions marked dead.  Tearing one down may notify
// others and mark them dead in turn, so it runs until the list is empty.
func (l *Loop) reap() {
	for len(l.dead) > 0 {
		c := l.dead[0]
		l.dead = l.dead[1:]
		l.teardown(c, c.dead)
	}
}

// teardown unlinks a session completely: deregister, close the
// transport, leave the room, release the nick.  It is idempotent.
// reason is nil after /bye and io.EOF for an orderly peer close.
func (l *Loop) teardown(c *client, reason error) {
	if c.gone {
		return
	}
	c.gone = true
	delete(l.clients, c.sess.ID)
	c.conn.Close()

	if !l.release(c.sess) {
		// Drop the room claim and retry so the nick is still released.
		c.sess.Room = ""
		l.release(c.sess)
	}
	l.Metrics.ConnectionClosed()

	switch {
	case reason == nil:
		l.Logger.Info("closed connection #%d (bye)", c.sess.ID)
	case chaterr.IsClosed(reason) || util.IsHarmless(reason):
		l.Logger.Info("closed connection #%d", c.sess.ID)
	default:
		l.Metrics.ConnectionError(reason.Error())
		l.Logger.Info("closed connection #%d", c.sess.ID)
		l.Logger.Verbose("connection #%d: %v", c.sess.ID, reason)
	}
}

// release unlinks s from the registry, reporting false if that hit an
// invariant violation.
func (l *Loop) release(s *session.Session) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			l.Metrics.PanicRecovered(v)
			l.Logger.Error("recovered panic releasing %s: %v", s, v)
			ok = false
		}
	}()
	l.dispatcher.Disconnect(s)
	return true
}

func (l *Loop) checkInvariants() {
	live := make([]*session.Session, 0, len(l.clients))
	for _, c := range l.clients {
		live = append(live, c.sess)
	}
	if err := l.Registry.Check(live); err != nil {
		l.Logger.Error("registry invariant violated: %v", err)
	}
}
