package core

import (
	"context"
	"syscall"
	"time"

	chaterr "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/reactor"
	"chatd/internal/retry"
	"chatd/internal/transport"
	"chatd/util"
)

// ServeMode binds the chat listeners and runs the reactor until the
// context is cancelled.
type ServeMode struct {
	Address      string // TCP "host:port"
	WSAddress    string // WebSocket "host:port"; empty disables it
	WSPath       string
	BindAttempts int // tries per listener while the port is busy

	MaxLineLength int
	WriteTimeout  time.Duration
	StatsInterval time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Run binds every listener, then serves.  If a later listener cannot
// be bound the earlier ones are closed again.
func (m *ServeMode) Run(ctx context.Context) error {
	var listeners []transport.Listener
	closeAll := func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}

	ln, err := m.bind(ctx, m.Address, func(ctx context.Context) (transport.Listener, error) {
		l, err := transport.ListenTCP(ctx, m.Address)
		if err != nil {
			return nil, err
		}
		return l, nil
	})
	if err != nil {
		return err
	}
	listeners = append(listeners, ln)

	if m.WSAddress != "" {
		ws, err := m.bind(ctx, m.WSAddress, func(ctx context.Context) (transport.Listener, error) {
			l, err := transport.ListenWebSocket(ctx, m.WSAddress, m.WSPath, m.MaxLineLength)
			if err != nil {
				return nil, err
			}
			return l, nil
		})
		if err != nil {
			closeAll()
			return err
		}
		listeners = append(listeners, ws)
		m.Logger.Verbose("websocket clients on ws://%s%s", ws.Addr(), m.WSPath)
	}

	loop := &reactor.Loop{
		Listeners:     listeners,
		Logger:        m.Logger,
		Metrics:       m.Metrics,
		MaxLineLength: m.MaxLineLength,
		WriteTimeout:  m.WriteTimeout,
		StatsInterval: m.StatsInterval,
	}
	err = loop.Run(ctx)
	m.Logger.Debug("metrics:\n%s", m.Metrics.JSON())
	return err
}

// bind calls listen, retrying with backoff while the address is in use
// and BindAttempts allows.  Any other failure is returned at once.
func (m *ServeMode) bind(ctx context.Context, addr string,
	listen func(context.Context) (transport.Listener, error)) (transport.Listener, error) {

	if m.BindAttempts <= 1 {
		return listen(ctx)
	}

	b := retry.DefaultBackoff()
	b.InitialDelay = 250 * time.Millisecond
	b.MaxDelay = 5 * time.Second
	b.MaxAttempts = m.BindAttempts

	var ln transport.Listener
	err := b.Do(ctx, func(attempt int) error {
		l, err := listen(ctx)
		if err != nil {
			if !chaterr.Is(err, syscall.EADDRINUSE) {
				return retry.Permanent(err)
			}
			if attempt < b.MaxAttempts {
				m.Logger.Warn("%s busy, retrying (attempt %d/%d)", addr, attempt, b.MaxAttempts)
			}
			return err
		}
		ln = l
		return nil
	})
	return ln, err
}
