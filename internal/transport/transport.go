package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/protocol"
)

// ErrClosed is the cause of a connect attempt abandoned by Close. Nothing
// retries such an attempt.
var ErrClosed = errors.New("transport closed")

// Scheduler runs fn after d and returns a func that cancels it.
type Scheduler func(d time.Duration, fn func()) (cancel func())

func timerScheduler(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

type Option func(*Transport)

func WithDialer(d Dialer) Option {
	return func(t *Transport) {
		t.dialer = d
	}
}

func WithScheduler(s Scheduler) Option {
	return func(t *Transport) {
		t.schedule = s
	}
}

// WithURLResolver resolves the chat address before every dial, so a changed
// identity takes effect on the next connection.
func WithURLResolver(resolve func(ctx context.Context) (string, error)) Option {
	return func(t *Transport) {
		t.resolveURL = resolve
	}
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

type Transport struct {
	cfg        Config
	dialer     Dialer
	schedule   Scheduler
	resolveURL func(ctx context.Context) (string, error)

	mu          sync.Mutex
	state       State
	conn        Conn
	send        chan []byte
	attempts    int
	pending     *connectAttempt
	cancelRetry func()
	closed      bool
	subscribers []Subscriber

	emitMu sync.Mutex
}

func New(cfg Config, opts ...Option) *Transport {
	t := &Transport{
		cfg:      cfg.withDefaults(),
		dialer:   NewWebsocketDialer(),
		schedule: timerScheduler,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns the number of reconnect attempts made since the last successful open.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Subscribe registers s. Registering the same subscriber twice has no effect.
func (t *Transport) Subscribe(s Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.subscribers {
		if existing == s {
			return
		}
	}
	t.subscribers = append(t.subscribers, s)
}

func (t *Transport) Unsubscribe(s Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.subscribers {
		if existing == s {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			return
		}
	}
}

// Connect returns once the transport is open. Callers arriving while a
// connect is in flight wait for that attempt instead of dialing again.
// An explicit Connect restarts the reconnect budget.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case StateOpen:
		t.mu.Unlock()
		return nil
	case StateConnecting:
		a := t.pending
		t.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.closed = false
	t.attempts = 0
	if t.cancelRetry != nil {
		t.cancelRetry()
		t.cancelRetry = nil
	}
	a := t.beginAttemptLocked()
	t.mu.Unlock()

	t.dial(ctx, a)
	return a.err
}

func (t *Transport) beginAttemptLocked() *connectAttempt {
	a := &connectAttempt{done: make(chan struct{})}
	t.state = StateConnecting
	t.pending = a
	return a
}

func (t *Transport) dial(ctx context.Context, a *connectAttempt) {
	conn, err := t.dialResolved(ctx)

	t.mu.Lock()
	if t.pending != a {
		// Close gave up on this attempt while it was dialing.
		t.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		log.Debug().Msg("discarding abandoned chat socket dial")
		return
	}
	t.pending = nil
	if err != nil {
		t.state = StateDisconnected
		a.err = apperrors.Transport("Could not connect to the chat server", err)
		close(a.done)
		closed := t.closed
		t.mu.Unlock()

		log.Warn().Err(err).Msg("chat socket dial failed")
		if !closed {
			code, reason := closeInfo(err)
			t.handleLoss(code, reason)
		}
		return
	}

	send := make(chan []byte, t.cfg.SendBuffer)
	t.conn = conn
	t.send = send
	t.state = StateOpen
	t.attempts = 0
	close(a.done)
	t.mu.Unlock()

	log.Info().Msg("chat socket connected")
	t.emit(Event{Kind: EventConnected})

	go t.writePump(conn, send)
	go t.readPump(conn)
}

func (t *Transport) dialResolved(ctx context.Context) (Conn, error) {
	url := t.cfg.URL
	if t.resolveURL != nil {
		resolved, err := t.resolveURL(ctx)
		if err != nil {
			return nil, err
		}
		url = resolved
	}
	log.Debug().Str("url", redactURL(url)).Msg("dialing chat socket")
	return t.dialer.Dial(ctx, url)
}

// Send enqueues o for the writer. It reports false when the transport is not
// open or the send buffer is full; it never blocks.
func (t *Transport) Send(o protocol.Outbound) bool {
	frame, err := protocol.EncodeOutbound(o)
	if err != nil {
		log.Warn().Err(err).Msg("refusing to send unencodable intent")
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen || t.send == nil {
		return false
	}
	select {
	case t.send <- frame:
		return true
	default:
		log.Warn().Str("type", protocol.OutboundType(o)).Msg("send buffer full, dropping intent")
		return false
	}
}

// Close tears the connection down on request. No event is emitted and no
// reconnect is scheduled. A connect in flight fails with ErrClosed and a later
// Connect dials afresh.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	if t.cancelRetry != nil {
		t.cancelRetry()
		t.cancelRetry = nil
	}
	if a := t.pending; a != nil {
		t.pending = nil
		a.err = apperrors.Transport("Connection closed", ErrClosed)
		close(a.done)
	}
	conn := t.conn
	t.conn = nil
	if t.send != nil {
		close(t.send)
		t.send = nil
	}
	if conn == nil {
		t.state = StateDisconnected
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosing
	t.mu.Unlock()

	err := conn.Close()

	t.mu.Lock()
	if t.state == StateClosing {
		t.state = StateDisconnected
	}
	t.mu.Unlock()
	log.Info().Msg("chat socket closed")
	return err
}

func (t *Transport) readPump(conn Conn) {
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			t.connLost(conn, err)
			return
		}

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			continue
		}
		t.emit(Event{Kind: EventMessage, Message: msg})
	}
}

func (t *Transport) writePump(conn Conn, send <-chan []byte) {
	var tick <-chan time.Time
	if t.cfg.PingInterval > 0 {
		ticker := time.NewTicker(t.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame, ok := <-send:
			if !ok {
				return
			}
			if err := conn.WriteFrame(frame); err != nil {
				log.Warn().Err(err).Msg("chat socket write failed")
				conn.Close()
				return
			}
		case <-tick:
			if err := conn.Ping(); err != nil {
				log.Debug().Err(err).Msg("chat socket ping failed")
				conn.Close()
				return
			}
		}
	}
}

// connLost handles the end of conn's read loop. Losses of a connection that
// Close already detached are ignored.
func (t *Transport) connLost(conn Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if t.send != nil {
		close(t.send)
		t.send = nil
	}
	t.state = StateDisconnected
	t.mu.Unlock()

	conn.Close()
	code, reason := closeInfo(err)
	t.handleLoss(code, reason)
}

// handleLoss schedules the next reconnect or gives up.
func (t *Transport) handleLoss(code int, reason string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	ev := Event{Kind: EventDisconnected, Code: code, Reason: reason}
	if isPolicyClose(code) || t.attempts >= t.cfg.MaxAttempts {
		ev.Terminal = true
		t.state = StateDisconnected
		t.mu.Unlock()

		log.Error().
			Int("code", code).
			Str("reason", reason).
			Int("attempts", t.cfg.MaxAttempts).
			Msg("chat socket gave up reconnecting")
		t.emit(ev)
		return
	}

	t.attempts++
	ev.Attempt = t.attempts
	ev.Delay = NextDelay(t.cfg.BaseDelay, t.attempts)
	t.state = StateDisconnected
	t.cancelRetry = t.schedule(ev.Delay, t.retry)
	t.mu.Unlock()

	log.Warn().
		Int("code", code).
		Str("reason", reason).
		Int("attempt", ev.Attempt).
		Dur("delay", ev.Delay).
		Msg("chat socket lost, reconnect scheduled")
	t.emit(ev)
}

func (t *Transport) retry() {
	t.mu.Lock()
	if t.closed || t.state != StateDisconnected {
		t.mu.Unlock()
		return
	}
	t.cancelRetry = nil
	a := t.beginAttemptLocked()
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
	defer cancel()
	t.dial(ctx, a)
}

func (t *Transport) emit(ev Event) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	subs := make([]Subscriber, len(t.subscribers))
	copy(subs, t.subscribers)
	t.mu.Unlock()

	for _, s := range subs {
		s.HandleTransportEvent(ev)
	}
}
