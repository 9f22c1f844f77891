package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	reads     chan readResult
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan readResult, 16),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case r := <-c.reads:
		return r.data, r.err
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteFrame(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed network connection")
	case c.writes <- data:
		return nil
	}
}

func (c *fakeConn) Ping() error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(frame string) {
	c.reads <- readResult{data: []byte(frame)}
}

func (c *fakeConn) drop(code int, reason string) {
	c.reads <- readResult{err: &websocket.CloseError{Code: code, Text: reason}}
}

type fakeDialer struct {
	mu    sync.Mutex
	calls int
	urls  []string
	plan  []func() (Conn, error)
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.urls = append(d.urls, url)
	if len(d.plan) == 0 {
		return nil, errors.New("dial tcp: connection refused")
	}
	next := d.plan[0]
	d.plan = d.plan[1:]
	return next()
}

func (d *fakeDialer) succeed(c *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plan = append(d.plan, func() (Conn, error) { return c, nil })
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeScheduler records delays and runs callbacks only when fired.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (s *fakeScheduler) Schedule(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.pending = append(s.pending, fn)
	idx := len(s.pending) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pending[idx] = nil
	}
}

func (s *fakeScheduler) fireNext() bool {
	s.mu.Lock()
	var fn func()
	for i, p := range s.pending {
		if p != nil {
			fn = p
			s.pending[i] = nil
			break
		}
	}
	s.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

func (s *fakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type recorder struct {
	events chan Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 64)}
}

func (r *recorder) HandleTransportEvent(e Event) {
	r.events <- e
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return Event{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected transport event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}
