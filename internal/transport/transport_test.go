package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/model"
	"github.com/controlled-anonymity/client-go/internal/protocol"
)

const testURL = "ws://chat.test/ws/chat/5942d94f524882e0f29bf0a1e5a6dcc952eea1c0c21dd3588a3fc7db9716db0c"

func newTestTransport(d *fakeDialer, s *fakeScheduler) *Transport {
	cfg := Config{URL: testURL, BaseDelay: 2 * time.Second, MaxAttempts: 5}
	return New(cfg, WithDialer(d), WithScheduler(s.Schedule))
}

func TestNextDelay(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, NextDelay(base, 1))
	assert.Equal(t, 4*time.Second, NextDelay(base, 2))
	assert.Equal(t, 10*time.Second, NextDelay(base, 5))
	assert.Equal(t, 2*time.Second, NextDelay(base, 0))
}

func TestTransport_ConnectAndSend(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.succeed(conn)
	sched := &fakeScheduler{}
	tr := newTestTransport(dialer, sched)
	rec := newRecorder()
	tr.Subscribe(rec)

	assert.False(t, tr.Send(protocol.LeaveQueue{}), "send before connect must fail")

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, StateOpen, tr.State())
	assert.Equal(t, EventConnected, rec.next(t).Kind)

	require.True(t, tr.Send(protocol.JoinQueue{LookingFor: model.FilterFemale}))
	select {
	case frame := <-conn.writes:
		assert.JSONEq(t, `{"type":"join_queue","looking_for":"female"}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("frame was not written")
	}

	t.Run("connect while open returns immediately", func(t *testing.T) {
		require.NoError(t, tr.Connect(context.Background()))
		assert.Equal(t, 1, dialer.Calls())
	})
}

func TestTransport_ConnectFailureReturnsTransportError(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	tr := newTestTransport(dialer, sched)

	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
	assert.Equal(t, []time.Duration{2 * time.Second}, sched.Delays())
}

func TestTransport_ConcurrentConnectDialsOnce(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{gate: make(chan struct{})}
	dialer.succeed(conn)
	tr := newTestTransport(dialer, &fakeScheduler{})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tr.Connect(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool {
		return tr.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)
	close(dialer.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, dialer.Calls())
	assert.Equal(t, StateOpen, tr.State())
}

func TestTransport_MalformedFrameIsDropped(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.succeed(conn)
	tr := newTestTransport(dialer, &fakeScheduler{})
	rec := newRecorder()
	tr.Subscribe(rec)

	require.NoError(t, tr.Connect(context.Background()))
	rec.next(t)

	conn.push("not json")
	conn.push(`{"type":"bogus"}`)
	conn.push(`{"type":"queued","looking_for":"any"}`)

	ev := rec.next(t)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.IsType(t, protocol.Queued{}, ev.Message)
	assert.Equal(t, StateOpen, tr.State())
	assert.Equal(t, 0, tr.Attempts())
}

func TestTransport_MessagesArriveInOrder(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.succeed(conn)
	tr := newTestTransport(dialer, &fakeScheduler{})
	rec := newRecorder()
	tr.Subscribe(rec)

	require.NoError(t, tr.Connect(context.Background()))
	rec.next(t)

	conn.push(`{"type":"match_found","partner":{"nickname":"Nova","device_hash":"h1","bio":""}}`)
	conn.push(`{"type":"message","content":"hey","timestamp":"2024-05-01T12:00:00"}`)
	conn.push(`{"type":"partner_left"}`)

	assert.IsType(t, protocol.MatchFound{}, rec.next(t).Message)
	assert.IsType(t, protocol.Message{}, rec.next(t).Message)
	assert.IsType(t, protocol.PartnerLeft{}, rec.next(t).Message)
}

func TestTransport_ReconnectBackoff(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.succeed(conn)
	sched := &fakeScheduler{}
	tr := newTestTransport(dialer, sched)
	rec := newRecorder()
	tr.Subscribe(rec)

	require.NoError(t, tr.Connect(context.Background()))
	rec.next(t)

	conn.drop(websocket.CloseAbnormalClosure, "")

	for attempt := 1; attempt <= 5; attempt++ {
		ev := rec.next(t)
		require.Equal(t, EventDisconnected, ev.Kind)
		assert.False(t, ev.Terminal)
		assert.Equal(t, attempt, ev.Attempt)
		assert.Equal(t, NextDelay(2*time.Second, attempt), ev.Delay)
		require.True(t, sched.fireNext())
	}

	ev := rec.next(t)
	assert.Equal(t, EventDisconnected, ev.Kind)
	assert.True(t, ev.Terminal)
	assert.Zero(t, ev.Attempt)

	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second, 10 * time.Second,
	}, sched.Delays())
	assert.Equal(t, 6, dialer.Calls())
	assert.False(t, sched.fireNext(), "nothing scheduled after terminal failure")
	assert.Equal(t, StateDisconnected, tr.State())
	rec.none(t)
}

func TestTransport_AttemptsResetAfterReopen(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{}
	dialer.succeed(first)
	sched := &fakeScheduler{}
	tr := newTestTransport(dialer, sched)
	rec := newRecorder()
	tr.Subscribe(rec)

	require.NoError(t, tr.Connect(context.Background()))
	rec.next(t)

	first.drop(websocket.CloseGoingAway, "server restart")
	ev := rec.next(t)
	assert.Equal(t, 1, ev.Attempt)
	assert.Equal(t, websocket.CloseGoingAway, ev.Code)
	assert.Equal(t, "server restart", ev.Reason)
	assert.Equal(t, 1, tr.Attempts())

	dialer.succeed(second)
	require.True(t, sched.fireNext())
	assert.Equal(t, EventConnected, rec.next(t).Kind)
	assert.Equal(t, 0, tr.Attempts())
	assert.Equal(t, StateOpen, tr.State())

	second.drop(websocket.CloseAbnormalClosure, "")
	ev = rec.next(t)
	assert.Equal(t, 1, ev.Attempt, "counter restarts after a successful open")
}

func TestTransport_PolicyCloseIsTerminal(t *testing.T) {
	codes := []int{CloseUserNotFound, CloseVerificationRequired, CloseAccessDenied}
	for _, code := range codes {
		t.Run(fmt.Sprintf("code %d", code), func(t *testing.T) {
			conn := newFakeConn()
			dialer := &fakeDialer{}
			dialer.succeed(conn)
			sched := &fakeScheduler{}
			tr := newTestTransport(dialer, sched)
			rec := newRecorder()
			tr.Subscribe(rec)

			require.NoError(t, tr.Connect(context.Background()))
			rec.next(t)

			conn.drop(code, "refused")
			ev := rec.next(t)
			assert.True(t, ev.Terminal)
			assert.Equal(t, code, ev.Code)
			assert.Empty(t, sched.Delays())
			assert.Equal(t, 1, dialer.Calls())
		})
	}
}

func TestTransport_CloseEmitsNothing(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.succeed(conn)
	sched := &fakeScheduler{}
	tr := newTestTransport(dialer, sched)
	rec := newRecorder()
	tr.Subscribe(rec)

	require.NoError(t, tr.Connect(context.Background()))
	rec.next(t)

	require.NoError(t, tr.Close())
	assert.Equal(t, StateDisconnected, tr.State())
	assert.False(t, tr.Send(protocol.LeaveChat{}))
	rec.none(t)
	assert.Empty(t, sched.Delays())

	t.Run("close is idempotent", func(t *testing.T) {
		assert.NoError(t, tr.Close())
	})
}

func TestTransport_CloseCancelsScheduledRetry(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.succeed(conn)
	sched := &fakeScheduler{}
	tr := newTestTransport(dialer, sched)
	rec := newRecorder()
	tr.Subscribe(rec)

	require.NoError(t, tr.Connect(context.Background()))
	rec.next(t)
	conn.drop(websocket.CloseAbnormalClosure, "")
	rec.next(t)

	require.NoError(t, tr.Close())
	assert.False(t, sched.fireNext())
	assert.Equal(t, 1, dialer.Calls())
}

func TestTransport_CloseAbandonsDialInFlight(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{gate: make(chan struct{})}
	dialer.succeed(first)
	dialer.succeed(second)
	sched := &fakeScheduler{}
	tr := newTestTransport(dialer, sched)
	t.Cleanup(func() { tr.Close() })
	rec := newRecorder()
	tr.Subscribe(rec)

	abandoned := make(chan error, 1)
	go func() { abandoned <- tr.Connect(context.Background()) }()
	require.Eventually(t, func() bool {
		return tr.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Close())
	assert.Equal(t, StateDisconnected, tr.State())

	reconnected := make(chan error, 1)
	go func() { reconnected <- tr.Connect(context.Background()) }()
	require.Eventually(t, func() bool {
		return tr.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)
	close(dialer.gate)

	select {
	case err := <-abandoned:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned connect never returned")
	}
	select {
	case err := <-reconnected:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fresh connect never returned")
	}

	assert.Equal(t, EventConnected, rec.next(t).Kind)
	rec.none(t)
	assert.Equal(t, 2, dialer.Calls())
	assert.Equal(t, StateOpen, tr.State())
	assert.Empty(t, sched.Delays())
	require.Eventually(t, func() bool {
		return first.isClosed() != second.isClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestTransport_AbandonedDialFailureIsSilent(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	sched := &fakeScheduler{}
	tr := newTestTransport(dialer, sched)
	rec := newRecorder()
	tr.Subscribe(rec)

	done := make(chan error, 1)
	go func() { done <- tr.Connect(context.Background()) }()
	require.Eventually(t, func() bool {
		return tr.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Close())
	close(dialer.gate)

	select {
	case err := <-done:
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
	case <-time.After(2 * time.Second):
		t.Fatal("connect never returned")
	}
	rec.none(t)
	assert.Empty(t, sched.Delays())
	assert.Equal(t, StateDisconnected, tr.State())
}

func TestTransport_SubscribeDedup(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{}
	dialer.succeed(conn)
	tr := newTestTransport(dialer, &fakeScheduler{})
	rec := newRecorder()
	other := newRecorder()
	tr.Subscribe(rec)
	tr.Subscribe(rec)
	tr.Subscribe(other)
	tr.Unsubscribe(other)

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, EventConnected, rec.next(t).Kind)
	rec.none(t)
	other.none(t)
}

func TestTransport_WebsocketServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	digests := make(chan string, 1)
	received := make(chan string, 1)

	r := chi.NewRouter()
	r.Get("/ws/chat/{digest}", func(w http.ResponseWriter, req *http.Request) {
		digests <- chi.URLParam(req, "digest")
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected","karma":100,"nickname":"Quiet Fox"}`))

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)

		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"match_found","partner":{"nickname":"Nova","device_hash":"h1","bio":"hi"}}`))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseVerificationRequired, "Gender verification required"))
		ws.ReadMessage()
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/abc123"
	tr := New(DefaultConfig(url))
	rec := newRecorder()
	tr.Subscribe(rec)
	defer tr.Close()

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, "abc123", <-digests)
	assert.Equal(t, EventConnected, rec.next(t).Kind)

	ev := rec.next(t)
	require.Equal(t, EventMessage, ev.Kind)
	connected, ok := ev.Message.(protocol.Connected)
	require.True(t, ok)
	assert.Equal(t, 100, connected.Karma)

	require.True(t, tr.Send(protocol.JoinQueue{LookingFor: model.FilterAny}))
	select {
	case frame := <-received:
		assert.JSONEq(t, `{"type":"join_queue","looking_for":"any"}`, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive join_queue")
	}

	ev = rec.next(t)
	match, ok := ev.Message.(protocol.MatchFound)
	require.True(t, ok)
	assert.Equal(t, "Nova", match.Partner.Nickname)

	ev = rec.next(t)
	assert.Equal(t, EventDisconnected, ev.Kind)
	assert.True(t, ev.Terminal)
	assert.Equal(t, CloseVerificationRequired, ev.Code)
	assert.Equal(t, "Gender verification required", ev.Reason)
}

func TestTransport_URLResolvedPerDial(t *testing.T) {
	digests := []string{"first", "second"}
	dialer := &fakeDialer{}
	dialer.succeed(newFakeConn())
	dialer.succeed(newFakeConn())

	n := 0
	tr := New(Config{URL: "ws://unused/ws/chat/x"},
		WithDialer(dialer),
		WithScheduler((&fakeScheduler{}).Schedule),
		WithURLResolver(func(ctx context.Context) (string, error) {
			d := digests[n]
			n++
			return "ws://chat.test/ws/chat/" + d, nil
		}),
	)

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Connect(context.Background()))

	assert.Equal(t, []string{"ws://chat.test/ws/chat/first", "ws://chat.test/ws/chat/second"}, dialer.urls)
	tr.Close()
}

func TestTransport_URLResolverFailure(t *testing.T) {
	dialer := &fakeDialer{}
	sched := &fakeScheduler{}
	tr := New(Config{},
		WithDialer(dialer),
		WithScheduler(sched.Schedule),
		WithURLResolver(func(ctx context.Context) (string, error) {
			return "", apperrors.Storage(assert.AnError)
		}),
	)

	err := tr.Connect(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
	assert.Equal(t, 0, dialer.Calls())
	assert.Len(t, sched.Delays(), 1)
}
