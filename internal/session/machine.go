package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/controlled-anonymity/client-go/internal/config"
	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/model"
	"github.com/controlled-anonymity/client-go/internal/protocol"
	"github.com/controlled-anonymity/client-go/internal/transport"
)

// Transport is the part of transport.Transport the machine drives.
type Transport interface {
	Connect(ctx context.Context) error
	Send(o protocol.Outbound) bool
	Close() error
	Subscribe(s transport.Subscriber)
	Unsubscribe(s transport.Subscriber)
}

var errStopped = apperrors.Internal("Session is not running")

const inboxSize = 256

type Option func(*Machine)

// WithClock overrides the time source used for queue and message timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

type observerEntry struct {
	id  uint64
	obs Observer
}

type Machine struct {
	tr      Transport
	now     func() time.Time
	inbox   chan func()
	done    chan struct{}
	started atomic.Bool
	snap    atomic.Pointer[model.Session]

	obsMu     sync.Mutex
	observers []observerEntry
	nextObsID uint64

	// Owned by the Run goroutine.
	ctx         context.Context
	s           model.Session
	open        bool
	connecting  bool
	pendingJoin *model.Filter
	connectSeq  uint64
}

// New builds a machine over tr and subscribes it to tr's events.
// Events received before Run starts are buffered.
func New(tr Transport, opts ...Option) *Machine {
	m := &Machine{
		tr:    tr,
		now:   time.Now,
		inbox: make(chan func(), inboxSize),
		done:  make(chan struct{}),
		ctx:   context.Background(),
		s:     model.Session{Phase: model.PhaseIdle, Filter: model.FilterAny},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.publish()
	tr.Subscribe(m)
	return m
}

// Run executes intents and transport events until ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return apperrors.Internal("Session is already running")
	}
	defer close(m.done)
	defer m.tr.Unsubscribe(m)

	m.ctx = ctx
	log.Debug().Msg("session machine started")
	for {
		select {
		case op := <-m.inbox:
			op()
		case <-ctx.Done():
			log.Debug().Msg("session machine stopped")
			return ctx.Err()
		}
	}
}

// Snapshot returns a copy of the current session. Safe from any goroutine.
func (m *Machine) Snapshot() model.Session {
	return m.snap.Load().Clone()
}

// Subscribe registers o and returns a func that removes it.
func (m *Machine) Subscribe(o Observer) (unsubscribe func()) {
	m.obsMu.Lock()
	m.nextObsID++
	id := m.nextObsID
	m.observers = append(m.observers, observerEntry{id: id, obs: o})
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		for i, e := range m.observers {
			if e.id == id {
				m.observers = append(m.observers[:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// HandleTransportEvent implements transport.Subscriber.
func (m *Machine) HandleTransportEvent(ev transport.Event) {
	m.post(func() { m.onTransport(ev) })
}

// post queues fn without waiting for it. Dropped once the machine stopped.
func (m *Machine) post(fn func()) {
	select {
	case m.inbox <- fn:
	case <-m.done:
	}
}

func (m *Machine) JoinQueue(ctx context.Context, filter model.Filter) error {
	return m.do(ctx, func() error { return m.joinQueue(filter) })
}

func (m *Machine) LeaveQueue(ctx context.Context) error {
	return m.do(ctx, m.leaveQueue)
}

func (m *Machine) Send(ctx context.Context, content string) error {
	return m.do(ctx, func() error { return m.send(content) })
}

func (m *Machine) LeaveChat(ctx context.Context) error {
	return m.do(ctx, m.leaveChat)
}

// LeaveChatAt leaves the chat only if the session is still the one observed
// at generation gen. It reports whether the chat was left.
func (m *Machine) LeaveChatAt(ctx context.Context, gen uint64) (bool, error) {
	var left bool
	err := m.do(ctx, func() error {
		if m.s.Phase != model.PhaseMatched || m.s.Generation != gen {
			log.Debug().Uint64("generation", gen).Msg("ignoring leave for a finished chat")
			return nil
		}
		if err := m.leaveChat(); err != nil {
			return err
		}
		left = true
		return nil
	})
	return left, err
}

func (m *Machine) NextMatch(ctx context.Context, filter model.Filter) error {
	return m.do(ctx, func() error { return m.nextMatch(filter) })
}

// Connect starts connecting the transport if it is not already open or
// connecting. It is the manual retry after a terminal disconnect.
func (m *Machine) Connect(ctx context.Context) error {
	return m.do(ctx, func() error {
		if !m.open {
			m.startConnect()
		}
		return nil
	})
}

// Disconnect closes the transport on request. An active queue entry or chat
// is abandoned and the session returns to idle.
func (m *Machine) Disconnect(ctx context.Context) error {
	return m.do(ctx, func() error {
		m.disconnect()
		return nil
	})
}

// DisconnectIfIdle closes the transport and runs andThen, both on the machine
// goroutine, only if the session is idle. No intent can slip in between the
// check and andThen.
func (m *Machine) DisconnectIfIdle(ctx context.Context, andThen func() error) error {
	return m.do(ctx, func() error {
		if m.s.Phase != model.PhaseIdle {
			return m.reject("disconnect")
		}
		m.disconnect()
		if andThen == nil {
			return nil
		}
		return andThen()
	})
}

func (m *Machine) disconnect() {
	if err := m.tr.Close(); err != nil {
		log.Debug().Err(err).Msg("transport close")
	}
	m.open = false
	m.connecting = false
	m.connectSeq++
	wasReconnecting := m.s.Reconnecting
	m.s.Reconnecting = false

	if m.s.Phase == model.PhaseIdle && !wasReconnecting {
		m.pendingJoin = nil
		m.publish()
		return
	}
	m.reset()
	log.Info().Msg("disconnected on request")
	m.notify(Notification{Kind: KindDisconnected})
}

func (m *Machine) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case m.inbox <- func() { res <- fn() }:
	case <-m.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-res:
		return err
	case <-m.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) joinQueue(filter model.Filter) error {
	if filter == "" {
		filter = model.FilterAny
	}
	if _, ok := model.ParseFilter(string(filter)); !ok {
		return apperrors.InvalidInput("looking_for", "must be one of any, male, female")
	}
	if m.s.Phase != model.PhaseIdle {
		return m.reject("join_queue")
	}

	if m.open {
		if !m.tr.Send(protocol.JoinQueue{LookingFor: filter}) {
			return apperrors.NotConnected()
		}
	} else {
		f := filter
		m.pendingJoin = &f
		if !m.s.Reconnecting {
			m.startConnect()
		}
	}

	now := m.now()
	m.s.Phase = model.PhaseQueued
	m.s.Filter = filter
	m.s.QueuedAt = &now
	log.Info().Str("filter", string(filter)).Bool("pending", m.pendingJoin != nil).Msg("joined queue")
	m.notify(Notification{Kind: KindQueued})
	return nil
}

func (m *Machine) leaveQueue() error {
	if m.s.Phase != model.PhaseQueued {
		return m.reject("leave_queue")
	}

	if m.pendingJoin != nil {
		m.pendingJoin = nil
	} else if m.open && !m.tr.Send(protocol.LeaveQueue{}) {
		log.Warn().Msg("leave_queue could not be sent")
	}

	m.reset()
	log.Info().Msg("left queue")
	m.notify(Notification{Kind: KindLeftQueue})
	return nil
}

func (m *Machine) send(content string) error {
	if m.s.Phase != model.PhaseMatched {
		return m.reject("send_message")
	}
	if !m.open {
		return apperrors.NotConnected()
	}
	content, err := normalizeContent(content)
	if err != nil {
		return err
	}
	if !m.tr.Send(protocol.SendMessage{Content: content}) {
		return apperrors.NotConnected()
	}

	msg := model.ChatMessage{Content: content, Direction: model.DirectionSent, Timestamp: m.now()}
	m.s.Messages = append(m.s.Messages, msg)
	m.notify(Notification{Kind: KindMessageSent, Message: &msg})
	return nil
}

func (m *Machine) leaveChat() error {
	if m.s.Phase != model.PhaseMatched {
		return m.reject("leave_chat")
	}
	if !m.open {
		return apperrors.NotConnected()
	}
	if !m.tr.Send(protocol.LeaveChat{}) {
		return apperrors.NotConnected()
	}

	partner := m.s.Partner
	m.reset()
	log.Info().Msg("left chat")
	m.notify(Notification{Kind: KindChatLeft, Partner: partner})
	return nil
}

func (m *Machine) nextMatch(filter model.Filter) error {
	if filter == "" {
		filter = m.s.Filter
	}
	if _, ok := model.ParseFilter(string(filter)); !ok {
		return apperrors.InvalidInput("looking_for", "must be one of any, male, female")
	}
	if m.s.Phase != model.PhaseMatched {
		return m.reject("next_match")
	}
	if !m.open {
		return apperrors.NotConnected()
	}
	if !m.tr.Send(protocol.NextMatch{LookingFor: filter}) {
		return apperrors.NotConnected()
	}

	m.reset()
	now := m.now()
	m.s.Phase = model.PhaseQueued
	m.s.Filter = filter
	m.s.QueuedAt = &now
	log.Info().Str("filter", string(filter)).Msg("requeued for next match")
	m.notify(Notification{Kind: KindRequeued})
	return nil
}

func (m *Machine) onTransport(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		m.onConnected()
	case transport.EventDisconnected:
		m.onDisconnected(ev)
	case transport.EventMessage:
		m.onServer(ev.Message)
	default:
		log.Warn().Str("kind", ev.Kind.String()).Msg("unhandled transport event")
	}
}

func (m *Machine) onConnected() {
	m.open = true
	m.connecting = false
	wasReconnecting := m.s.Reconnecting
	m.s.Reconnecting = false

	if m.pendingJoin != nil {
		filter := *m.pendingJoin
		m.pendingJoin = nil
		if !m.tr.Send(protocol.JoinQueue{LookingFor: filter}) {
			m.reset()
			err := apperrors.NotConnected()
			m.notify(Notification{Kind: KindJoinRejected, Err: err, Error: err.Message})
			return
		}
		log.Debug().Str("filter", string(filter)).Msg("sent pending join")
	}

	if wasReconnecting {
		log.Info().Msg("chat connection restored")
		m.notify(Notification{Kind: KindReconnected})
	}
}

func (m *Machine) onDisconnected(ev transport.Event) {
	m.open = false
	m.connecting = false

	if ev.Terminal {
		m.pendingJoin = nil
		m.reset()
		err := apperrors.Transport("Connection lost. Please try again.", nil).
			WithDetails(map[string]any{"code": ev.Code, "reason": ev.Reason})
		log.Error().Int("code", ev.Code).Str("reason", ev.Reason).Msg("chat connection failed")
		m.notify(Notification{Kind: KindDisconnected, Err: err, Error: err.Message})
		return
	}

	if m.s.Reconnecting {
		log.Debug().Int("attempt", ev.Attempt).Msg("reconnect attempt failed")
		return
	}
	m.s.Reconnecting = true
	log.Warn().Int("attempt", ev.Attempt).Dur("delay", ev.Delay).Msg("chat connection lost, reconnecting")
	m.notify(Notification{Kind: KindReconnecting})
}

func (m *Machine) onServer(in protocol.Inbound) {
	switch msg := in.(type) {
	case protocol.Connected:
		m.notify(Notification{Kind: KindWelcome, Welcome: &Welcome{Nickname: msg.Nickname, Karma: msg.Karma}})

	case protocol.Queued, protocol.LeftQueue:
		log.Debug().Str("type", protocol.InboundType(in)).Str("phase", string(m.s.Phase)).Msg("queue acknowledged")

	case protocol.MatchFound:
		if m.s.Phase != model.PhaseQueued {
			m.stale(in)
			return
		}
		partner := msg.Partner
		m.s.Phase = model.PhaseMatched
		m.s.Partner = &partner
		m.s.Messages = nil
		m.s.QueuedAt = nil
		log.Info().Str("partner", partner.Nickname).Msg("match found")
		m.notify(Notification{Kind: KindMatched, Partner: &partner})

	case protocol.Message:
		if m.s.Phase != model.PhaseMatched {
			m.stale(in)
			return
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = m.now()
		}
		cm := model.ChatMessage{Content: msg.Content, Direction: model.DirectionReceived, Timestamp: ts}
		m.s.Messages = append(m.s.Messages, cm)
		m.notify(Notification{Kind: KindMessageReceived, Message: &cm})

	case protocol.PartnerLeft, protocol.ChatEnded:
		if m.s.Phase != model.PhaseMatched {
			m.stale(in)
			return
		}
		partner := m.s.Partner
		m.reset()
		log.Info().Str("type", protocol.InboundType(in)).Msg("partner left")
		m.notify(Notification{Kind: KindPartnerLeft, Partner: partner})

	case protocol.Error:
		err := apperrors.ServerRejected(msg.Message)
		if m.s.Phase == model.PhaseQueued {
			m.reset()
			log.Warn().Str("message", msg.Message).Msg("server refused queue join")
			m.notify(Notification{Kind: KindJoinRejected, Err: err, Error: err.Message})
			return
		}
		log.Warn().Str("message", msg.Message).Msg("server error")
		m.notify(Notification{Kind: KindServerError, Err: err, Error: err.Message})

	default:
		log.Warn().Str("type", protocol.InboundType(in)).Msg("unhandled server event")
	}
}

func (m *Machine) startConnect() {
	if m.connecting {
		return
	}
	m.connecting = true
	m.connectSeq++
	seq := m.connectSeq
	ctx := m.ctx
	go func() {
		err := m.tr.Connect(ctx)
		m.post(func() { m.onConnectResult(seq, err) })
	}()
}

// onConnectResult ends the connect started as seq. Dial failures are followed
// by transport events; only an attempt abandoned by a transport close needs
// handling here, since nothing will retry it.
func (m *Machine) onConnectResult(seq uint64, err error) {
	if seq != m.connectSeq {
		return
	}
	m.connecting = false
	if err == nil {
		return
	}
	log.Debug().Err(err).Msg("connect failed")
	if !errors.Is(err, transport.ErrClosed) || m.open || m.pendingJoin == nil {
		return
	}

	m.reset()
	terr := apperrors.Transport("Connection closed before the chat server answered", err)
	m.notify(Notification{Kind: KindDisconnected, Err: terr, Error: terr.Message})
}

// reset returns the session to idle and drops everything tied to the
// previous queue entry or chat.
func (m *Machine) reset() {
	m.s.Phase = model.PhaseIdle
	m.s.Partner = nil
	m.s.Messages = nil
	m.s.QueuedAt = nil
	m.pendingJoin = nil
	m.s.Generation++
}

func (m *Machine) reject(intent string) error {
	log.Debug().Str("intent", intent).Str("phase", string(m.s.Phase)).Msg("intent rejected")
	return apperrors.IntentRejected(intent, string(m.s.Phase))
}

func (m *Machine) stale(in protocol.Inbound) {
	log.Debug().Str("type", protocol.InboundType(in)).Str("phase", string(m.s.Phase)).Msg("ignoring stale server event")
}

// notify publishes the new snapshot and hands n to every observer.
func (m *Machine) notify(n Notification) {
	m.publish()
	n.Session = m.s.Clone()

	m.obsMu.Lock()
	observers := make([]Observer, len(m.observers))
	for i, e := range m.observers {
		observers[i] = e.obs
	}
	m.obsMu.Unlock()

	for _, o := range observers {
		o.OnNotification(n)
	}
}

func (m *Machine) publish() {
	s := m.s.Clone()
	m.snap.Store(&s)
}

func normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperrors.InvalidInput("content", "message is empty")
	}
	if n := len([]rune(content)); n > config.MaxMessageLength {
		return "", apperrors.InvalidInput("content", "message is too long")
	}
	return content, nil
}
