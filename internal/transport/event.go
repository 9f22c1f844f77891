package transport

import (
	"time"

	"github.com/controlled-anonymity/client-go/internal/protocol"
)

// State is the connection lifecycle, distinct from the session phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Code, Reason, Attempt, Delay and
// Terminal are set for EventDisconnected; Message for EventMessage.
// Attempt and Delay describe the reconnect that was scheduled and are zero
// when Terminal is true.
type Event struct {
	Kind     EventKind
	Code     int
	Reason   string
	Attempt  int
	Delay    time.Duration
	Terminal bool
	Message  protocol.Inbound
}

// Subscriber receives transport events. Implementations must return quickly
// and must not call Connect or Close from HandleTransportEvent.
type Subscriber interface {
	HandleTransportEvent(Event)
}
