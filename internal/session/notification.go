package session

import (
	"github.com/controlled-anonymity/client-go/internal/model"
)

// Kind names the transition a notification reports.
type Kind string

const (
	KindWelcome         Kind = "welcome"
	KindQueued          Kind = "queued"
	KindLeftQueue       Kind = "left_queue"
	KindJoinRejected    Kind = "join_rejected"
	KindMatched         Kind = "matched"
	KindMessageSent     Kind = "message_sent"
	KindMessageReceived Kind = "message_received"
	KindPartnerLeft     Kind = "partner_left"
	KindChatLeft        Kind = "chat_left"
	KindRequeued        Kind = "requeued"
	KindReconnecting    Kind = "reconnecting"
	KindReconnected     Kind = "reconnected"
	KindDisconnected    Kind = "disconnected"
	KindServerError     Kind = "server_error"
)

// Welcome is the server hello received after the socket opens.
type Welcome struct {
	Nickname string `json:"nickname"`
	Karma    int    `json:"karma"`
}

// Notification describes one accepted transition together with the session
// as it stands afterwards.
type Notification struct {
	Kind    Kind               `json:"kind"`
	Session model.Session      `json:"session"`
	Partner *model.Partner     `json:"partner,omitempty"`
	Message *model.ChatMessage `json:"message,omitempty"`
	Welcome *Welcome           `json:"welcome,omitempty"`
	Error   string             `json:"error,omitempty"`

	// Err is the typed error behind Error.
	Err error `json:"-"`
}

// Observer receives notifications on the machine goroutine, in order.
// Implementations must not block and must not call intents on the machine.
type Observer interface {
	OnNotification(n Notification)
}
