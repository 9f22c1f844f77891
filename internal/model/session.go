package model

import "time"

type Partner struct {
	Nickname   string `json:"nickname"`
	DeviceHash string `json:"deviceHash,omitempty"`
	Bio        string `json:"bio,omitempty"`
}

// Session is the client's view of one conversation with the backend.
// Values handed out by the state machine are copies; mutating them has no effect.
type Session struct {
	Phase        Phase         `json:"phase"`
	Reconnecting bool          `json:"reconnecting"`
	Filter       Filter        `json:"filter"`
	Partner      *Partner      `json:"partner,omitempty"`
	Messages     []ChatMessage `json:"messages"`
	QueuedAt     *time.Time    `json:"queuedAt,omitempty"`
	Generation   uint64        `json:"generation"`
}

func (s Session) Clone() Session {
	out := s
	if s.Partner != nil {
		p := *s.Partner
		out.Partner = &p
	}
	if s.QueuedAt != nil {
		q := *s.QueuedAt
		out.QueuedAt = &q
	}
	out.Messages = make([]ChatMessage, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// QueueElapsed returns how long the session has been queued as of now.
func (s Session) QueueElapsed(now time.Time) time.Duration {
	if s.Phase != PhaseQueued || s.QueuedAt == nil {
		return 0
	}
	return now.Sub(*s.QueuedAt)
}
