package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/model"
)

const (
	TypeConnected   = "connected"
	TypeQueued      = "queued"
	TypeLeftQueue   = "left_queue"
	TypeMatchFound  = "match_found"
	TypeMessage     = "message"
	TypePartnerLeft = "partner_left"
	TypeChatEnded   = "chat_ended"
	TypeError       = "error"
)

// Inbound is an event pushed by the backend.
type Inbound interface {
	inboundType() string
}

// Connected is the server hello sent right after the socket is accepted.
type Connected struct {
	Karma    int
	Nickname string
}

type Queued struct {
	LookingFor model.Filter
	Position   int
}

type LeftQueue struct{}

type MatchFound struct {
	Partner model.Partner
}

type Message struct {
	Content   string
	Timestamp time.Time
}

type PartnerLeft struct{}

type ChatEnded struct{}

type Error struct {
	Message string
}

func (Connected) inboundType() string   { return TypeConnected }
func (Queued) inboundType() string      { return TypeQueued }
func (LeftQueue) inboundType() string   { return TypeLeftQueue }
func (MatchFound) inboundType() string  { return TypeMatchFound }
func (Message) inboundType() string     { return TypeMessage }
func (PartnerLeft) inboundType() string { return TypePartnerLeft }
func (ChatEnded) inboundType() string   { return TypeChatEnded }
func (Error) inboundType() string       { return TypeError }

// InboundType returns the wire discriminator for in.
func InboundType(in Inbound) string {
	return in.inboundType()
}

type partnerFrame struct {
	Nickname   string `json:"nickname"`
	DeviceHash string `json:"device_hash"`
	Bio        string `json:"bio"`
}

type inboundFrame struct {
	Type       string        `json:"type"`
	Karma      int           `json:"karma"`
	Nickname   string        `json:"nickname"`
	LookingFor string        `json:"looking_for"`
	Position   int           `json:"position"`
	Partner    *partnerFrame `json:"partner"`
	Content    string        `json:"content"`
	Timestamp  string        `json:"timestamp"`
	Message    string        `json:"message"`
}

// DecodeInbound parses one frame. Anything it cannot map onto a known
// variant is returned as an ErrCodeProtocol AppError.
func DecodeInbound(data []byte) (Inbound, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, apperrors.Protocol("malformed frame").WithCause(err)
	}

	switch frame.Type {
	case TypeConnected:
		return Connected{Karma: frame.Karma, Nickname: frame.Nickname}, nil
	case TypeQueued:
		filter, _ := model.ParseFilter(frame.LookingFor)
		return Queued{LookingFor: filter, Position: frame.Position}, nil
	case TypeLeftQueue:
		return LeftQueue{}, nil
	case TypeMatchFound:
		if frame.Partner == nil {
			return nil, apperrors.Protocol("match_found without partner")
		}
		nickname := strings.TrimSpace(frame.Partner.Nickname)
		if nickname == "" {
			nickname = "Anonymous"
		}
		return MatchFound{Partner: model.Partner{
			Nickname:   nickname,
			DeviceHash: frame.Partner.DeviceHash,
			Bio:        frame.Partner.Bio,
		}}, nil
	case TypeMessage:
		return Message{Content: frame.Content, Timestamp: parseTimestamp(frame.Timestamp)}, nil
	case TypePartnerLeft:
		return PartnerLeft{}, nil
	case TypeChatEnded:
		return ChatEnded{}, nil
	case TypeError:
		msg := strings.TrimSpace(frame.Message)
		if msg == "" {
			msg = "Unknown server error"
		}
		return Error{Message: msg}, nil
	case "":
		return nil, apperrors.Protocol("frame without type")
	default:
		return nil, apperrors.Protocol(fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 and the backend's zone-less ISO form (UTC).
// Unparseable values yield the zero time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
