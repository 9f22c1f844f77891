package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/controlled-anonymity/client-go/internal/model"
)

const (
	TypeJoinQueue   = "join_queue"
	TypeLeaveQueue  = "leave_queue"
	TypeSendMessage = "send_message"
	TypeLeaveChat   = "leave_chat"
	TypeNextMatch   = "next_match"
)

// Outbound is a client intent sent to the backend.
type Outbound interface {
	outboundType() string
}

type JoinQueue struct {
	LookingFor model.Filter
}

type LeaveQueue struct{}

type SendMessage struct {
	Content string
}

type LeaveChat struct{}

type NextMatch struct {
	LookingFor model.Filter
}

func (JoinQueue) outboundType() string   { return TypeJoinQueue }
func (LeaveQueue) outboundType() string  { return TypeLeaveQueue }
func (SendMessage) outboundType() string { return TypeSendMessage }
func (LeaveChat) outboundType() string   { return TypeLeaveChat }
func (NextMatch) outboundType() string   { return TypeNextMatch }

// OutboundType returns the wire discriminator for o.
func OutboundType(o Outbound) string {
	return o.outboundType()
}

type outboundFrame struct {
	Type       string `json:"type"`
	LookingFor string `json:"looking_for,omitempty"`
	Content    string `json:"content,omitempty"`
}

func EncodeOutbound(o Outbound) ([]byte, error) {
	frame := outboundFrame{}
	switch m := o.(type) {
	case JoinQueue:
		frame.LookingFor = string(filterOrAny(m.LookingFor))
	case LeaveQueue:
	case SendMessage:
		if m.Content == "" {
			return nil, fmt.Errorf("protocol: %s requires content", TypeSendMessage)
		}
		frame.Content = m.Content
	case LeaveChat:
	case NextMatch:
		frame.LookingFor = string(filterOrAny(m.LookingFor))
	case nil:
		return nil, fmt.Errorf("protocol: nil outbound message")
	default:
		return nil, fmt.Errorf("protocol: unsupported outbound %T", o)
	}
	frame.Type = o.outboundType()
	return json.Marshal(frame)
}

func filterOrAny(f model.Filter) model.Filter {
	if f == "" {
		return model.FilterAny
	}
	return f
}
