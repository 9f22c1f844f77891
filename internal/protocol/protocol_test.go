package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/model"
)

func TestEncodeOutbound(t *testing.T) {
	tests := []struct {
		name string
		in   Outbound
		want string
	}{
		{"join queue", JoinQueue{LookingFor: model.FilterFemale}, `{"type":"join_queue","looking_for":"female"}`},
		{"join queue defaults to any", JoinQueue{}, `{"type":"join_queue","looking_for":"any"}`},
		{"leave queue", LeaveQueue{}, `{"type":"leave_queue"}`},
		{"send message", SendMessage{Content: "hi"}, `{"type":"send_message","content":"hi"}`},
		{"leave chat", LeaveChat{}, `{"type":"leave_chat"}`},
		{"next match", NextMatch{LookingFor: model.FilterMale}, `{"type":"next_match","looking_for":"male"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeOutbound(tc.in)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}

	t.Run("rejects empty message", func(t *testing.T) {
		_, err := EncodeOutbound(SendMessage{})
		assert.Error(t, err)
	})

	t.Run("rejects nil", func(t *testing.T) {
		_, err := EncodeOutbound(nil)
		assert.Error(t, err)
	})
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Inbound
	}{
		{"connected", `{"type":"connected","karma":12,"nickname":"Orbit"}`, Connected{Karma: 12, Nickname: "Orbit"}},
		{"queued", `{"type":"queued","looking_for":"female"}`, Queued{LookingFor: model.FilterFemale}},
		{"left queue", `{"type":"left_queue"}`, LeftQueue{}},
		{
			"match found",
			`{"type":"match_found","partner":{"nickname":"Nova","device_hash":"ff00"}}`,
			MatchFound{Partner: model.Partner{Nickname: "Nova", DeviceHash: "ff00"}},
		},
		{
			"match found with blank nickname",
			`{"type":"match_found","partner":{"nickname":"  ","bio":"hello"}}`,
			MatchFound{Partner: model.Partner{Nickname: "Anonymous", Bio: "hello"}},
		},
		{"partner left", `{"type":"partner_left"}`, PartnerLeft{}},
		{"chat ended", `{"type":"chat_ended"}`, ChatEnded{}},
		{"error", `{"type":"error","message":"Please wait 3 seconds"}`, Error{Message: "Please wait 3 seconds"}},
		{"error without message", `{"type":"error"}`, Error{Message: "Unknown server error"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tc.frame))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeInboundMessageTimestamp(t *testing.T) {
	t.Run("zone-less iso timestamp is UTC", func(t *testing.T) {
		got, err := DecodeInbound([]byte(`{"type":"message","from":"partner","content":"hey","timestamp":"2024-05-01T10:20:30.123456"}`))
		require.NoError(t, err)

		msg, ok := got.(Message)
		require.True(t, ok)
		assert.Equal(t, "hey", msg.Content)
		assert.Equal(t, time.Date(2024, 5, 1, 10, 20, 30, 123456000, time.UTC), msg.Timestamp)
	})

	t.Run("rfc3339 timestamp", func(t *testing.T) {
		got, err := DecodeInbound([]byte(`{"type":"message","content":"hey","timestamp":"2024-05-01T12:20:30+02:00"}`))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), got.(Message).Timestamp)
	})

	t.Run("garbage timestamp becomes zero", func(t *testing.T) {
		got, err := DecodeInbound([]byte(`{"type":"message","content":"hey","timestamp":"yesterday"}`))
		require.NoError(t, err)
		assert.True(t, got.(Message).Timestamp.IsZero())
	})
}

func TestDecodeInboundRejectsMalformed(t *testing.T) {
	frames := map[string]string{
		"not json":          `{"type":`,
		"missing type":      `{"content":"hi"}`,
		"unknown type":      `{"type":"typing"}`,
		"match w/o partner": `{"type":"match_found"}`,
		"array instead":     `[1,2,3]`,
		"wrong field type":  `{"type":"connected","karma":"lots"}`,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(frame))
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeProtocol, apperrors.GetCode(err))
		})
	}
}

func TestInboundTypeMatchesWire(t *testing.T) {
	for _, in := range []Inbound{Connected{}, Queued{}, LeftQueue{}, MatchFound{}, Message{}, PartnerLeft{}, ChatEnded{}, Error{}} {
		raw, err := json.Marshal(map[string]any{"type": InboundType(in), "partner": map[string]string{"nickname": "x"}})
		require.NoError(t, err)

		got, err := DecodeInbound(raw)
		require.NoError(t, err)
		assert.Equal(t, InboundType(in), InboundType(got))
	}
}
