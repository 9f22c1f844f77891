// Package audit writes security-relevant bridge events to the structured log.
package audit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/controlled-anonymity/client-go/internal/util"
)

type EventType string

const (
	EventAuthFailure      EventType = "auth_failure"
	EventRateLimitExceed  EventType = "rate_limit_exceeded"
	EventIdentityReset    EventType = "identity_reset"
	EventReportSubmit     EventType = "report_submit"
	EventVerificationSend EventType = "verification_send"
)

type Event struct {
	Type      EventType
	Digest    string
	IP        string
	UserAgent string
	Details   map[string]any
}

// FromRequest fills the client fields of an event from r.
func FromRequest(r *http.Request, t EventType) Event {
	return Event{
		Type:      t,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	// Only ever the shortened digest.
	if event.Digest != "" {
		logger = logger.With().Str("digest", util.ShortHash(event.Digest)).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
