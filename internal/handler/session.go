package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/controlled-anonymity/client-go/internal/audit"
	"github.com/controlled-anonymity/client-go/internal/config"
	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/model"
	"github.com/controlled-anonymity/client-go/internal/util"
)

// SessionMachine is the session state machine as seen by the HTTP surface.
type SessionMachine interface {
	Snapshot() model.Session
	Connect(ctx context.Context) error
	JoinQueue(ctx context.Context, filter model.Filter) error
	LeaveQueue(ctx context.Context) error
	Send(ctx context.Context, content string) error
	LeaveChat(ctx context.Context) error
	LeaveChatAt(ctx context.Context, gen uint64) (bool, error)
	NextMatch(ctx context.Context, filter model.Filter) error
}

type ReportSubmitter interface {
	SubmitReport(ctx context.Context, params model.SubmitReportParams) (*model.ReportAck, error)
}

type SessionHandler struct {
	machine   SessionMachine
	reports   ReportSubmitter
	sendLimit func(http.Handler) http.Handler
}

// NewSessionHandler builds the intent routes. sendLimit, when non-nil, wraps
// the message route.
func NewSessionHandler(machine SessionMachine, reports ReportSubmitter, sendLimit func(http.Handler) http.Handler) *SessionHandler {
	return &SessionHandler{
		machine:   machine,
		reports:   reports,
		sendLimit: sendLimit,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/session", h.GetSession)
	r.Post("/connect", h.Connect)
	r.Post("/queue", h.JoinQueue)
	r.Delete("/queue", h.LeaveQueue)
	r.Route("/chat", func(r chi.Router) {
		if h.sendLimit != nil {
			r.With(h.sendLimit).Post("/messages", h.SendMessage)
		} else {
			r.Post("/messages", h.SendMessage)
		}
		r.Post("/leave", h.LeaveChat)
		r.Post("/next", h.NextMatch)
		r.Post("/report", h.Report)
	})

	return r
}

type filterRequest struct {
	LookingFor string `json:"looking_for"`
}

func (req filterRequest) filter() (model.Filter, error) {
	f, ok := model.ParseFilter(req.LookingFor)
	if !ok {
		return "", apperrors.InvalidInput("looking_for", "must be one of "+strings.Join(model.ValidFilters(), ", "))
	}
	return f, nil
}

// GET /v1/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.machine.Snapshot())
}

// POST /v1/connect
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.machine.Connect(r.Context()))
}

// POST /v1/queue
func (h *SessionHandler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	filter, err := req.filter()
	if err != nil {
		writeError(w, err)
		return
	}
	h.respond(w, h.machine.JoinQueue(r.Context(), filter))
}

// DELETE /v1/queue
func (h *SessionHandler) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.machine.LeaveQueue(r.Context()))
}

// POST /v1/chat/messages
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.respond(w, h.machine.Send(r.Context(), req.Content))
}

// POST /v1/chat/leave
func (h *SessionHandler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.machine.LeaveChat(r.Context()))
}

// POST /v1/chat/next
func (h *SessionHandler) NextMatch(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	// An omitted filter keeps the current one.
	var filter model.Filter
	if req.LookingFor != "" {
		f, err := req.filter()
		if err != nil {
			writeError(w, err)
			return
		}
		filter = f
	}
	h.respond(w, h.machine.NextMatch(r.Context(), filter))
}

// POST /v1/chat/report
//
// Reports the current partner and then leaves the chat, unless the chat
// already ended while the report was in flight.
func (h *SessionHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason  string `json:"reason"`
		Details string `json:"details"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	req.Reason = strings.TrimSpace(req.Reason)
	req.Details = strings.TrimSpace(req.Details)
	if req.Reason == "" {
		writeError(w, apperrors.MissingRequired("reason"))
		return
	}
	if !util.IsValidEnum(req.Reason, model.ValidReportReasons) {
		writeError(w, apperrors.InvalidInput("reason", "must be one of "+strings.Join(model.ValidReportReasons, ", ")))
		return
	}
	if len([]rune(req.Details)) > config.MaxReportDetails {
		writeError(w, apperrors.InvalidInput("details", fmt.Sprintf("must be at most %d characters", config.MaxReportDetails)))
		return
	}

	snap := h.machine.Snapshot()
	if snap.Phase != model.PhaseMatched || snap.Partner == nil {
		writeError(w, apperrors.IntentRejected("report", string(snap.Phase)))
		return
	}
	if snap.Partner.DeviceHash == "" {
		writeError(w, apperrors.InvalidInput("partner", "cannot be identified"))
		return
	}

	reason := req.Reason
	if req.Details != "" {
		reason += ": " + req.Details
	}

	ctx := r.Context()
	ack, err := h.reports.SubmitReport(ctx, model.SubmitReportParams{
		ReportedDeviceHash: snap.Partner.DeviceHash,
		Reason:             reason,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to submit report")
		writeError(w, err)
		return
	}

	left, err := h.machine.LeaveChatAt(ctx, snap.Generation)
	if err != nil {
		log.Warn().Err(err).Msg("report submitted but leaving chat failed")
	}
	event := audit.FromRequest(r, audit.EventReportSubmit)
	event.Digest = snap.Partner.DeviceHash
	event.Details = map[string]any{"reason": req.Reason, "left": left}
	audit.Log(event)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": ack.Success,
		"message": ack.Message,
		"left":    left,
		"session": h.machine.Snapshot(),
	})
}

func (h *SessionHandler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.machine.Snapshot())
}
