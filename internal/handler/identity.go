package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/controlled-anonymity/client-go/internal/audit"
)

type IdentityManager interface {
	GetIdentityDigest(ctx context.Context) (string, error)
	Reset(ctx context.Context) error
}

// Disconnector drops the chat connection so the next one uses the new digest.
// DisconnectIfIdle refuses unless the session is idle and runs andThen before
// any other intent can move it.
type Disconnector interface {
	DisconnectIfIdle(ctx context.Context, andThen func() error) error
}

type IdentityHandler struct {
	ids     IdentityManager
	session Disconnector
}

func NewIdentityHandler(ids IdentityManager, session Disconnector) *IdentityHandler {
	return &IdentityHandler{ids: ids, session: session}
}

func (h *IdentityHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetIdentity)
	r.Post("/reset", h.Reset)

	return r
}

// GET /v1/identity
func (h *IdentityHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	digest, err := h.ids.GetIdentityDigest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"digest": digest})
}

// POST /v1/identity/reset
//
// Only allowed while idle: the backend will treat this device as a new user.
func (h *IdentityHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	err := h.session.DisconnectIfIdle(ctx, func() error {
		return h.ids.Reset(ctx)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	digest, err := h.ids.GetIdentityDigest(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	event := audit.FromRequest(r, audit.EventIdentityReset)
	event.Digest = digest
	audit.Log(event)
	writeJSON(w, http.StatusOK, map[string]string{"digest": digest})
}
