package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/controlled-anonymity/client-go/internal/audit"
	"github.com/controlled-anonymity/client-go/internal/config"
	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/model"
)

// AccountAPI is the backend account client.
type AccountAPI interface {
	Register(ctx context.Context) (*model.User, error)
	Me(ctx context.Context) (*model.User, error)
	UpdateProfile(ctx context.Context, params model.UpdateProfileParams) (*model.User, error)
	VerifyGender(ctx context.Context, image io.Reader) (*model.VerificationResult, error)
	Karma(ctx context.Context) (*model.Karma, error)
}

type AccountHandler struct {
	api AccountAPI
}

func NewAccountHandler(api AccountAPI) *AccountHandler {
	return &AccountHandler{api: api}
}

func (h *AccountHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.Register)
	r.Get("/me", h.Me)
	r.Put("/profile", h.UpdateProfile)
	r.Post("/verify", h.Verify)
	r.Get("/karma", h.Karma)

	return r
}

// POST /v1/account/register
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	user, err := h.api.Register(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GET /v1/account/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.api.Me(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PUT /v1/account/profile
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var params model.UpdateProfileParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.api.UpdateProfile(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// POST /v1/account/verify
//
// Accepts a multipart form with an "image" file and forwards it. The upload
// is discarded as soon as the backend answers.
func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(config.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, apperrors.InvalidInput("image", "too large"))
			return
		}
		writeError(w, apperrors.CameraUnavailable())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, apperrors.CameraUnavailable())
		return
	}
	defer file.Close()

	audit.Log(audit.FromRequest(r, audit.EventVerificationSend))

	result, err := h.api.VerifyGender(r.Context(), file)
	if err != nil {
		log.Warn().Err(err).Msg("verification failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /v1/account/karma
func (h *AccountHandler) Karma(w http.ResponseWriter, r *http.Request) {
	karma, err := h.api.Karma(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, karma)
}
