package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
)

func TestStatusFromCode(t *testing.T) {
	tests := []struct {
		code apperrors.ErrorCode
		want int
	}{
		{apperrors.ErrCodeInvalidInput, http.StatusBadRequest},
		{apperrors.ErrCodeCamera, http.StatusBadRequest},
		{apperrors.ErrCodeUnauthorized, http.StatusUnauthorized},
		{apperrors.ErrCodeIntentRejected, http.StatusConflict},
		{apperrors.ErrCodeServerRejected, http.StatusUnprocessableEntity},
		{apperrors.ErrCodeRequest, http.StatusBadGateway},
		{apperrors.ErrCodeNotConnected, http.StatusServiceUnavailable},
		{apperrors.ErrCodeTransport, http.StatusServiceUnavailable},
		{apperrors.ErrCodeStorage, http.StatusInternalServerError},
		{apperrors.ErrorCode("SOMETHING_NEW"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromCode(tt.code))
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("app error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, apperrors.IntentRejected("send_message", "idle"))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, apperrors.ErrCodeIntentRejected, body.Code)
		assert.Equal(t, "send_message is not allowed while idle", body.Error)
	})

	t.Run("plain error is hidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("open /var/lib/identity: permission denied"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "permission denied")
	})
}
