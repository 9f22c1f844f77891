package middleware

import (
	"net/http"
	"strings"

	"github.com/controlled-anonymity/client-go/internal/audit"
	apperrors "github.com/controlled-anonymity/client-go/internal/errors"
	"github.com/controlled-anonymity/client-go/internal/util"
)

// AuthMiddleware guards the bridge with one shared bearer token, stored as a
// bcrypt hash.
type AuthMiddleware struct {
	tokenHash string
}

func NewAuthMiddleware(tokenHash string) *AuthMiddleware {
	return &AuthMiddleware{tokenHash: tokenHash}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			audit.Log(authFailure(r, "missing token"))
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		if !util.CheckTokenHash(token, m.tokenHash) {
			audit.Log(authFailure(r, "invalid token"))
			writeError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func authFailure(r *http.Request, reason string) audit.Event {
	event := audit.FromRequest(r, audit.EventAuthFailure)
	event.Details = map[string]any{"path": r.URL.Path, "reason": reason}
	return event
}

// extractToken reads the bearer header, or the token query parameter for
// EventSource clients that cannot set headers.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
