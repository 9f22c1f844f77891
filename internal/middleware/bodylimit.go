package middleware

import (
	"net/http"
	"strings"

	"github.com/controlled-anonymity/client-go/internal/config"
)

// BodyLimitMiddleware caps request bodies. Multipart uploads get the larger
// upload limit.
type BodyLimitMiddleware struct {
	maxSize   int64
	maxUpload int64
}

func NewBodyLimitMiddleware(maxSize, maxUpload int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = config.MaxBodySize
	}
	if maxUpload <= 0 {
		maxUpload = config.MaxUploadSize
	}
	return &BodyLimitMiddleware{maxSize: maxSize, maxUpload: maxUpload}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := m.maxSize
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			limit = m.maxUpload
		}

		if r.Body != nil && r.ContentLength > limit {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "Request body too large",
			})
			return
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}
