package httpserver

import (
	"crypto/subtle"
	"net/http"

	apperrors "github.com/buhogo/payd/internal/errors"
	"github.com/buhogo/payd/pkg/responders"
)

// adminMetricsAuth protects /metrics with an optional API key. An empty
// configured key leaves the endpoint open (local deployments).
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				responders.Error(w, http.StatusUnauthorized, string(apperrors.ErrCodeInvalidInput), "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
