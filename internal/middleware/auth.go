package middleware

import (
	"net/http"
	"strings"

	"taskflow/internal/identity"
	"taskflow/internal/logger"

	"go.uber.org/zap"
)

type TokenVerifier interface {
	Verify(token string) (identity.Identity, error)
}

// Authenticate requires a bearer token and stores the verified identity in the request context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				logger.Warn("HTTP: missing bearer token",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("path", r.URL.Path))
				unauthorized(w, r)
				return
			}

			id, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				logger.Warn("HTTP: token rejected",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.Error(err))
				unauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="taskflow"`)
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error":      "UNAUTHENTICATED",
		"message":    "missing or invalid credentials",
		"request_id": GetRequestID(r.Context()),
	})
}
