package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/dsmirnov/credvault/internal/server/auth"
)

type ctxKey string

const payloadKey ctxKey = "payload"

// accessTokenMiddleware requires a "Bearer <access token>" Authorization
// header and puts the verified payload on the request context. Token
// failures of any kind mean "not authenticated", never a crash.
func (s *Server) accessTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required")
			return
		}

		payload, err := s.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired access token")
			return
		}

		ctx := context.WithValue(r.Context(), payloadKey, payload)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// payloadFromContext returns the payload stored by accessTokenMiddleware.
func payloadFromContext(ctx context.Context) (auth.Payload, bool) {
	p, ok := ctx.Value(payloadKey).(auth.Payload)
	return p, ok
}
