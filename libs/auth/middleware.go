package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/httpx"
)

// RequireAuth verifies the bearer token and stores the principal in the
// request context. Requests without a valid token get 401.
func RequireAuth(v *Verifier, logger *slog.Logger) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httpx.WriteError(w, r, apperr.New(apperr.Unauthenticated, "missing bearer token"))
				return
			}
			p, err := v.Verify(token)
			if err != nil {
				logger.Debug("token rejected", "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
				httpx.WriteError(w, r, apperr.New(apperr.Unauthenticated, "invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// PrincipalKey is an httpx.KeyFunc that rate limits per caller.
func PrincipalKey(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return "user:" + p.ID
	}
	return "ip:" + httpx.ClientIP(r)
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		// Browsers cannot set headers on a websocket handshake.
		if t := strings.TrimSpace(r.URL.Query().Get("access_token")); t != "" && isUpgrade(r) {
			return t, true
		}
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
