package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/admincore/userd/internal/server/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// authMiddleware requires a valid bearer token and puts its claims on the
// request context.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeErrorBody(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		claims, err := auth.ParseToken(token, h.secretKey)
		if err != nil {
			writeErrorBody(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the token claims put there by the middleware.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok
}
