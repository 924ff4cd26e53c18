package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/intentgate/intentgate/internal/session"
)

type contextKey string

const (
	callerContextKey contextKey = "caller"
	tokenContextKey  contextKey = "token"
)

// Authenticate resolves the bearer token on every request and stashes
// the caller identity (and the raw token, needed for secret decryption)
// in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		res, err := h.sessions.Resolve(r.Context(), parts[1])
		if errors.Is(err, session.ErrInvalidToken) {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		if err != nil {
			http.Error(w, "Token resolution failed", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), callerContextKey, res.CallerID)
		ctx = context.WithValue(ctx, tokenContextKey, parts[1])
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFromContext(ctx context.Context) (string, bool) {
	callerID, ok := ctx.Value(callerContextKey).(string)
	return callerID, ok
}

func tokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey).(string)
	return token, ok
}
