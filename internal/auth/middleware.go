// Package auth provides API key authentication for write routes.
package auth

import (
	"context"
	"net/http"

	"github.com/pendergraft/appstatus/internal/storage"
)

type contextKey struct{}

// Validator checks API keys.
type Validator interface {
	ValidateAPIKey(ctx context.Context, key string) (*storage.APIKey, error)
}

// WithAPIKey returns a copy of ctx carrying key.
func WithAPIKey(ctx context.Context, key *storage.APIKey) context.Context {
	return context.WithValue(ctx, contextKey{}, key)
}

// GetAPIKeyFromContext retrieves the API key info from context.
func GetAPIKeyFromContext(ctx context.Context) *storage.APIKey {
	if key, ok := ctx.Value(contextKey{}).(*storage.APIKey); ok {
		return key
	}
	return nil
}

// Middleware returns an HTTP middleware that rejects requests without a
// valid API key.
func Middleware(store Validator, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := FromRequest(r)
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
				return
			}
			if ValidFormat(apiKey) != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			key, err := store.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), key)))
		})
	}
}
