package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/veranda-app/veranda/pkg/model"
)

type ownerKey struct{}

// OwnerFromContext returns the authenticated owner, or "" when unset.
func OwnerFromContext(ctx context.Context) model.OwnerID {
	if owner, ok := ctx.Value(ownerKey{}).(model.OwnerID); ok {
		return owner
	}
	return ""
}

// AuthMiddleware validates Authorization: Bearer <token> against apiKeys
// (token -> owner ID) and stores the owner in the request context. Every
// downstream handler reads the owner from context only; client-supplied
// owner fields are never trusted.
func AuthMiddleware(apiKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			var owner string
			for key, o := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
					owner = o
					break
				}
			}
			if owner == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ownerKey{}, model.OwnerID(owner))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
