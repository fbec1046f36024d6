package middleware

import (
	"context"
	"net/http"

	"github.com/sotrian/sotrian/backend/pkg/utils"
)

// Identity is the authenticated caller as asserted by the fronting proxy.
// Authentication itself is outside this service; the headers are trusted.
type Identity struct {
	ID       string
	Username string
	Email    string
}

type identityKey struct{}

// RequireIdentity extracts the caller identity headers and rejects requests
// without an X-User-ID.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-User-ID")
		if id == "" {
			utils.RespondError(w, http.StatusUnauthorized, "X-User-ID header is required")
			return
		}

		ident := Identity{
			ID:       id,
			Username: r.Header.Get("X-Username"),
			Email:    r.Header.Get("X-User-Email"),
		}
		if ident.Username == "" {
			ident.Username = id
		}

		ctx := context.WithValue(r.Context(), identityKey{}, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom returns the caller identity stored by RequireIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(Identity)
	return ident, ok
}
