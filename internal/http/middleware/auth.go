package middleware

import (
	"context"
	"net/http"
	"strings"
)

const ownerContextKey contextKey = "owner_id"

// LocalOwner is the owner every request acts as when authentication is off.
const LocalOwner = "local"

// Authenticator resolves a credential to the owner id it acts for.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (ownerID string, ok bool)
}

// TokenAuthenticator is a static token to owner table.
type TokenAuthenticator map[string]string

func (t TokenAuthenticator) Authenticate(_ context.Context, token string) (string, bool) {
	owner, ok := t[token]
	return owner, ok && owner != ""
}

// Auth guards /v1/ routes. Credentials come from "Authorization: Bearer" or
// "x-auth-token". A nil authenticator disables the check and every request
// runs as LocalOwner.
func Auth(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}
			if authenticator == nil {
				next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), LocalOwner)))
				return
			}

			token := credential(r)
			if token == "" {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			owner, ok := authenticator.Authenticate(r.Context(), token)
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "token is not valid")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerContextKey, ownerID)
}

func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, _ := ctx.Value(ownerContextKey).(string)
	return owner, owner != ""
}

func credential(r *http.Request) string {
	const prefix = "Bearer "
	if authorization := r.Header.Get("Authorization"); strings.HasPrefix(authorization, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
	}
	return strings.TrimSpace(r.Header.Get("X-Auth-Token"))
}
