// Package auth provides optional bearer-token authentication for the
// calcmcp network transports.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/localrivet/calcmcp/types"
)

// Principal describes the authenticated caller of a request.
type Principal interface {
	// Subject returns the authenticated subject ('sub' claim for JWTs).
	Subject() string
	// Claims returns the raw claims for validators that carry them.
	Claims() interface{}
}

// TokenValidator validates a bearer token string and returns the Principal it
// represents.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (Principal, error)
}

type principalKey struct{}

// ContextWithPrincipal returns a context carrying the authenticated principal.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Middleware wraps an http.Handler, requiring a valid Authorization bearer
// token on every request. A nil validator disables authentication.
func Middleware(validator TokenValidator, logger types.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				logger.Warn("auth: missing bearer token from %s", r.RemoteAddr)
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			principal, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				logger.Warn("auth: token rejected from %s: %v", r.RemoteAddr, err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
