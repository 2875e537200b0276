// Package auth verifies shopper bearer tokens and exposes the resulting Identity.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wearwise/checkout/internal/platform/httpx"
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Verifier turns a raw bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (*Identity, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, token string) (*Identity, error) {
	return f(ctx, token)
}

// RequireAuth rejects requests without a verifiable bearer token. Roles, when given,
// restrict access to identities holding at least one of them.
func RequireAuth(verifier Verifier, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
				return
			}
			identity, err := verifier.Verify(ctx, token)
			if err != nil {
				code, msg := "invalid_token", "bearer token invalid"
				if errors.Is(err, ErrTokenExpired) {
					code, msg = "token_expired", "bearer token expired"
				}
				httpx.WriteError(ctx, w, httpx.NewError(code, msg, http.StatusUnauthorized))
				return
			}
			if len(allowed) > 0 && !hasAllowedRole(identity, allowed) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// LocalIdentity attaches an identity taken from header, or fallbackUID, without any
// verification. Only wired when auth is disabled in the local environment.
func LocalIdentity(header, fallbackUID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSpace(r.Header.Get(header))
			if uid == "" {
				uid = fallbackUID
			}
			identity := &Identity{UID: uid, Roles: []string{RoleUser}}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func hasAllowedRole(identity *Identity, allowed map[string]struct{}) bool {
	for _, role := range identity.Roles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
