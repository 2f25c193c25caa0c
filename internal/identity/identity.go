// Package identity is the boundary to the identity provider: who the current
// principal is, and sign-up, sign-in and sign-out.
package identity

import (
	"context"
	"strings"
	"time"
)

// Principal is an authenticated user identity.
type Principal struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Session is a principal together with its bearer token.
type Session struct {
	Principal Principal `json:"principal"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Provider is implemented by identity providers.
type Provider interface {
	SignUp(ctx context.Context, email, password, displayName string) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context, token string) (Principal, error)
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
