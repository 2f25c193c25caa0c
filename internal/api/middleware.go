// Package api implements the duet REST API using chi.
package api

import (
	"net/http"
	"strings"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/identity"
)

// bearerToken extracts the token from "Authorization: Bearer <token>". Event
// streams may pass it as the access_token query parameter instead, since
// browsers cannot set headers on EventSource requests.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if r.URL.Path == "/events" || strings.HasSuffix(r.URL.Path, "/events") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// AuthMiddleware resolves the bearer token to a principal and stores it in the
// request context. Requests without a valid token get 401. onAuth, if non-nil,
// runs for every authenticated request.
func AuthMiddleware(provider identity.Provider, onAuth func(identity.Principal)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody(apperr.ErrUnauthenticated))
				return
			}
			p, err := provider.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, r, "authenticate", err)
				return
			}
			if onAuth != nil {
				onAuth(p)
			}
			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
		})
	}
}

func principal(r *http.Request) identity.Principal {
	p, _ := identity.FromContext(r.Context())
	return p
}
