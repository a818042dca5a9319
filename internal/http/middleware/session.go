package middleware

import (
	"context"
	"net/http"

	"github.com/taxdesk/identityctx/internal/httputil"
)

// TokenChecker reports whether a usable access token is held.
type TokenChecker interface {
	IsTokenExpired(ctx context.Context) bool
}

// RequireSession creates middleware that rejects requests when no valid
// access token is held. This service is an API client, not a token
// issuer, so presence and non-expiry of the stored token is the whole
// check; signature verification is upstream's job.
func RequireSession(creds TokenChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if creds.IsTokenExpired(r.Context()) {
				httputil.Error(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
