package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go-identity-service/pkg/apierror"
)

// UpstreamSecretHeader carries the secret shared with the identity provider
// gateway that asserts external logins.
const UpstreamSecretHeader = "X-Upstream-Secret"

// RequireUpstreamSecret admits only callers presenting secret. An empty
// secret disables the route entirely.
func RequireUpstreamSecret(secret string) func(http.Handler) http.Handler {
	expected := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				writeError(w, apierror.NotFound("resource not found", ""))
				return
			}

			presented := []byte(strings.TrimSpace(r.Header.Get(UpstreamSecretHeader)))
			if len(presented) == 0 {
				writeError(w, apierror.Unauthorized("missing upstream credential"))
				return
			}
			if subtle.ConstantTimeCompare(presented, expected) != 1 {
				writeError(w, apierror.Unauthorized("invalid upstream credential"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
