package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"go-identity-service/internal/model"
	"go-identity-service/pkg/apierror"
)

// AuthCookieName is the cookie login sets alongside the JSON token.
const AuthCookieName = "accessToken"

type authenticator interface {
	Authenticate(token string) (*model.AuthClaims, error)
}

type contextKey string

const authClaimsContextKey contextKey = "auth_claims"

type AuthMiddleware struct {
	auth authenticator
}

func NewAuthMiddleware(auth authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// RequireAuth accepts a bearer Authorization header or, failing that, the
// access token cookie.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apierror.Unauthorized("missing bearer token"))
			return
		}

		claims, err := m.auth.Authenticate(token)
		if err != nil {
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

func (m *AuthMiddleware) RequireRoles(allowed ...model.Role) func(http.Handler) http.Handler {
	return m.requireAccess("", allowed)
}

// RequireSelfOrRoles lets the account named by the URL parameter param
// through, as well as any of the allowed roles.
func (m *AuthMiddleware) RequireSelfOrRoles(param string, allowed ...model.Role) func(http.Handler) http.Handler {
	return m.requireAccess(param, allowed)
}

func (m *AuthMiddleware) requireAccess(selfParam string, allowed []model.Role) func(http.Handler) http.Handler {
	roleSet := map[model.Role]struct{}{}
	for _, role := range allowed {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, apierror.Unauthorized("authentication required"))
				return
			}

			if selfParam != "" && chi.URLParam(r, selfParam) == claims.UserID {
				next.ServeHTTP(w, r)
				return
			}

			if _, exists := roleSet[claims.User.Role]; !exists {
				writeError(w, apierror.Forbidden("insufficient permissions"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}

	if cookie, err := r.Cookie(AuthCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func ContextWithClaims(ctx context.Context, claims *model.AuthClaims) context.Context {
	return context.WithValue(ctx, authClaimsContextKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*model.AuthClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*model.AuthClaims)
	return claims, ok && claims != nil
}
