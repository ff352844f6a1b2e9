package middleware

import (
	"context"
	"net/http"
	"strings"

	"forumkarma/internal/contextutils"
)

// HeaderUserID carries the authenticated user id set by the upstream gateway
const HeaderUserID = "X-User-ID"

// AuthContext is the acting user as asserted by the gateway
type AuthContext struct {
	UserID string `json:"user_id"`
}

type authContextKey struct{}

// GatewayAuth trusts the gateway's user header. Requests without it pass
// through anonymously; handlers decide whether a user is required.
func GatewayAuth(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = HeaderUserID
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(header))
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), authContextKey{}, &AuthContext{UserID: userID})
			ctx = contextutils.WithUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthContext returns the acting user, or nil when anonymous
func GetAuthContext(ctx context.Context) *AuthContext {
	if authCtx, ok := ctx.Value(authContextKey{}).(*AuthContext); ok {
		return authCtx
	}
	return nil
}

// SetAuthContext attaches an acting user; used by tests and internal callers
func SetAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	ctx = context.WithValue(ctx, authContextKey{}, authCtx)
	return contextutils.WithUserID(ctx, authCtx.UserID)
}
