package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
	"github.com/zhouzirui/eray/backend/pkg/utils"
)

type scopeKey struct{}

// AdminTokenHeader carries the admin token for non-browser clients.
const AdminTokenHeader = "X-Admin-Token"

// Scope marks requests presenting the admin token as admin scope; all
// others are public. Websocket clients may pass the token as the
// admin_token query parameter.
func Scope(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := chat.ScopePublic
			if adminToken != "" && tokenMatches(requestToken(r), adminToken) {
				scope = chat.ScopeAdmin
			}
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}

// RequireAdmin rejects requests outside the admin scope.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ScopeFrom(r.Context()).IsAdmin() {
			utils.RespondError(w, http.StatusForbidden, "admin scope required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithScope stores the scope in a context.
func WithScope(ctx context.Context, scope chat.Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom returns the request scope, public when unset.
func ScopeFrom(ctx context.Context) chat.Scope {
	if scope, ok := ctx.Value(scopeKey{}).(chat.Scope); ok {
		return scope
	}
	return chat.ScopePublic
}

func requestToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(AdminTokenHeader)); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("admin_token"))
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
