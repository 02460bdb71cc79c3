package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	contextKeyAdmin contextKey = "admin"
	contextKeySite  contextKey = "site"
)

const adminRealm = `Basic realm="cmoptin admin", charset="UTF-8"`

// credentialChecker verifies basic-auth credentials.
type credentialChecker interface {
	Check(user, password string) bool
}

// AdminAuth requires HTTP basic auth on admin routes and stores the
// authenticated user name in the request context.
func AdminAuth(admin credentialChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !admin.Check(user, pass) {
				w.Header().Set("WWW-Authenticate", adminRealm)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), user)))
		})
	}
}

// AdminFromContext returns the authenticated admin user name.
func AdminFromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKeyAdmin).(string)
	return v
}

// WithAdmin returns a copy of ctx carrying the admin user name.
func WithAdmin(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, contextKeyAdmin, user)
}
