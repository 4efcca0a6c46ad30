package middleware

import (
	"context"
	"net/http"
	"strings"
)

type accountContextKey struct{}

// Account extracts the caller's account id from the X-Account-ID header.
// Credential verification happens upstream (gateway); this service only
// needs the id for quota accounting and ownership checks.
func Account(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := strings.TrimSpace(r.Header.Get("X-Account-ID"))
		ctx := context.WithValue(r.Context(), accountContextKey{}, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccountFromContext returns the account id set by Account, or "".
func AccountFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(accountContextKey{}).(string); ok {
		return v
	}
	return ""
}
