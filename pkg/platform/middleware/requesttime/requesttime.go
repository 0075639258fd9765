// Package requesttime pins a single "now" per request so the identity created
// and the audit event describing it share a timestamp.
package requesttime

import (
	"net/http"
	"time"

	"visitorid/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
