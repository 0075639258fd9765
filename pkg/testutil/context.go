package testutil

import (
	"net/http"
	"time"

	"visitorid/pkg/requestcontext"
)

// WithRequestID attaches a request id the way the request-id middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithRequestTime pins the request clock so created_at and deleted_at are
// predictable.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
