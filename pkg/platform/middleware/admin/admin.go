package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "visitorid/pkg/domain-errors"
	"visitorid/pkg/platform/httputil"
	request "visitorid/pkg/platform/middleware/request"
)

const (
	HeaderAdminToken = "X-Admin-Token"
	QueryAccessToken = "access_token"
)

// RequireAdminToken accepts the token from the X-Admin-Token header or the
// access_token query parameter. An empty expected token rejects everything.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderAdminToken)
			if token == "" {
				token = r.URL.Query().Get(QueryAccessToken)
			}
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", request.GetRequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "permission denied"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
