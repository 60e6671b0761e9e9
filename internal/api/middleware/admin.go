package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/yasashii-care/caredocs/internal/api/response"
	"github.com/yasashii-care/caredocs/internal/audit"
)

// AdminKeyHeader carries the shared admin secret.
const AdminKeyHeader = "X-Admin-Key"

// AdminKey is middleware that requires the shared admin secret in the
// X-Admin-Key header. Missing or wrong keys return 401.
func AdminKey(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Admin key is required", requestID)
				return
			}

			if secret == "" || subtle.ConstantTimeCompare([]byte(key), []byte(secret)) != 1 {
				slog.Warn("admin key rejected", "requestId", requestID, "clientIp", audit.ClientIP(r), "path", r.URL.Path)
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid admin key", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
