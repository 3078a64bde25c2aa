package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// CronAuthMiddleware guards scheduler-invoked endpoints with a shared
// bearer secret. These routes are not user-facing.
func CronAuthMiddleware(cronSecret string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if cronSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cronSecret)) != 1 {
				logger.Warn().Str("path", r.URL.Path).Msg("Rejected cron request with bad secret")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
