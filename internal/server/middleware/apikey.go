package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// OperatorAuth returns middleware that guards operator endpoints with a
// static API key carried in the X-API-Key header. If apiKey is empty the
// middleware rejects every request: operator routes never run unguarded.
func OperatorAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				writeAuthError(w, "operator access disabled")
				return
			}

			key := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if key == "" {
				writeAuthError(w, "missing api key")
				return
			}

			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				writeAuthError(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
