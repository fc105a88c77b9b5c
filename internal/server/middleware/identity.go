// Package middleware holds the HTTP middleware chain: request ids, identity,
// operator auth, and request logging.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const participantKey contextKey = "participant"

// Participant returns the authenticated participant id from the request
// context, or false when the request carried no identity.
func Participant(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(participantKey).(string)
	return p, ok && p != ""
}

// WithParticipant stores a participant id on the context. Exposed for tests.
func WithParticipant(ctx context.Context, participant string) context.Context {
	return context.WithValue(ctx, participantKey, participant)
}

// Identity returns middleware that resolves the calling participant. With a
// signing secret configured it requires an HS256 JWT in the Authorization
// header and uses the token subject as the participant id. With no secret it
// trusts the X-Participant header, which is only acceptable behind a gateway
// that sets it.
//
// Requests without an identity still pass through; handlers that need a
// participant reject them.
func Identity(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				if p := strings.TrimSpace(r.Header.Get("X-Participant")); p != "" {
					r = r.WithContext(WithParticipant(r.Context(), p))
				}
				next.ServeHTTP(w, r)
				return
			}

			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := verifyToken(raw, secret)
			if err != nil {
				writeAuthError(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), subject)))
		})
	}
}

// verifyToken parses and validates an HS256 JWT and returns its subject.
func verifyToken(raw, secret string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("middleware: parse token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("middleware: token subject: %w", err)
	}
	return subject, nil
}

// bearerToken extracts the Bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// writeAuthError sends a 401 response with a JSON error body.
func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"kind":"unauthorized","error":"` + msg + `"}`))
}
