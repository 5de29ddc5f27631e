// Package authmw guards HTTP routes with a static bearer token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const challenge = `Bearer realm="downtime-admin"`

// BearerToken returns middleware that admits requests whose Authorization
// header is "Bearer <token>". Tokens are compared in constant time. With an
// empty token the guarded routes are disabled and always answer 403.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				deny(w, http.StatusForbidden, "route disabled")
				return
			}

			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				deny(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", challenge)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
