package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/relayhook/relayhook/internal/pkg"
)

// AdminAuth creates middleware that requires a static bearer token on
// admin/read endpoints. JWT validation against user identity is a sibling
// auth service's concern; this only protects the core's own
// admin surface (list/get inbound, undelivered view, reparse, s3-unprocessed).
// An empty token disables the check (useful for local development).
func AdminAuth(token string) func(http.Handler) http.Handler {
	var want [32]byte
	if token != "" {
		want = sha256.Sum256([]byte(token))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			presented := strings.TrimPrefix(authHeader, "Bearer ")
			if presented == authHeader {
				pkg.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			got := sha256.Sum256([]byte(presented))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				pkg.Error(w, http.StatusUnauthorized, "invalid credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
