package handlers

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// AdminKeyHeader carries the administrator key.
const AdminKeyHeader = "X-Admin-Key"

// AdminKeyAuth verifies administrator keys against bcrypt hashes.
type AdminKeyAuth struct {
	hashes [][]byte
}

// NewAdminKeyAuth creates an authenticator from bcrypt hashes. Empty entries are ignored.
func NewAdminKeyAuth(hashes []string) *AdminKeyAuth {
	a := &AdminKeyAuth{}
	for _, h := range hashes {
		if h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	return a
}

// Verify reports whether key matches one of the configured hashes.
func (a *AdminKeyAuth) Verify(key string) bool {
	if a == nil || key == "" {
		return false
	}
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// Middleware rejects requests without an accepted admin key: a missing key
// is Unauthorized, a wrong one Forbidden.
func (a *AdminKeyAuth) Middleware(respond ErrorResponder) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				respond(w, r, shared.NewDomainError("admin", "Authenticate", shared.ErrUnauthorized, "admin key required"))
				return
			}
			if !a.Verify(key) {
				respond(w, r, shared.ErrAdminRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
