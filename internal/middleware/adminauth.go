package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/hibiki-broker/cookiebroker/internal/api"
)

// AdminAuth gates a handler behind the single shared admin key,
// compared in constant time. There is exactly one authenticated actor
// in this system — the operator holding the admin key — so this
// replaces the teacher's user/session/role lookup entirely.
//
// getKey is called per-request rather than captured once so the key
// can be rotated (regenerated on disk) without restarting the process.
func AdminAuth(getKey func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.Header.Get("X-Admin-Key")
			want := getKey()
			if want == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(want)) != 1 {
				api.Unauthorized(w, "missing or invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
