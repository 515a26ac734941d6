package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

// MaxBodySize is the default maximum request body size (1MB). The
// broker's payloads are small JSON objects; nothing in scope needs
// more.
const MaxBodySize = 1 << 20 // 1MB

// BodySizeLimit limits the size of request bodies to prevent memory
// exhaustion from a misbehaving or hostile caller.
func BodySizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// RequestTracing adds a unique request ID header for tracing, reusing
// one supplied by an upstream proxy if present.
func RequestTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		r.Header.Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// generateRequestID creates a short random hex string.
func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
