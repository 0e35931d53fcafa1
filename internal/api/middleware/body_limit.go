package middleware

import "net/http"

// DefaultMaxBodyBytes bounds request bodies. The API only accepts small JSON documents.
const DefaultMaxBodyBytes = 64 * 1024

// MaxBodySize returns middleware that limits request bodies of POST, PUT and PATCH requests to max bytes.
func MaxBodySize(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
