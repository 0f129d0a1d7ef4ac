package middleware

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/pressfolio/backend/internal/store"
)

// RequestTracker stores request metrics in the database.
type RequestTracker struct {
	store *store.Store
}

// NewRequestTracker creates a new request tracker middleware.
func NewRequestTracker(db *sql.DB) (*RequestTracker, error) {
	s, err := store.New(db)
	if err != nil {
		return nil, err
	}
	return &RequestTracker{store: s}, nil
}

// Middleware returns an HTTP middleware that records method, path, status,
// latency, and response size for every request. The insert runs in a
// goroutine so tracking never blocks the response.
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			responseTimeMs := int(time.Since(start).Milliseconds())

			go func() {
				err := rt.store.CreateRequest(
					context.Background(),
					r.Method,
					r.URL.Path,
					rw.statusCode,
					responseTimeMs,
					rw.size,
				)
				if err != nil {
					log.Printf("[middleware] failed to track request: %v", err)
				}
			}()
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}
