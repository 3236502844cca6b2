// Package middleware contains HTTP middleware functions.
//
// A middleware here has the chi signature func(http.Handler) http.Handler:
// it receives the next handler in the chain and returns a handler that runs
// its own code around the call to next.ServeHTTP. The router applies them in
// the order they are registered, so the outermost one sees every request
// first and every response last.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// responseWriter wraps http.ResponseWriter to capture the status code and
// the number of bytes written.
//
// http.ResponseWriter has no getter for the status once WriteHeader has
// been called, so the wrapper records it on the way through. Every other
// method is promoted from the embedded writer unchanged.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

// WriteHeader records the status before passing it on.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write counts the bytes the underlying writer accepted. An implicit 200
// from the first Write is covered by the default set in Logger.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logger returns an HTTP middleware that logs each completed request.
//
// One line is written after the handler returns, carrying the request ID
// set by chi's RequestID middleware, the method, path, status, duration and
// bytes written. The level follows the status: 5xx logs at Error, 4xx at
// Warn, everything else at Info. A rejected submission such as an unknown
// language stays visible without paging on it.
//
// Request bodies are never logged. They carry user source code.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap the writer so the status and size are known afterwards
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // if WriteHeader is never called
			}

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			)
		})
	}
}
