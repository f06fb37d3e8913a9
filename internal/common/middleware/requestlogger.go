// Package middleware provides HTTP middleware shared by the conda-store
// server: request id assignment, request logging, and panic recovery.
package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/common/uuid"
)

// RequestIDHeader is the response header carrying the request id.
const RequestIDHeader = "X-CondaStore-Request-ID"

// RequestLogger assigns each request a UUIDv7 request id, attaches a scoped
// zerolog logger to the request context, and logs completion with status and
// latency.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		logger := log.With().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ctx := logger.WithContext(r.Context())

		rw := httpx.NewResponseWriter(w)
		rw.Header().Set(RequestIDHeader, reqID)

		start := time.Now()
		next.ServeHTTP(rw, r.WithContext(ctx))

		logger.Info().
			Int("status", rw.StatusCode()).
			Dur("latency", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request completed")
	})
}
