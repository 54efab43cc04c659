package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// quietPaths are polled by infrastructure and logged at debug level.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
	"/ready":   true,
	"/live":    true,
}

// RequestLogger logs HTTP requests with structured logging.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := GetRequestStartTime(r.Context())
			if start.IsZero() {
				start = time.Now()
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			log := logger.Info
			if quietPaths[r.URL.Path] {
				log = logger.Debug
			}
			log("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("correlation_id", GetCorrelationID(r.Context())),
			)
		})
	}
}
