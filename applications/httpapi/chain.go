package httpapi

import (
	"net/http"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/logging"
	"github.com/r3e-network/selun-engine/infrastructure/middleware"
)

// WithDefaultMiddleware wraps handler with the ambient request-safety stack:
// trace-ID request logging, panic recovery, a body-size cap, a request
// timeout, per-client rate limiting, and baseline security and CORS headers.
// Order matters - recovery sits outermost so it can catch panics from every
// layer beneath it.
func WithDefaultMiddleware(handler http.Handler, log *logging.Logger) http.Handler {
	recovery := middleware.NewRecoveryMiddleware(log)
	timeout := middleware.NewTimeoutMiddleware(0)
	bodyLimit := middleware.NewBodyLimitMiddleware(0)
	security := middleware.NewSecurityHeadersMiddleware(nil)
	limiter := middleware.NewRateLimiterFromConfig(middleware.DefaultRateLimiterConfig(log))
	cors := middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	wrapped := handler
	wrapped = cors.Handler(wrapped)
	wrapped = security.Handler(wrapped)
	wrapped = limiter.Handler(wrapped)
	wrapped = bodyLimit.Handler(wrapped)
	wrapped = timeout.Handler(wrapped)
	wrapped = withRequestLogging(log, wrapped)
	wrapped = recovery.Handler(wrapped)
	return wrapped
}

// withRequestLogging is a stdlib-native counterpart to
// middleware.LoggingMiddleware, which is typed against gorilla/mux. It
// carries the same trace-ID propagation and request-completion log line.
func withRequestLogging(log *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		ctx := logging.WithTraceID(r.Context(), traceID)
		r = r.WithContext(ctx)
		r.Header.Set("X-Trace-ID", traceID)
		w.Header().Set("X-Trace-ID", traceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.LogRequest(ctx, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
