package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/metrics"
)

// statusRecorder captures the status code written through it so it can be
// reported after the handler returns.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withMetrics wraps handler with request counters and latency observations.
// pattern is the registered route pattern rather than the raw request path,
// since the stdlib mux already knows it at registration time.
func withMetrics(m *metrics.Metrics, pattern string, handler http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return handler
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.IncrementInFlight()
		defer m.DecrementInFlight()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)

		m.RecordHTTPRequest("selun-engine", r.Method, pattern, strconv.Itoa(rec.status), time.Since(start))
	}
}
