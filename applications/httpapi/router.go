package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/selun-engine/infrastructure/metrics"
	"github.com/r3e-network/selun-engine/infrastructure/middleware"
	"github.com/r3e-network/selun-engine/pkg/version"
)

// route describes a single endpoint with an optional method guard.
type route struct {
	pattern string
	method  string
	handler http.HandlerFunc
}

// mountRoutes attaches the provided routes to the mux, wrapping handlers with
// method enforcement when a method is specified.
func mountRoutes(mux *http.ServeMux, m *metrics.Metrics, routes ...route) {
	for _, rt := range routes {
		if rt.pattern == "" || rt.handler == nil {
			continue
		}
		handler := rt.handler
		if rt.method != "" {
			handler = withMethod(rt.method, handler)
		}
		mux.HandleFunc(rt.pattern, withMetrics(m, rt.pattern, handler))
	}
}

// NewRouter builds the public HTTP surface over the given service
// dependencies.
func NewRouter(deps *Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mountRoutes(mux, deps.Metrics,
		route{pattern: "/api/agent", method: http.MethodPost, handler: deps.handleAgentChat()},
		route{pattern: "/api/agent/pay", method: http.MethodPost, handler: deps.handleAgentPay()},
		route{pattern: "/api/report/download", method: http.MethodPost, handler: deps.handleReportDownload()},
		route{pattern: "/api/status/job", method: http.MethodGet, handler: deps.handleStatusByJobID()},
		route{pattern: "/api/status/wallet", method: http.MethodGet, handler: deps.handleStatusByWallet()},
	)
	mux.Handle("/metrics", promhttp.Handler())

	health := middleware.NewHealthChecker(version.Version)
	if deps.Wallet != nil {
		health.RegisterCheck("chain_rpc", deps.Wallet.Ping)
	}
	mux.Handle("/healthz", health.Handler())

	return mux
}
