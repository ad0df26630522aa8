// Package http wires the admin-plane surface: liveness, readiness,
// and health probes plus a JSON-RPC-over-HTTP endpoint for operators
// who aren't speaking the stdio transport cmd/fetchcored exposes.
package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/throttled/throttled/v2"

	"fetchcore/internal/adapters/inbound/http/middleware"
	"fetchcore/internal/adapters/inbound/rpc"
	"fetchcore/internal/config"
	appLogger "fetchcore/pkg/logger"
	"fetchcore/internal/ports"
	"fetchcore/pkg/metrics"
)

// RouterConfig bundles everything the admin router needs to wire its
// middleware chain and handlers.
type RouterConfig struct {
	Config          *config.ServiceConfig
	Logger          appLogger.Logger
	MetricsClient   metrics.Client
	HealthChecker   ports.HealthChecker
	RPCServer       *rpc.Server
	IdempotencyRepo ports.IdempotencyCache
	RateLimitStore  throttled.GCRAStoreCtx
}

// NewRouter builds the chi router for the admin HTTP server: health
// endpoints bypass the heavier middleware (rate limiting, compression,
// idempotency) that the RPC-over-HTTP endpoint needs.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	healthFilter := middleware.NewHealthCheckFilter(cfg.Config.Logging.AccessLog.LogHealthChecks)
	metricsMW := middleware.NewMetricsMiddleware(cfg.MetricsClient)

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestTracking())
	r.Use(healthFilter.Middleware)
	r.Use(middleware.AccessLogger(cfg.Logger, cfg.Config.Logging.AccessLog.IncludeQueryParams))
	r.Use(metricsMW.Middleware)
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(nil))

	r.Get("/v1/liveness", livenessHandler(cfg.HealthChecker))
	r.Get("/v1/readiness", readinessHandler(cfg.HealthChecker))
	r.Get("/v1/health", healthHandler(cfg.HealthChecker))

	r.Group(func(rpcRoutes chi.Router) {
		if cfg.Config.ThrottledRateLimiting.Enabled && cfg.RateLimitStore != nil {
			rpcRoutes.Use(middleware.ThrottledRateLimitingMiddleware(cfg.Config.ThrottledRateLimiting, cfg.RateLimitStore, cfg.Logger))
		}
		if cfg.Config.Compression.Enabled {
			rpcRoutes.Use(middleware.CompressionMiddlewareWithMetrics(cfg.Config.Compression, cfg.Logger, cfg.MetricsClient))
		}
		if cfg.Config.Idempotency.Enabled && cfg.IdempotencyRepo != nil {
			rpcRoutes.Use(middleware.IdempotencyMiddleware(cfg.IdempotencyRepo, cfg.Config.Idempotency, cfg.Logger))
		}

		rpcRoutes.Post("/v1/rpc", rpcHandler(cfg.RPCServer))
	})

	return r
}

func livenessHandler(h ports.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := h.Liveness(r.Context())
		writeHealthJSON(w, report, err)
	}
}

func readinessHandler(h ports.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := h.Readiness(r.Context())
		writeHealthJSON(w, report, err)
	}
}

func healthHandler(h ports.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := h.Health(r.Context())
		writeHealthJSON(w, report, err)
	}
}

func writeHealthJSON(w http.ResponseWriter, report any, err error) {
	w.Header().Set("Content-Type", "application/json")

	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})

		return
	}

	_ = json.NewEncoder(w).Encode(report)
}

// rpcHandler adapts one HTTP POST body to Server.Handle: the same
// JSON-RPC 2.0 envelope the stdio transport in internal/runtime reads,
// just carried over a request/response body instead of a line.
func rpcHandler(srv *rpc.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)

			return
		}

		out := srv.Handle(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	}
}

