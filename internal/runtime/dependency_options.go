package runtime

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	inboundhttp "fetchcore/internal/adapters/inbound/http"
	"fetchcore/internal/adapters/inbound/grpcadmin"
	"fetchcore/internal/adapters/inbound/rpc"
	"fetchcore/internal/adapters/outbound/httptransport"
	"fetchcore/internal/adapters/repos"
	"fetchcore/internal/config"
	"fetchcore/internal/core"
	"fetchcore/internal/core/admission"
	"fetchcore/internal/core/breaker"
	"fetchcore/internal/core/cache"
	"fetchcore/internal/core/dedup"
	"fetchcore/internal/core/pool"
	"fetchcore/internal/core/ratelimit"
	"fetchcore/internal/core/scheduler"
	"fetchcore/internal/infrastructure"
	"fetchcore/internal/usecases"
	"fetchcore/pkg/logger"
	"fetchcore/pkg/metrics/noop"
)

func defaultOptions(ctx context.Context) []DependencyOption {
	return []DependencyOption{
		WithConfig(),
		WithConfigLoader(),
		WithLogger(),
		WithMetrics(),
		WithTracing(),
		WithPersistentCache(),
		WithEngine(),
		WithHealthChecker(),
		WithRPC(),
		WithAdminHTTPServer(),
		WithAdminGRPCServer(),
	}
}

func WithConfig() DependencyOption {
	return func(d *dependencies) error {
		cfg, err := config.Init()
		if err != nil {
			return fmt.Errorf("initializing configuration: %w", err)
		}

		d.config = cfg

		return nil
	}
}

func WithConfigLoader() DependencyOption {
	return func(d *dependencies) error {
		d.configLoader = config.NewLoader(d.config)

		return nil
	}
}

func WithLogger() DependencyOption {
	return func(d *dependencies) error {
		d.infra.logger = logger.New(d.config.Logging.Level, d.config.Logging.Format)

		return nil
	}
}

func WithMetrics() DependencyOption {
	return func(d *dependencies) error {
		d.infra.metricsClient = noop.NewMetricsClient()

		return nil
	}
}

func WithTracing() DependencyOption {
	return func(d *dependencies) error {
		if !d.config.Telemetry.Enabled || d.config.Telemetry.OTLPEndpoint == "" {
			d.infra.tracerProvider = infrastructure.NewNoopTracerProvider()

			return nil
		}

		tp, shutdown, err := infrastructure.NewTracerProvider(d.config.App, d.config.Telemetry)
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}

		d.infra.tracerProvider = tp
		d.infra.tracerShutdown = shutdown
		d.cleanupFuncs["tracer"] = shutdown

		return nil
	}
}

// WithPersistentCache wires the KeyDB/Redis-backed idempotency store
// and rate-limit store when PersistentCache is enabled. fetch_batch's
// replay guard and the rate-limit store share this one client; the
// ARC's overflow backend, built in WithEngine, opens its own.
func WithPersistentCache() DependencyOption {
	return func(d *dependencies) error {
		if !d.config.PersistentCache.Enabled {
			return nil
		}

		client := infrastructure.NewKeyDBClient(d.config.PersistentCache, d.infra.logger)
		d.infra.cacheClient = client
		d.cleanupFuncs["persistent_cache"] = func(context.Context) error { return client.Close() }

		idemRepo, err := repos.NewIdempotencyRepository(client)
		if err != nil {
			return fmt.Errorf("creating idempotency repository: %w", err)
		}

		d.repos.idempotencyRepo = idemRepo

		if d.config.ThrottledRateLimiting.Enabled {
			store, err := repos.NewRateLimitStore(client)
			if err != nil {
				return fmt.Errorf("creating rate limit store: %w", err)
			}

			d.repos.rateLimitStore = store
		}

		return nil
	}
}

// WithEngine builds the eight-subsystem core.Engine from its
// §4.1-§4.6 configuration sections.
func WithEngine() DependencyOption {
	return func(d *dependencies) error {
		admitter := admission.New(securityPolicy(d.config.Security), nil)

		var backend cache.Backend
		if d.config.PersistentCache.Enabled {
			store := cache.NewPersistentStore(d.config.PersistentCache, d.infra.logger)
			d.repos.persistentStore = store
			backend = store
		}

		arc := cache.New(int(d.config.Cache.MaxMemorySize), d.config.Cache.DefaultTTL, backend)

		sched := scheduler.New(scheduler.Config{
			MaxConcurrentRequests: d.config.Scheduler.MaxConcurrentRequests,
			MaxQueueLength:        d.config.Scheduler.MaxQueueLength,
			DefaultCost:           1,
		})

		limiter := ratelimit.New(ratelimit.Config{
			GlobalRate:         d.config.RateLimit.GlobalRate,
			GlobalBurst:        d.config.RateLimit.GlobalBurst,
			HostRate0:          d.config.RateLimit.PerHostRate,
			HostBurst:          d.config.RateLimit.PerHostBurst,
			HostRateMin:        d.config.RateLimit.PerHostRateMin,
			HostRateMax:        d.config.RateLimit.PerHostRateMax,
			AdaptationInterval: d.config.RateLimit.AdaptationInterval,
			ErrorLow:           d.config.RateLimit.ErrorLow,
			ErrorHigh:          d.config.RateLimit.ErrorHigh,
			UpFactor:           d.config.RateLimit.UpFactor,
			DownFactor:         d.config.RateLimit.DownFactor,
		})

		breakers := breaker.NewRegistry(breaker.Config{
			MinRequestThreshold: d.config.Breaker.MinRequestThreshold,
			ErrorRateThreshold:  d.config.Breaker.ErrorRateThreshold,
			FailureThreshold:    d.config.Breaker.FailureThreshold,
			Timeout:             d.config.Breaker.Timeout,
			MaxTimeout:          d.config.Breaker.MaxTimeout,
			HalfOpenMaxCalls:    d.config.Breaker.HalfOpenMaxCalls,
			SuccessThreshold:    d.config.Breaker.SuccessThreshold,
			SmoothingFactor:     d.config.Breaker.SmoothingFactor,
			IsFailure:           breaker.DefaultIsFailure,
		})

		connPool := pool.New(pool.Config{
			MaxIdlePerHost:        d.config.Pool.MaxIdlePerHost,
			MaxConnectionsPerHost: d.config.Pool.MaxConnectionsPerHost,
			MinConnectionsPerHost: d.config.Pool.MinConnectionsPerHost,
			IdleTimeout:           d.config.Pool.IdleTimeout,
			ReapInterval:          d.config.Pool.ReapInterval,
			ConnectTimeout:        d.config.Timeouts.ConnectTimeout,
			TLSMinVersion:         tlsVersion(d.config.TLS.MinVersion, tls.VersionTLS12),
			TLSMaxVersion:         tlsVersion(d.config.TLS.MaxVersion, tls.VersionTLS13),
			LatencyWindow:         64,
		})

		transport := httptransport.New()
		transport.MaxBodySize = d.config.Security.MaxBodySize

		d.services.engine = core.New(admitter, arc, dedup.New(), sched, limiter, breakers, connPool, transport)
		d.cleanupFuncs["scheduler"] = func(context.Context) error { sched.Stop(); return nil }
		d.cleanupFuncs["pool"] = func(context.Context) error { connPool.Stop(); return nil }

		return nil
	}
}

func WithHealthChecker() DependencyOption {
	return func(d *dependencies) error {
		var persistentCheck, idempotencyCheck interface {
			IsHealthy(ctx context.Context) bool
		}

		if d.repos.persistentStore != nil {
			persistentCheck = d.repos.persistentStore
		}

		if d.repos.idempotencyRepo != nil {
			idempotencyCheck = d.repos.idempotencyRepo
		}

		d.services.healthChecker = usecases.NewHealthService(
			d.services.engine,
			persistentCheck,
			idempotencyCheck,
			d.config.App,
			d.config.Scheduler.MaxQueueLength/2,
		)

		return nil
	}
}

func WithRPC() DependencyOption {
	return func(d *dependencies) error {
		cfgResource := func() (any, error) { return d.config, nil }

		d.apps.rpcDispatcher = rpc.New(d.services.engine, d.services.healthChecker, d.repos.idempotencyRepo, cfgResource)
		d.apps.rpcServer = rpc.NewServer(d.apps.rpcDispatcher)

		return nil
	}
}

func WithAdminHTTPServer() DependencyOption {
	return func(d *dependencies) error {
		if !d.config.AdminHTTPServer.Enabled {
			return nil
		}

		router := inboundhttp.NewRouter(inboundhttp.RouterConfig{
			Config:          d.config,
			Logger:          d.infra.logger,
			MetricsClient:   d.infra.metricsClient,
			HealthChecker:   d.services.healthChecker,
			RPCServer:       d.apps.rpcServer,
			IdempotencyRepo: d.repos.idempotencyRepo,
			RateLimitStore:  d.repos.rateLimitStore,
		})

		d.infra.adminHTTPServer = &http.Server{
			Handler:      router,
			ReadTimeout:  d.config.AdminHTTPServer.ReadTimeout,
			WriteTimeout: d.config.AdminHTTPServer.WriteTimeout,
			IdleTimeout:  d.config.AdminHTTPServer.IdleTimeout,
		}

		return nil
	}
}

func WithAdminGRPCServer() DependencyOption {
	return func(d *dependencies) error {
		if !d.config.AdminGRPCServer.Enabled {
			return nil
		}

		d.infra.adminGRPCServer = grpcadmin.NewServer(d.services.healthChecker)

		return nil
	}
}

func securityPolicy(cfg config.Security) admission.Policy {
	schemes := make(map[string]bool, len(cfg.AllowedSchemes))
	for _, s := range cfg.AllowedSchemes {
		schemes[s] = true
	}

	blocked := make(map[string]bool, len(cfg.BlockedHosts))
	for _, h := range cfg.BlockedHosts {
		blocked[h] = true
	}

	allowed := make(map[string]bool, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		allowed[h] = true
	}

	return admission.Policy{
		AllowedSchemes:  schemes,
		BlockedHosts:    blocked,
		AllowedHosts:    allowed,
		AllowPrivateIPs: cfg.AllowPrivateIPs,
		MaxURLLength:    cfg.MaxURLLength,
		MaxBodySize:     cfg.MaxBodySize,
	}
}

func tlsVersion(s string, fallback uint16) uint16 {
	switch s {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		return fallback
	}
}
