package runtime

import (
	"context"
	"fmt"
	"net/http"

	grpcsrv "google.golang.org/grpc"

	"fetchcore/internal/adapters/inbound/rpc"
	"fetchcore/internal/config"
	"fetchcore/internal/core"
	"fetchcore/internal/core/cache"
	"fetchcore/internal/infrastructure"
	"fetchcore/internal/ports"
	"fetchcore/pkg/logger"
	"fetchcore/pkg/metrics"
	"github.com/throttled/throttled/v2"
	otelTrace "go.opentelemetry.io/otel/trace"
)

type (
	infrastructureDep struct {
		adminHTTPServer *http.Server
		adminGRPCServer *grpcsrv.Server
		cacheClient     *infrastructure.KeydbClient
		logger          logger.Logger
		metricsClient   metrics.Client
		tracerProvider  otelTrace.TracerProvider
		tracerShutdown  func(context.Context) error
	}

	repositories struct {
		idempotencyRepo ports.IdempotencyCache
		rateLimitStore  throttled.GCRAStoreCtx
		persistentStore *cache.PersistentStore
	}

	servicesDep struct {
		engine        *core.Engine
		healthChecker ports.HealthChecker
	}

	applications struct {
		rpcDispatcher *rpc.Dispatcher
		rpcServer     *rpc.Server
	}

	dependencies struct {
		config       *config.ServiceConfig
		configLoader *config.Loader

		infra infrastructureDep

		repos repositories

		services servicesDep

		apps applications

		cleanupFuncs map[string]func(ctx context.Context) error
	}

	DependencyOption func(*dependencies) error
)

func initializeDependencies(ctx context.Context, opts ...DependencyOption) (*dependencies, error) {
	deps := &dependencies{
		cleanupFuncs: make(map[string]func(ctx context.Context) error),
	}

	allOpts := append(defaultOptions(ctx), opts...)

	for _, opt := range allOpts {
		if err := opt(deps); err != nil {
			return nil, fmt.Errorf("failed to apply dependency option: %w", err)
		}
	}

	return deps, nil
}
