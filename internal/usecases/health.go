// Package usecases wires the core engine into the services the inbound
// adapters call directly: the health probes. The JSON-RPC tool and
// resource handlers live in internal/adapters/inbound/rpc.
package usecases

import (
	"context"
	"runtime"
	"time"

	"fetchcore/internal/config"
	"fetchcore/internal/core"
	"fetchcore/internal/domain/model"
	"fetchcore/internal/ports"
)

var _ ports.HealthChecker = (*HealthService)(nil)

// dependencyChecker is satisfied by both *cache.PersistentStore and any
// ports.IdempotencyCache implementation without importing either
// package directly: a health check only needs to know whether a
// backend answers, not what it's for.
type dependencyChecker interface {
	IsHealthy(ctx context.Context) bool
}

// HealthService answers liveness/readiness/health probes from the
// engine's own subsystems rather than a synthetic dependency list. A
// fetch proxy's real external dependencies are the stores it talks to
// over the wire: the ARC's overflow backend and the idempotency cache.
type HealthService struct {
	engine     *core.Engine
	persistent dependencyChecker // nil if the cache runs memory-only
	idempotent dependencyChecker // nil if idempotency replay is disabled

	appCfg    config.App
	startedAt time.Time

	// queueWarnDepth is the intake queue depth above which readiness
	// reports the scheduler as degraded rather than up.
	queueWarnDepth int64
	depTimeout     time.Duration
}

// NewHealthService wires a health service against the running engine.
// persistent and idempotent may be nil when the corresponding backend
// isn't configured; a nil checker is reported "up" since there's
// nothing to fail.
func NewHealthService(
	engine *core.Engine,
	persistent, idempotent dependencyChecker,
	appCfg config.App,
	queueWarnDepth int64,
) *HealthService {
	return &HealthService{
		engine:         engine,
		persistent:     persistent,
		idempotent:     idempotent,
		appCfg:         appCfg,
		startedAt:      time.Now(),
		queueWarnDepth: queueWarnDepth,
		depTimeout:     3 * time.Second,
	}
}

// Liveness reports whether the process itself is able to serve traffic
// at all. It never touches a dependency: a struggling Redis instance
// should surface as a readiness failure, not a liveness one, or an
// orchestrator would restart a process that isn't actually stuck.
func (h *HealthService) Liveness(ctx context.Context) (*model.LivenessReport, error) {
	return &model.LivenessReport{
		Status:    model.HealthStatusOK,
		Timestamp: time.Now(),
		Version:   h.appCfg.APIVersion,
	}, nil
}

// Readiness reports whether the engine can accept new work: are its
// backing stores reachable, and is the intake queue backed up.
func (h *HealthService) Readiness(ctx context.Context) (*model.ReadinessReport, error) {
	checks := h.runChecks(ctx)

	return &model.ReadinessReport{
		Status:    aggregateStatus(checks),
		Timestamp: time.Now(),
		Version:   h.appCfg.APIVersion,
		Checks:    checks,
	}, nil
}

// Health reports the full operational picture: readiness's dependency
// checks plus process version, uptime, and resource usage.
func (h *HealthService) Health(ctx context.Context) (*model.HealthReport, error) {
	checks := h.runChecks(ctx)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(h.startedAt)

	return &model.HealthReport{
		Status:    aggregateStatus(checks),
		Timestamp: time.Now(),
		Version: model.VersionInfo{
			API:   h.appCfg.APIVersion,
			Build: buildVersion(),
			Go:    runtime.Version(),
		},
		Uptime: model.UptimeInfo{
			StartedAt:       h.startedAt,
			Duration:        uptime.String(),
			DurationSeconds: uint64(uptime.Seconds()),
		},
		Checks: checks,
		System: model.SystemInfo{
			Memory: model.MemoryInfo{
				AllocMB:      toMB(mem.Alloc),
				TotalAllocMB: toMB(mem.TotalAlloc),
				SysMB:        toMB(mem.Sys),
				GCCycles:     mem.NumGC,
			},
			Goroutines: uint(runtime.NumGoroutine()),
			CPUCores:   uint(runtime.NumCPU()),
		},
	}, nil
}

func (h *HealthService) runChecks(ctx context.Context) map[string]model.DependencyCheck {
	checks := make(map[string]model.DependencyCheck, 3)

	checks["persistent_cache"] = h.checkDependency(ctx, h.persistent)
	checks["idempotency_store"] = h.checkDependency(ctx, h.idempotent)
	checks["scheduler"] = h.checkScheduler()

	return checks
}

func (h *HealthService) checkDependency(ctx context.Context, dep dependencyChecker) model.DependencyCheck {
	now := time.Now()

	if dep == nil {
		return model.DependencyCheck{
			Status:      model.DependencyStatusUp,
			LastChecked: now,
			Message:     "not configured",
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.depTimeout)
	defer cancel()

	start := time.Now()
	healthy := dep.IsHealthy(checkCtx)
	latency := time.Since(start)

	if !healthy {
		return model.DependencyCheck{
			Status:      model.DependencyStatusDown,
			LatencyMs:   uint64(latency.Milliseconds()),
			LastChecked: now,
			Error:       "health probe failed",
		}
	}

	return model.DependencyCheck{
		Status:      model.DependencyStatusUp,
		LatencyMs:   uint64(latency.Milliseconds()),
		LastChecked: now,
	}
}

func (h *HealthService) checkScheduler() model.DependencyCheck {
	stats := h.engine.Scheduler().Stats()
	now := time.Now()

	if stats.QueueDepth >= h.queueWarnDepth {
		return model.DependencyCheck{
			Status:      model.DependencyStatusDegraded,
			LastChecked: now,
			Message:     "intake queue backed up",
		}
	}

	return model.DependencyCheck{
		Status:      model.DependencyStatusUp,
		LastChecked: now,
	}
}

func aggregateStatus(checks map[string]model.DependencyCheck) model.HealthStatus {
	status := model.HealthStatusOK

	for _, c := range checks {
		switch c.Status {
		case model.DependencyStatusDown:
			return model.HealthStatusDown
		case model.DependencyStatusDegraded, model.DependencyStatusUnknown:
			status = model.HealthStatusDegraded
		}
	}

	return status
}

func toMB(bytes uint64) float64 {
	return float64(bytes) / (1024 * 1024)
}

// buildVersion returns the ldflags-injected commit SHA, or "dev" when
// running an unreleased build.
func buildVersion() string {
	if config.CommitSHA == "" {
		return "dev"
	}

	return config.CommitSHA
}
