// Package ratelimit implements the two-layer token bucket from §4.3: a
// global bucket plus per-host buckets whose refill rate adapts every
// adaptation interval based on observed success/error rates.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fetchcore/internal/domain/model"
)

// Config mirrors the rate_limit.* option table.
type Config struct {
	GlobalRate         float64
	GlobalBurst        int
	HostRate0          float64
	HostBurst          int
	HostRateMin        float64
	HostRateMax        float64
	AdaptationInterval time.Duration
	ErrorLow           float64
	ErrorHigh          float64
	UpFactor           float64
	DownFactor         float64
}

func DefaultConfig() Config {
	return Config{
		GlobalRate:         1000,
		GlobalBurst:        1000,
		HostRate0:          10,
		HostBurst:          10,
		HostRateMin:        1,
		HostRateMax:        200,
		AdaptationInterval: 30 * time.Second,
		ErrorLow:           0.01,
		ErrorHigh:          0.05,
		UpFactor:           1.1,
		DownFactor:         0.9,
	}
}

// Scope identifies which bucket refused a token.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeHost   Scope = "host"
)

// LimitedError wraps model.ErrLimited with the scope that refused.
type LimitedError struct {
	Scope Scope
}

func (e *LimitedError) Error() string { return "rate limited: " + string(e.Scope) }
func (e *LimitedError) Is(target error) bool { return target == model.ErrLimited }

type hostBucket struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	successes int64
	errors    int64
	lastAdapt time.Time
}

// Limiter is the shared global+per-host limiter. It is safe for
// concurrent use: the fast path (Allow) only touches rate.Limiter's
// own lock-free-ish internal mutex; adaptation takes a short per-host
// lock, never a global one.
type Limiter struct {
	cfg Config

	global *rate.Limiter

	mu    sync.RWMutex
	hosts map[model.HostKey]*hostBucket
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:    cfg,
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		hosts:  make(map[model.HostKey]*hostBucket),
	}
}

// Allow consumes one token from both the global and the host's bucket.
// The global bucket is checked first; if it refuses, the host bucket
// is never touched (it is cheaper to fail fast).
func (l *Limiter) Allow(host model.HostKey) error {
	if !l.global.Allow() {
		return &LimitedError{Scope: ScopeGlobal}
	}

	b := l.bucketFor(host)
	if !b.limiter.Allow() {
		return &LimitedError{Scope: ScopeHost}
	}

	return nil
}

func (l *Limiter) bucketFor(host model.HostKey) *hostBucket {
	l.mu.RLock()
	b, ok := l.hosts[host]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok = l.hosts[host]; ok {
		return b
	}

	b = &hostBucket{
		limiter:   rate.NewLimiter(rate.Limit(l.cfg.HostRate0), l.cfg.HostBurst),
		lastAdapt: time.Now(),
	}
	l.hosts[host] = b

	return b
}

// RecordOutcome feeds a completed request's success/failure into the
// host bucket's adaptation counters. Feedback is best-effort: a
// missed sample never blocks the caller.
func (l *Limiter) RecordOutcome(host model.HostKey, success bool) {
	b := l.bucketFor(host)

	b.mu.Lock()
	if success {
		b.successes++
	} else {
		b.errors++
	}

	if time.Since(b.lastAdapt) >= l.cfg.AdaptationInterval {
		l.adapt(b)
	}
	b.mu.Unlock()
}

// adapt applies the MIMD curve. Caller holds b.mu.
func (l *Limiter) adapt(b *hostBucket) {
	total := b.successes + b.errors
	failed := b.errors
	b.successes, b.errors, b.lastAdapt = 0, 0, time.Now()

	if total == 0 {
		return
	}

	errorRate := float64(failed) / float64(total)
	current := float64(b.limiter.Limit())

	switch {
	case errorRate < l.cfg.ErrorLow:
		current = min(current*l.cfg.UpFactor, l.cfg.HostRateMax)
	case errorRate > l.cfg.ErrorHigh:
		current = max(current*l.cfg.DownFactor, l.cfg.HostRateMin)
	default:
		return
	}

	b.limiter.SetLimit(rate.Limit(current))
}

// RateFor reports the current refill rate of a host's bucket, for
// observability/resources://metrics.
func (l *Limiter) RateFor(host model.HostKey) float64 {
	b := l.bucketFor(host)
	return float64(b.limiter.Limit())
}

// Tick forces an adaptation pass even if the interval hasn't elapsed,
// for deterministic tests.
func (l *Limiter) Tick(host model.HostKey) {
	b := l.bucketFor(host)
	b.mu.Lock()
	l.adapt(b)
	b.mu.Unlock()
}
