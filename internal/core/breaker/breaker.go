// Package breaker implements the per-host three-state circuit breaker
// from §4.4: Closed/Open/HalfOpen transitions driven by
// github.com/sony/gobreaker/v2, layered with an atomically-updated
// EWMA error rate that gobreaker's own Counts (consecutive/total
// failures only) cannot express, plus exponential open-timeout growth
// across consecutive trips.
package breaker

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"fetchcore/internal/domain/model"
)

// Config mirrors the breaker.* option table.
type Config struct {
	MinRequestThreshold int
	ErrorRateThreshold  float64
	FailureThreshold    int
	Timeout             time.Duration
	MaxTimeout          time.Duration
	HalfOpenMaxCalls    int
	SuccessThreshold    int
	SmoothingFactor     float64

	// IsFailure classifies an outcome error as a breaker failure.
	// Defaults to DefaultIsFailure: transport errors, timeouts, and
	// statuses 408, 429, 500, 502, 503 and 504. Every other status,
	// including the remaining 5xx codes, does not count.
	IsFailure func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		MinRequestThreshold: 10,
		ErrorRateThreshold:  0.5,
		FailureThreshold:    5,
		Timeout:             5 * time.Second,
		MaxTimeout:          2 * time.Minute,
		HalfOpenMaxCalls:    1,
		SuccessThreshold:    2,
		SmoothingFactor:     0.1,
		IsFailure:           DefaultIsFailure,
	}
}

// DefaultIsFailure treats transport errors, timeouts, and
// HttpStatusErrors with status 408, 429, 500, 502, 503 or 504 as
// breaker failures; no other status, 4xx or 5xx, counts.
func DefaultIsFailure(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, model.ErrTransport) || errors.Is(err, model.ErrTimeout) {
		return true
	}

	var statusErr *model.HttpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case 408, 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}

	return false
}

// HostBreaker is one per HostKey.
type HostBreaker struct {
	cfg Config

	cb *gobreaker.CircuitBreaker[any]

	ewmaBits  atomic.Uint64 // math.Float64bits(smoothed error rate)
	requests  atomic.Int64  // requests seen since last close, for min_request_threshold
	failures  atomic.Int64  // raw failure count since last close

	mu              sync.Mutex
	openCycles      int
	manualNextAttempt time.Time
}

func New(cfg Config) *HostBreaker {
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}

	hb := &HostBreaker{cfg: cfg}

	settings := gobreaker.Settings{
		Name:        "host",
		MaxRequests: uint32(max(cfg.HalfOpenMaxCalls, cfg.SuccessThreshold, 1)),
		Interval:    0, // we reset counters ourselves on Closed entry
		Timeout:     cfg.Timeout,
		ReadyToTrip: hb.readyToTrip,
		OnStateChange: hb.onStateChange,
	}

	hb.cb = gobreaker.NewCircuitBreaker[any](settings)

	return hb
}

func (hb *HostBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if int(counts.Requests) < hb.cfg.MinRequestThreshold {
		return false
	}

	if int(counts.ConsecutiveFailures) >= hb.cfg.FailureThreshold {
		return true
	}

	return hb.ErrorRate() >= hb.cfg.ErrorRateThreshold
}

func (hb *HostBreaker) onStateChange(name string, from, to gobreaker.State) {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	switch to {
	case gobreaker.StateOpen:
		backoff := float64(hb.cfg.Timeout) * math.Pow(2, float64(hb.openCycles))
		if ceiling := float64(hb.cfg.MaxTimeout); ceiling > 0 && backoff > ceiling {
			backoff = ceiling
		}
		hb.manualNextAttempt = time.Now().Add(time.Duration(backoff))
		hb.openCycles++
	case gobreaker.StateClosed:
		hb.openCycles = 0
		hb.manualNextAttempt = time.Time{}
		hb.requests.Store(0)
		hb.failures.Store(0)
	}
}

// nextAttemptPending reports whether our own exponentially-grown open
// window is still active, independent of gobreaker's fixed Timeout.
func (hb *HostBreaker) nextAttemptPending() bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	return !hb.manualNextAttempt.IsZero() && time.Now().Before(hb.manualNextAttempt)
}

// Execute runs fn through the breaker. It returns model.ErrCircuitOpen
// when the breaker is Open or, during HalfOpen, when the
// probe budget is exhausted.
func (hb *HostBreaker) Execute(ctx context.Context, fn func(ctx context.Context) (*model.Response, error)) (*model.Response, error) {
	if hb.nextAttemptPending() {
		return nil, model.ErrCircuitOpen
	}

	result, err := hb.cb.Execute(func() (any, error) {
		hb.requests.Add(1)

		resp, ferr := fn(ctx)

		isFailure := hb.cfg.IsFailure(ferr)
		hb.recordEWMA(isFailure)
		if isFailure {
			hb.failures.Add(1)
		}

		return resp, ferr
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, model.ErrCircuitOpen
		}

		if result == nil {
			return nil, err
		}
	}

	resp, _ := result.(*model.Response)

	return resp, err
}

func (hb *HostBreaker) recordEWMA(isFailure bool) {
	x := 0.0
	if isFailure {
		x = 1.0
	}

	for {
		old := hb.ewmaBits.Load()
		oldRate := math.Float64frombits(old)
		newRate := hb.cfg.SmoothingFactor*x + (1-hb.cfg.SmoothingFactor)*oldRate

		if hb.ewmaBits.CompareAndSwap(old, math.Float64bits(newRate)) {
			return
		}
	}
}

func (hb *HostBreaker) ErrorRate() float64 {
	return math.Float64frombits(hb.ewmaBits.Load())
}

func (hb *HostBreaker) State() gobreaker.State {
	return hb.cb.State()
}
