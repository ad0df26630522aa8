// Package core wires the six subsystems described in §2 together into
// a single Execute entry point: Admission -> Cache lookup -> Dedup
// join -> Scheduler -> Rate limiter -> Circuit breaker -> Connection
// pool -> wire I/O -> outcome feedback -> Cache store -> Dedup
// release. Every suspension point along that path is an ordinary
// blocking Go call that honors ctx.Done(), so cancellation propagates
// without any bespoke cancellation flag.
package core

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fetchcore/internal/adapters/outbound/httptransport"
	"fetchcore/internal/core/admission"
	"fetchcore/internal/core/breaker"
	"fetchcore/internal/core/cache"
	"fetchcore/internal/core/dedup"
	"fetchcore/internal/core/pool"
	"fetchcore/internal/core/ratelimit"
	"fetchcore/internal/core/retry"
	"fetchcore/internal/core/scheduler"
	"fetchcore/internal/domain/model"
)

type Engine struct {
	admitter  *admission.Admitter
	cache     *cache.ARC
	dedup     *dedup.Coordinator
	scheduler *scheduler.Scheduler
	limiter   *ratelimit.Limiter
	breakers  *breaker.Registry
	pool      *pool.Pool
	transport *httptransport.Client
}

// Cache exposes the resident ARC cache for introspection by the
// cache:// resource and readiness checks. The engine itself only uses
// this pointer inside Execute.
func (e *Engine) Cache() *cache.ARC { return e.cache }

// Scheduler exposes the intake scheduler for queue-depth readiness
// checks and the metrics:// resource.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Breakers exposes the per-host breaker registry so a caller can look
// up an individual host's state for the metrics:// resource.
func (e *Engine) Breakers() *breaker.Registry { return e.breakers }

// Pool exposes the per-host connection pool for the same reason.
func (e *Engine) Pool() *pool.Pool { return e.pool }

func New(
	admitter *admission.Admitter,
	arc *cache.ARC,
	dedupCoord *dedup.Coordinator,
	sched *scheduler.Scheduler,
	limiter *ratelimit.Limiter,
	breakers *breaker.Registry,
	connPool *pool.Pool,
	transport *httptransport.Client,
) *Engine {
	return &Engine{
		admitter:  admitter,
		cache:     arc,
		dedup:     dedupCoord,
		scheduler: sched,
		limiter:   limiter,
		breakers:  breakers,
		pool:      connPool,
		transport: transport,
	}
}

// Execute runs one fetch end to end, serving from cache when possible
// and coalescing concurrent identical requests through the dedup
// coordinator otherwise.
func (e *Engine) Execute(ctx context.Context, req *model.Request) (*model.Response, error) {
	if err := e.admitter.Check(ctx, req); err != nil {
		return nil, err
	}

	u, normalized, err := model.NormalizeURL(req.URL)
	if err != nil {
		return nil, model.ErrInvalidRequest
	}

	host := model.HostKeyFromURL(u)
	fp := model.ComputeFingerprint(req.Method, normalized, req.Headers, req.Body)
	cacheable := isCacheable(req)

	if cacheable {
		if entry, ok := e.cache.Get(fp); ok {
			resp := entry.Response.Clone()
			resp.Cached = true

			return resp, nil
		}
	}

	owner, slot := e.dedup.Join(fp)
	if !owner {
		select {
		case <-ctx.Done():
			e.dedup.Detach(slot)
			return nil, model.ErrCancelled
		case <-slot.Done():
		}

		return e.dedup.Wait(slot)
	}

	resp, execErr := e.executeOwned(ctx, req, host)

	if execErr == nil && cacheable && isStorable(resp) {
		e.store(fp, req, resp)
	}

	e.dedup.Resolve(fp, slot, resp, execErr)

	return resp, execErr
}

func (e *Engine) executeOwned(ctx context.Context, req *model.Request, host model.HostKey) (*model.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	return e.scheduler.Submit(ctx, req, func(ctx context.Context) (*model.Response, error) {
		return retry.Do(ctx, req.Retry, func(ctx context.Context) (*model.Response, error) {
			return e.attempt(ctx, req, host)
		})
	})
}

// attempt runs exactly one network attempt through the rate limiter,
// the host's circuit breaker, and a borrowed pooled connection,
// feeding the outcome back into the limiter's MIMD counters.
func (e *Engine) attempt(ctx context.Context, req *model.Request, host model.HostKey) (*model.Response, error) {
	if err := e.limiter.Allow(host); err != nil {
		return nil, err
	}

	hb := e.breakers.For(host)
	resp, err := hb.Execute(ctx, func(ctx context.Context) (*model.Response, error) {
		return e.doPooled(ctx, req, host)
	})

	e.limiter.RecordOutcome(host, err == nil)

	return resp, err
}

func (e *Engine) doPooled(ctx context.Context, req *model.Request, host model.HostKey) (*model.Response, error) {
	conn, err := e.pool.Acquire(ctx, host)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := e.transport.Do(ctx, conn.Client(), req)
	conn.Release(time.Since(start), err)

	if err != nil {
		return nil, err
	}

	if isFailureStatus(resp.StatusCode) {
		return resp, &model.HttpStatusError{Status: resp.StatusCode, URL: req.URL}
	}

	return resp, nil
}

func (e *Engine) store(fp model.Fingerprint, req *model.Request, resp *model.Response) {
	entry := &model.CacheEntry{
		Response:     resp.Clone(),
		ETag:         resp.Directives.ETag,
		LastModified: resp.Directives.LastModified,
		Size:         len(resp.Body),
	}

	switch {
	case req.Cache.TTL > 0:
		entry.ExpiresAt = time.Now().Add(req.Cache.TTL)
	case resp.Directives.HasMaxAge:
		entry.ExpiresAt = time.Now().Add(resp.Directives.MaxAge)
	case !resp.Directives.Expires.IsZero():
		entry.ExpiresAt = resp.Directives.Expires
	}

	e.cache.Store(fp, entry)
}

// isCacheable implements Open Question decision (i): POST responses
// never participate in the cache unless the request explicitly opts
// in via CachePolicy.StorePost.
func isCacheable(req *model.Request) bool {
	if req.Cache.Disabled {
		return false
	}

	switch strings.ToUpper(req.Method) {
	case http.MethodGet, http.MethodHead:
		return true
	case http.MethodPost:
		return req.Cache.StorePost
	default:
		return false
	}
}

func isStorable(resp *model.Response) bool {
	if resp.Directives.NoStore {
		return false
	}

	switch resp.StatusCode {
	case 200, 203, 204, 206, 300, 301, 404, 405, 410, 414, 501:
		return true
	default:
		return false
	}
}

// isFailureStatus mirrors breaker.DefaultIsFailure's status set so a
// response that completed the wire round trip but carries a
// server/overload status is still classified as a failure outcome for
// retry, breaker, and rate-limiter feedback purposes.
func isFailureStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
