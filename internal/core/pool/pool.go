// Package pool implements the per-host HTTP/1.1 and HTTP/2 connection
// pools from §4.6: a HostKey -> HostPool map, idle eviction, per-host
// caps, and a p95-latency-doubling heuristic that shrinks and restores
// those caps. The actual dial/handshake/ALPN/multiplexing work is left
// to net/http.Transport and golang.org/x/net/http2, exactly as spec'd —
// this package owns acquisition gating, latency tracking, and cap
// adaptation around a *http.Client scoped to one host.
package pool

import (
	"context"
	"crypto/tls"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"fetchcore/internal/domain/model"
)

type Config struct {
	MaxIdlePerHost        int
	MaxConnectionsPerHost int
	MinConnectionsPerHost int
	IdleTimeout           time.Duration
	ReapInterval          time.Duration
	ConnectTimeout        time.Duration
	TLSMinVersion         uint16
	TLSMaxVersion         uint16

	// LatencyWindow is the number of samples the rolling p95 window
	// holds before an adaptation decision can be made.
	LatencyWindow int
}

func DefaultConfig() Config {
	return Config{
		MaxIdlePerHost:        10,
		MaxConnectionsPerHost: 100,
		MinConnectionsPerHost: 5,
		IdleTimeout:           90 * time.Second,
		ReapInterval:          30 * time.Second,
		ConnectTimeout:        10 * time.Second,
		TLSMinVersion:         tls.VersionTLS12,
		TLSMaxVersion:         tls.VersionTLS13,
		LatencyWindow:         64,
	}
}

// PooledConnection is the handle a caller borrows for the lifetime of
// one request. It does not wrap a raw net.Conn directly — net/http's
// own transport owns that — but represents the pool's bookkeeping
// unit: a reserved slot against the host's cap, released exactly once.
type PooledConnection struct {
	host       model.HostKey
	hp         *HostPool
	client     *http.Client
	createdAt  time.Time
	released   bool
	mu         sync.Mutex
}

func (pc *PooledConnection) Client() *http.Client { return pc.client }

// Release returns the slot to the host pool and records the observed
// latency for the adaptation heuristic. err != nil marks the borrow as
// failed; this does not close anything explicitly — a failed request's
// underlying connection is torn down by net/http itself when unhealthy.
func (pc *PooledConnection) Release(latency time.Duration, err error) {
	pc.mu.Lock()
	if pc.released {
		pc.mu.Unlock()
		return
	}
	pc.released = true
	pc.mu.Unlock()

	pc.hp.release(latency, err)
}

// HostPool gates concurrent borrows for one host behind a cap-sized
// semaphore and tracks a rolling p95 latency window for adaptation.
type HostPool struct {
	host   model.HostKey
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	cond        *sync.Cond
	cap         int
	active      int
	servedTotal int64
	lastUsed    time.Time

	latencies    []time.Duration
	latIdx       int
	baselineP95  time.Duration
	overDoubling int // consecutive windows observed doubled over baseline
}

func newHostPool(host model.HostKey, cfg Config) *HostPool {
	transport := &http.Transport{
		MaxIdleConnsPerHost:   cfg.MaxIdlePerHost,
		MaxConnsPerHost:       cfg.MaxConnectionsPerHost,
		IdleConnTimeout:       cfg.IdleTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: 0,
		TLSClientConfig: &tls.Config{
			MinVersion: cfg.TLSMinVersion,
			MaxVersion: cfg.TLSMaxVersion,
		},
	}
	// Enables H2 with ALPN negotiation; falls back to H1 transparently
	// when the peer doesn't advertise h2. A failure here just leaves H1
	// multiplexing off for this host, which is not fatal.
	_ = http2.ConfigureTransport(transport)

	hp := &HostPool{
		host:      host,
		cfg:       cfg,
		client:    &http.Client{Transport: transport},
		cap:       cfg.MaxConnectionsPerHost,
		lastUsed:  time.Now(),
		latencies: make([]time.Duration, 0, cfg.LatencyWindow),
	}
	hp.cond = sync.NewCond(&hp.mu)

	return hp
}

// acquire blocks until a slot is free or ctx is done, mirroring §4.6's
// "wait on a per-host readiness signal until a connection is released
// or a connect timeout elapses". A background goroutine translates
// ctx cancellation into a Broadcast so a waiter parked in cond.Wait
// wakes up promptly instead of only on the next release.
func (hp *HostPool) acquire(ctx context.Context) (*PooledConnection, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			hp.cond.Broadcast()
		case <-done:
		}
	}()

	hp.mu.Lock()
	for hp.active >= hp.cap {
		if ctx.Err() != nil {
			hp.mu.Unlock()
			return nil, model.ErrPoolExhausted
		}
		hp.cond.Wait()
	}
	hp.active++
	hp.lastUsed = time.Now()
	hp.mu.Unlock()

	return &PooledConnection{host: hp.host, hp: hp, client: hp.client, createdAt: time.Now()}, nil
}

func (hp *HostPool) release(latency time.Duration, err error) {
	hp.mu.Lock()
	hp.active--
	hp.servedTotal++
	hp.lastUsed = time.Now()
	if err == nil {
		hp.recordLatency(latency)
	}
	hp.mu.Unlock()

	hp.cond.Broadcast()
}

// recordLatency appends to the rolling window; caller holds hp.mu.
func (hp *HostPool) recordLatency(d time.Duration) {
	if len(hp.latencies) < hp.cfg.LatencyWindow {
		hp.latencies = append(hp.latencies, d)
		return
	}
	hp.latencies[hp.latIdx] = d
	hp.latIdx = (hp.latIdx + 1) % hp.cfg.LatencyWindow
}

func (hp *HostPool) p95() time.Duration {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	return p95Of(hp.latencies)
}

func p95Of(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// adapt implements §4.6's "if p95 latency doubles relative to a
// baseline over consecutive windows, reduce the host cap by 25%"; the
// reverse restores cap in 25% steps once p95 recovers and the pool is
// saturating (active borrows pressing against cap, i.e. callers are
// waiting). Two consecutive doubled windows are required before
// shrinking, per Open Question decision (iii) recorded in DESIGN.md.
func (hp *HostPool) adapt(minCap int) {
	current := hp.p95()
	if current == 0 {
		return
	}

	hp.mu.Lock()
	defer hp.mu.Unlock()

	if hp.baselineP95 == 0 {
		hp.baselineP95 = current
		return
	}

	doubled := current >= hp.baselineP95*2

	if doubled {
		hp.overDoubling++
		if hp.overDoubling >= 2 {
			newCap := hp.cap - hp.cap/4
			if newCap < minCap {
				newCap = minCap
			}
			hp.resizeLocked(newCap)
			hp.overDoubling = 0
			hp.baselineP95 = current
		}
		return
	}

	hp.overDoubling = 0

	saturating := hp.active >= hp.cap
	recovered := current < hp.baselineP95

	if saturating && recovered && hp.cap < hp.cfg.MaxConnectionsPerHost {
		newCap := hp.cap + hp.cap/4
		if newCap > hp.cfg.MaxConnectionsPerHost {
			newCap = hp.cfg.MaxConnectionsPerHost
		}
		hp.resizeLocked(newCap)
	}

	hp.baselineP95 = current
}

// resizeLocked changes the effective cap callers block against.
// Shrinking below the current active count just stops new acquires
// until enough releases bring active back under the new cap; no
// borrow in flight is forcibly closed. Caller holds hp.mu.
func (hp *HostPool) resizeLocked(newCap int) {
	if newCap == hp.cap {
		return
	}

	hp.cap = newCap
	hp.cond.Broadcast()
}

func (hp *HostPool) staleSince(grace time.Duration) bool {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	return hp.active == 0 && time.Since(hp.lastUsed) > grace
}

// Pool owns the HostKey -> HostPool map.
type Pool struct {
	cfg Config

	mu    sync.RWMutex
	hosts map[model.HostKey]*HostPool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config) *Pool {
	p := &Pool{cfg: cfg, hosts: make(map[model.HostKey]*HostPool), stop: make(chan struct{})}

	if cfg.ReapInterval > 0 {
		p.wg.Add(1)
		go p.reapLoop()
	}

	return p
}

func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pool) hostPool(host model.HostKey) *HostPool {
	p.mu.RLock()
	hp, ok := p.hosts[host]
	p.mu.RUnlock()
	if ok {
		return hp
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if hp, ok = p.hosts[host]; ok {
		return hp
	}

	hp = newHostPool(host, p.cfg)
	p.hosts[host] = hp

	return hp
}

// Acquire reserves a connection slot for host, per §4.6's acquisition
// algorithm. The returned PooledConnection must be released exactly
// once with the observed latency.
func (p *Pool) Acquire(ctx context.Context, host model.HostKey) (*PooledConnection, error) {
	return p.hostPool(host).acquire(ctx)
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for host, hp := range p.hosts {
		hp.adapt(p.cfg.MinConnectionsPerHost)

		if hp.staleSince(2 * p.cfg.IdleTimeout) {
			hp.client.CloseIdleConnections()
			delete(p.hosts, host)
		}
	}
}

// Stats reports per-host pool state for the cache://stats /
// metrics://performance admin resources.
type Stats struct {
	Cap, Active int
	Served      int64
	P95         time.Duration
}

func (p *Pool) Stats(host model.HostKey) (Stats, bool) {
	p.mu.RLock()
	hp, ok := p.hosts[host]
	p.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}

	hp.mu.Lock()
	defer hp.mu.Unlock()

	return Stats{Cap: hp.cap, Active: hp.active, Served: hp.servedTotal, P95: p95Of(hp.latencies)}, true
}
