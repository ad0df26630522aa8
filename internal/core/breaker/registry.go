package breaker

import (
	"sync"

	"fetchcore/internal/domain/model"
)

// Registry lazily creates and looks up one HostBreaker per HostKey.
type Registry struct {
	cfg Config

	mu    sync.RWMutex
	hosts map[model.HostKey]*HostBreaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, hosts: make(map[model.HostKey]*HostBreaker)}
}

func (r *Registry) For(host model.HostKey) *HostBreaker {
	r.mu.RLock()
	hb, ok := r.hosts[host]
	r.mu.RUnlock()
	if ok {
		return hb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if hb, ok = r.hosts[host]; ok {
		return hb
	}

	hb = New(r.cfg)
	r.hosts[host] = hb

	return hb
}
