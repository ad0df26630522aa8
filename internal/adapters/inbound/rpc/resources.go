package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

type performancePayload struct {
	SchedulerQueueDepth int64 `json:"scheduler_queue_depth"`
	SchedulerInflight   int   `json:"scheduler_inflight"`
	SchedulerCapacity   int   `json:"scheduler_capacity"`
}

// Read resolves a resources/read request by URI, satisfying
// ports.ResourceReader.
func (d *Dispatcher) Read(ctx context.Context, uri string) (json.RawMessage, error) {
	switch uri {
	case "cache://stats":
		return d.readCacheStats()
	case "metrics://performance":
		return d.readPerformance()
	case "config://current":
		return d.readConfig()
	default:
		return nil, fmt.Errorf("unknown resource %q", uri)
	}
}

func (d *Dispatcher) readCacheStats() (json.RawMessage, error) {
	s := d.engine.Cache().Stats()

	return json.Marshal(struct {
		T1, T2, B1, B2 int
		P, Capacity    int
		Hits, Misses   int64
	}{s.T1, s.T2, s.B1, s.B2, s.P, s.Capacity, s.Hits, s.Misses})
}

func (d *Dispatcher) readPerformance() (json.RawMessage, error) {
	s := d.engine.Scheduler().Stats()

	return json.Marshal(performancePayload{
		SchedulerQueueDepth: s.QueueDepth,
		SchedulerInflight:   s.Inflight,
		SchedulerCapacity:   s.Capacity,
	})
}

func (d *Dispatcher) readConfig() (json.RawMessage, error) {
	if d.cfgResource == nil {
		return json.Marshal(map[string]string{})
	}

	cfg, err := d.cfgResource()
	if err != nil {
		return nil, err
	}

	return json.Marshal(cfg)
}
