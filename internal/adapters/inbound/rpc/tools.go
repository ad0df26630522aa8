package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fetchcore/internal/core"
	"fetchcore/internal/domain/model"
	"fetchcore/internal/ports"
	"fetchcore/pkg/idempotency"
)

// ErrNotImplemented is returned by the two tools §1 explicitly scopes
// outside the core: HTML/metadata extraction and link scraping
// (extract_links) and content decompression/charset detection
// (content_analyze) are named out-of-scope collaborators, not fetch
// concerns this engine performs itself. robots.txt compliance and
// sitemap parsing are in scope per §1 and §2 and are implemented in
// robots.go.
var ErrNotImplemented = errors.New("not implemented by the core")

// Dispatcher implements ports.ToolInvoker and ports.ResourceReader
// against one running engine. It is the thin adapter SPEC §6 describes
// between the core and an external JSON-RPC transport.
type Dispatcher struct {
	engine      *core.Engine
	health      ports.HealthChecker
	idempotency ports.IdempotencyCache // nil disables fetch_batch replay guarding
	cfgResource func() (any, error)
}

var (
	_ ports.ToolInvoker    = (*Dispatcher)(nil)
	_ ports.ResourceReader = (*Dispatcher)(nil)
)

// New wires a Dispatcher. idemCache may be nil; cfgResource supplies
// whatever config://current should return (usually a *config.ServiceConfig).
func New(engine *core.Engine, health ports.HealthChecker, idemCache ports.IdempotencyCache, cfgResource func() (any, error)) *Dispatcher {
	return &Dispatcher{engine: engine, health: health, idempotency: idemCache, cfgResource: cfgResource}
}

type fetchArgs struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
	TimeoutSeconds float64           `json:"timeout_seconds"`
	Priority       string            `json:"priority"`
}

type fetchResult struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       string              `json:"body"`
	Cached     bool                `json:"cached"`
}

type fetchBatchArgs struct {
	Requests       []fetchArgs `json:"requests"`
	IdempotencyKey string      `json:"idempotency_key"`
}

type fetchBatchResult struct {
	Results []fetchResult `json:"results"`
}

type checkStatusArgs struct {
	Level string `json:"level"`
}

// Invoke runs toolName against args and returns its JSON-encoded
// result, satisfying ports.ToolInvoker.
func (d *Dispatcher) Invoke(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error) {
	switch toolName {
	case "fetch_url":
		return d.invokeFetchURL(ctx, args)
	case "fetch_batch":
		return d.invokeFetchBatch(ctx, args)
	case "check_status":
		return d.invokeCheckStatus(ctx, args)
	case "robots_check":
		return d.invokeRobotsCheck(ctx, args)
	case "sitemap_parse":
		return d.invokeSitemapParse(ctx, args)
	case "cache_management":
		return d.invokeCacheManagement(ctx, args)
	case "extract_links", "content_analyze":
		return nil, fmt.Errorf("%s: %w, see tools/list description for the owning collaborator", toolName, ErrNotImplemented)
	default:
		return nil, fmt.Errorf("unknown tool %q", toolName)
	}
}

func (d *Dispatcher) invokeFetchURL(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args fetchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding fetch_url arguments: %w", err)
	}

	resp, err := d.engine.Execute(ctx, toRequest(args))
	if err != nil {
		return nil, err
	}

	return json.Marshal(toResult(resp))
}

func (d *Dispatcher) invokeFetchBatch(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args fetchBatchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decoding fetch_batch arguments: %w", err)
	}

	if args.IdempotencyKey != "" && d.idempotency != nil {
		if cached, ok, err := d.replayBatch(ctx, args.IdempotencyKey); err != nil {
			return nil, err
		} else if ok {
			return cached, nil
		}
	}

	results := make([]fetchResult, len(args.Requests))
	for i, reqArgs := range args.Requests {
		resp, err := d.engine.Execute(ctx, toRequest(reqArgs))
		if err != nil {
			results[i] = fetchResult{StatusCode: 0, Body: err.Error()}

			continue
		}

		results[i] = toResult(resp)
	}

	out, err := json.Marshal(fetchBatchResult{Results: results})
	if err != nil {
		return nil, err
	}

	if args.IdempotencyKey != "" && d.idempotency != nil {
		d.storeBatchReplay(ctx, args.IdempotencyKey, out)
	}

	return out, nil
}

func (d *Dispatcher) replayBatch(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := idempotency.Validate(key); err != nil {
		return nil, false, fmt.Errorf("invalid idempotency key: %w", err)
	}

	cacheKey := idempotency.BuildCacheKey("RPC", "fetch_batch", key)

	cached, err := d.idempotency.Get(ctx, cacheKey)
	if err != nil || cached == nil {
		return nil, false, nil
	}

	return json.RawMessage(cached.Body), true, nil
}

func (d *Dispatcher) storeBatchReplay(ctx context.Context, key string, result json.RawMessage) {
	cacheKey := idempotency.BuildCacheKey("RPC", "fetch_batch", key)

	_ = d.idempotency.Set(ctx, cacheKey, &ports.CachedResponse{
		StatusCode: http.StatusOK,
		Body:       result,
		CreatedAt:  time.Now(),
	}, 24*time.Hour)
}

func (d *Dispatcher) invokeCheckStatus(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args checkStatusArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decoding check_status arguments: %w", err)
		}
	}

	switch args.Level {
	case "liveness":
		report, err := d.health.Liveness(ctx)
		if err != nil {
			return nil, err
		}

		return json.Marshal(report)
	case "readiness":
		report, err := d.health.Readiness(ctx)
		if err != nil {
			return nil, err
		}

		return json.Marshal(report)
	default:
		report, err := d.health.Health(ctx)
		if err != nil {
			return nil, err
		}

		return json.Marshal(report)
	}
}

func toRequest(args fetchArgs) *model.Request {
	method := args.Method
	if method == "" {
		method = http.MethodGet
	}

	headers := make(http.Header, len(args.Headers))
	for k, v := range args.Headers {
		headers.Set(k, v)
	}

	timeout := 30 * time.Second
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds * float64(time.Second))
	}

	return &model.Request{
		Method:   method,
		URL:      args.URL,
		Headers:  headers,
		Body:     []byte(args.Body),
		Timeout:  timeout,
		Priority: priorityOf(args.Priority),
		Retry:    model.RetryPolicy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, BackoffFactor: 2, MaxDelay: 5 * time.Second},
	}
}

func priorityOf(s string) model.Priority {
	switch s {
	case "low":
		return model.PriorityLow
	case "high":
		return model.PriorityHigh
	default:
		return model.PriorityNormal
	}
}

func toResult(resp *model.Response) fetchResult {
	return fetchResult{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       string(resp.Body),
		Cached:     resp.Cached,
	}
}
