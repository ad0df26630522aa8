package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"fetchcore/internal/config"
	"fetchcore/internal/domain/model"
	"fetchcore/pkg/circuitbreaker"
	appLogger "fetchcore/pkg/logger"
)

// sidecar is the small JSON metadata record stored next to the
// gob+gzip payload so a stale entry can be recognized without
// inflating the body.
type sidecar struct {
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Size         int       `json:"size"`
}

// payload is the gob-encoded half of an entry: the cached response.
type payload struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	ReceivedAt time.Time
}

// PersistentStore is the Backend implementation from §4.5/§6: an
// external key-value store the ARC writes every stored entry through
// to and consults on an in-memory miss. CacheEntry payloads are gob-encoded,
// gzip-compressed, and stored under the fingerprint as key, with a
// JSON metadata sidecar stored alongside under a second key. Redis
// failures degrade to a plain cache miss — per §7, cache and
// deduplication errors never surface to the caller — via a small
// circuit breaker wrapping every round trip so a struggling backend
// doesn't add latency to every lookup once it starts failing.
type PersistentStore struct {
	client *redis.Client
	logger appLogger.Logger
	cb     *circuitbreaker.CircuitBreaker[struct{}]
	prefix string
}

func NewPersistentStore(cfg config.PersistentCache, logger appLogger.Logger) *PersistentStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           int(cfg.DB),
		PoolSize:     int(cfg.PoolSize),
		MinIdleConns: int(cfg.MinIdleConns),
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
		MaxRetries:   int(cfg.MaxRetries),
	})

	return newPersistentStore(client, logger, cfg.BreakerFailureThreshold, cfg.BreakerTimeout)
}

// NewPersistentStoreFromClient wires an already-constructed redis.Client,
// used by tests against a miniredis instance.
func NewPersistentStoreFromClient(client *redis.Client, logger appLogger.Logger) *PersistentStore {
	return newPersistentStore(client, logger, 5, 30*time.Second)
}

func newPersistentStore(client *redis.Client, logger appLogger.Logger, failureThreshold uint, timeout time.Duration) *PersistentStore {
	cb := circuitbreaker.New[struct{}](circuitbreaker.Config{
		Name:             "persistent-cache",
		Enabled:          true,
		MaxRequests:      1,
		Timeout:          timeout,
		FailureThreshold: failureThreshold,
	})

	return &PersistentStore{client: client, logger: logger, cb: cb, prefix: "fetchcore:cache:"}
}

func (p *PersistentStore) Close() error {
	return p.client.Close()
}

// IsHealthy pings the backing store directly, bypassing the read/write
// circuit breaker so a readiness probe sees the store's real state
// even while the breaker is open.
func (p *PersistentStore) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.client.Ping(ctx).Err() == nil
}

func (p *PersistentStore) valueKey(fp model.Fingerprint) string {
	return p.prefix + fp.String() + ":v"
}

func (p *PersistentStore) metaKey(fp model.Fingerprint) string {
	return p.prefix + fp.String() + ":m"
}

// Get implements cache.Backend. Any Redis error, breaker-open state, a
// missing key, corrupt payload, or expired sidecar is reported as a
// plain miss rather than propagated.
func (p *PersistentStore) Get(fp model.Fingerprint) (*model.CacheEntry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()

	var sc sidecar
	var body []byte

	_, err := circuitbreaker.Execute(p.cb, func() (struct{}, error) {
		rawMeta, err := p.client.Get(ctx, p.metaKey(fp)).Bytes()
		if err != nil {
			return struct{}{}, err
		}
		if err := json.Unmarshal(rawMeta, &sc); err != nil {
			return struct{}{}, err
		}

		rawBody, err := p.client.Get(ctx, p.valueKey(fp)).Bytes()
		if err != nil {
			return struct{}{}, err
		}
		body = rawBody

		return struct{}{}, nil
	})

	p.logger.Debug().
		Str("fingerprint", fp.String()).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Bool("hit", err == nil).
		Msg("persistent cache get")

	if err != nil {
		return nil, false
	}

	if !sc.ExpiresAt.IsZero() && sc.ExpiresAt.Before(time.Now()) {
		return nil, false
	}

	pl, err := decodePayload(body)
	if err != nil {
		p.logger.Warn().Err(err).Str("fingerprint", fp.String()).Msg("persistent cache payload decode failed")
		return nil, false
	}

	headers := make(http.Header, len(pl.Headers))
	for k, v := range pl.Headers {
		headers[k] = v
	}

	resp := &model.Response{
		StatusCode: pl.StatusCode,
		Headers:    headers,
		Body:       pl.Body,
		ReceivedAt: pl.ReceivedAt,
		Cached:     true,
	}

	return &model.CacheEntry{
		Response:     resp,
		CreatedAt:    sc.CreatedAt,
		ExpiresAt:    sc.ExpiresAt,
		ETag:         sc.ETag,
		LastModified: sc.LastModified,
		Size:         sc.Size,
	}, true
}

// Set implements cache.Backend. Failures are logged and swallowed: a
// write that never lands just means the entry falls out of the
// overflow tier, which is equivalent to an eviction.
func (p *PersistentStore) Set(fp model.Fingerprint, entry *model.CacheEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	body, err := encodePayload(entry)
	if err != nil {
		p.logger.Warn().Err(err).Str("fingerprint", fp.String()).Msg("persistent cache payload encode failed")
		return
	}

	sc := sidecar{
		ExpiresAt:    entry.ExpiresAt,
		CreatedAt:    entry.CreatedAt,
		ETag:         entry.ETag,
		LastModified: entry.LastModified,
		Size:         entry.Size,
	}
	rawMeta, err := json.Marshal(sc)
	if err != nil {
		p.logger.Warn().Err(err).Str("fingerprint", fp.String()).Msg("persistent cache sidecar encode failed")
		return
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Hour
	}

	_, err = circuitbreaker.Execute(p.cb, func() (struct{}, error) {
		if err := p.client.Set(ctx, p.valueKey(fp), body, ttl).Err(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, p.client.Set(ctx, p.metaKey(fp), rawMeta, ttl).Err()
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("fingerprint", fp.String()).Msg("persistent cache set failed")
	}
}

// Delete implements cache.Backend.
func (p *PersistentStore) Delete(fp model.Fingerprint) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, _ = circuitbreaker.Execute(p.cb, func() (struct{}, error) {
		return struct{}{}, p.client.Del(ctx, p.valueKey(fp), p.metaKey(fp)).Err()
	})
}

func encodePayload(entry *model.CacheEntry) ([]byte, error) {
	pl := payload{
		StatusCode: entry.Response.StatusCode,
		Headers:    map[string][]string(entry.Response.Headers),
		Body:       entry.Response.Body,
		ReceivedAt: entry.Response.ReceivedAt,
	}

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(pl); err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	return compressed.Bytes(), nil
}

func decodePayload(raw []byte) (*payload, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty payload")
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var pl payload
	if err := gob.NewDecoder(gz).Decode(&pl); err != nil {
		return nil, err
	}

	return &pl, nil
}
