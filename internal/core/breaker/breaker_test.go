package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fetchcore/internal/domain/model"
)

func failingFn(ctx context.Context) (*model.Response, error) {
	return nil, &model.HttpStatusError{Status: 500, URL: "https://example/"}
}

func succeedingFn(ctx context.Context) (*model.Response, error) {
	return &model.Response{StatusCode: 200}, nil
}

func TestBreakerTripsAfterFailureThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRequestThreshold = 1
	cfg.FailureThreshold = 3
	cfg.Timeout = 100 * time.Millisecond
	cfg.SuccessThreshold = 2
	cfg.HalfOpenMaxCalls = 2
	hb := New(cfg)

	for i := 0; i < 3; i++ {
		_, err := hb.Execute(context.Background(), failingFn)
		require.Error(t, err)
		assert.False(t, errors.Is(err, model.ErrCircuitOpen))
	}

	_, err := hb.Execute(context.Background(), failingFn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrCircuitOpen))
}

func TestBreakerRejectsWithoutCallingFnWhileOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRequestThreshold = 1
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Minute
	hb := New(cfg)

	_, err := hb.Execute(context.Background(), failingFn)
	require.Error(t, err)

	called := false
	_, err = hb.Execute(context.Background(), func(ctx context.Context) (*model.Response, error) {
		called = true
		return succeedingFn(ctx)
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrCircuitOpen))
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRequestThreshold = 1
	cfg.FailureThreshold = 1
	cfg.Timeout = 50 * time.Millisecond
	cfg.SuccessThreshold = 2
	cfg.HalfOpenMaxCalls = 2
	hb := New(cfg)

	_, err := hb.Execute(context.Background(), failingFn)
	require.Error(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = hb.Execute(context.Background(), succeedingFn)
	require.NoError(t, err)

	_, err = hb.Execute(context.Background(), succeedingFn)
	require.NoError(t, err)

	_, err = hb.Execute(context.Background(), failingFn)
	assert.False(t, errors.Is(err, model.ErrCircuitOpen))
}

func TestClosedBreakerNeverRejectsOnPolicyAlone(t *testing.T) {
	hb := New(DefaultConfig())

	for i := 0; i < 5; i++ {
		_, err := hb.Execute(context.Background(), succeedingFn)
		require.NoError(t, err)
	}
}

func TestRegistryReturnsSameBreakerPerHost(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	host := model.HostKey{Scheme: "https", Host: "a.example", Port: 443}

	assert.Same(t, reg.For(host), reg.For(host))
}
