package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fetchcore/internal/domain/model"
)

func testHost() model.HostKey {
	return model.HostKey{Scheme: "https", Host: "example.com", Port: 443}
}

func TestGlobalCapacityAdmitsExactlyBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalRate = 10
	cfg.GlobalBurst = 10
	cfg.HostRate0 = 1000
	cfg.HostBurst = 1000
	l := New(cfg)

	host := testHost()
	admitted := 0
	for i := 0; i < 20; i++ {
		if err := l.Allow(host); err == nil {
			admitted++
		}
	}

	assert.Equal(t, 10, admitted)
}

func TestAllowReturnsLimitedError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalRate = 1
	cfg.GlobalBurst = 1
	l := New(cfg)

	host := testHost()
	require.NoError(t, l.Allow(host))

	err := l.Allow(host)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrLimited))

	var limited *LimitedError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, ScopeGlobal, limited.Scope)
}

func TestAdaptationIncreasesRateOnLowErrorRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HostRate0 = 10
	cfg.HostRateMax = 50
	cfg.ErrorLow = 0.01
	l := New(cfg)

	host := testHost()
	for i := 0; i < 100; i++ {
		l.RecordOutcome(host, true)
	}
	l.Tick(host)

	assert.InDelta(t, 11, l.RateFor(host), 0.01)
}

func TestAdaptationDecreasesRateOnHighErrorRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HostRate0 = 10
	cfg.HostRateMin = 1
	cfg.ErrorHigh = 0.05
	l := New(cfg)

	host := testHost()
	for i := 0; i < 100; i++ {
		l.RecordOutcome(host, i%2 == 0)
	}
	l.Tick(host)

	assert.InDelta(t, 9, l.RateFor(host), 0.01)
}

func TestAdaptationClampsAtBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HostRate0 = 49
	cfg.HostRateMax = 50
	l := New(cfg)

	host := testHost()
	for i := 0; i < 10; i++ {
		l.RecordOutcome(host, true)
	}
	l.Tick(host)
	rate1 := l.RateFor(host)
	assert.LessOrEqual(t, rate1, 50.0)

	for i := 0; i < 10; i++ {
		l.RecordOutcome(host, true)
	}
	l.Tick(host)
	assert.LessOrEqual(t, l.RateFor(host), 50.0)
}

func TestBucketTokenBoundOverInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GlobalRate = 5
	cfg.GlobalBurst = 5
	l := New(cfg)
	host := testHost()

	admitted := 0
	deadline := time.Now().Add(1200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := l.Allow(host); err == nil {
			admitted++
		}
	}

	// capacity + rate*T, generous slack for scheduling jitter
	slack := 5 * 1.3
	assert.LessOrEqual(t, admitted, 5+int(slack)+2)
}
