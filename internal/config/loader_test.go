package config

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Setenv("APP_ENVIRONMENT", "sandbox")
	t.Setenv("APP_SERVICE_NAME", "fetchcored-test")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Init()
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "sandbox", cfg.App.Env.Name)
	assert.Equal(t, "fetchcored-test", cfg.App.ServiceName)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestInit_DefaultValues(t *testing.T) {
	cfg, err := Init()
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "fetchcored", cfg.App.ServiceName)
	assert.Equal(t, "v1", cfg.App.APIVersion)

	assert.True(t, cfg.AdminHTTPServer.Enabled)
	assert.Equal(t, uint(8089), cfg.AdminHTTPServer.Port)

	assert.Equal(t, 100, cfg.Pool.MaxConnectionsPerHost)
	assert.Equal(t, 5, cfg.Pool.MinConnectionsPerHost)

	assert.False(t, cfg.PersistentCache.Enabled)
	assert.Equal(t, "localhost:6379", cfg.PersistentCache.Address)
}

func TestGetEnvironment(t *testing.T) {
	cases := []struct {
		name     string
		env      string
		expected int
	}{
		{name: "production", env: "production", expected: Production},
		{name: "prod shorthand", env: "prod", expected: Production},
		{name: "staging", env: "staging", expected: Staging},
		{name: "stg shorthand", env: "stg", expected: Staging},
		{name: "sandbox", env: "sandbox", expected: Sandbox},
		{name: "sbx shorthand", env: "sbx", expected: Sandbox},
		{name: "development default", env: "development", expected: Development},
		{name: "unknown defaults to development", env: "unknown", expected: Development},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &ServiceConfig{App: App{Env: Environment{Name: tc.env}}}

			assert.Equal(t, tc.expected, cfg.GetEnvironment())
		})
	}
}

func TestIsProduction(t *testing.T) {
	cases := []struct {
		name     string
		env      string
		expected bool
	}{
		{name: "production returns true", env: "production", expected: true},
		{name: "prod returns true", env: "prod", expected: true},
		{name: "staging returns false", env: "staging", expected: false},
		{name: "development returns false", env: "development", expected: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &ServiceConfig{App: App{Env: Environment{Name: tc.env}}}

			assert.Equal(t, tc.expected, cfg.IsProduction())
		})
	}
}

func TestLoaderDumpConfigDoesNotPanic(t *testing.T) {
	cfg := &ServiceConfig{App: App{ServiceName: "fetchcored-test"}}
	l := NewLoader(cfg)

	assert.NotPanics(t, func() { l.DumpConfig() })
}

func TestLoaderWatchConfigSignalsReloadsOnSIGHUP(t *testing.T) {
	t.Setenv("APP_SERVICE_NAME", "fetchcored-reloaded")

	cfg := &ServiceConfig{App: App{ServiceName: "fetchcored-original"}}
	l := NewLoader(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := l.WatchConfigSignals(ctx)

	l.configSignalChan <- syscall.SIGHUP

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reload")
	}

	assert.Equal(t, "fetchcored-reloaded", cfg.App.ServiceName)
}
