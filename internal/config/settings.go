package config

import (
	"fmt"
	"time"
)

// Compile time variables are set by -ldflags.
var (
	ServiceVersion string
	CommitSHA      string
)

const (
	Development = 1 << iota
	Sandbox
	Staging
	Production
)

type (
	ServiceConfig struct {
		App                   App                   `json:"app"`
		AdminHTTPServer       AdminHTTPServer        `json:"admin_http_server"`
		AdminGRPCServer       AdminGRPCServer        `json:"admin_grpc_server"`
		Scheduler             Scheduler              `json:"scheduler"`
		Timeouts              Timeouts               `json:"timeouts"`
		Pool                  Pool                   `json:"pool"`
		TLS                   TLS                    `json:"tls"`
		RateLimit             RateLimit              `json:"rate_limit"`
		Breaker               Breaker                `json:"breaker"`
		Backoff               Backoff                `json:"backoff"`
		Cache                 Cache                  `json:"cache"`
		PersistentCache       PersistentCache        `json:"persistent_cache"`
		ThrottledRateLimiting ThrottledRateLimiting  `json:"throttled_rate_limiting"`
		Idempotency           Idempotency            `json:"idempotency"`
		Security              Security               `json:"security"`
		Compression           Compression            `json:"compression"`
		Logging               Logging                `json:"logging"`
		Telemetry             Telemetry              `json:"telemetry"`
	}

	App struct {
		ServiceName string      `envconfig:"APP_SERVICE_NAME" default:"fetchcored" json:"service_name"`
		APIVersion  string      `envconfig:"APP_API_VERSION" default:"v1" json:"api_version"`
		Env         Environment `json:"environment"`
	}

	Environment struct {
		Name string `envconfig:"APP_ENVIRONMENT" default:"development" json:"env"`
	}

	// AdminHTTPServer serves the liveness, readiness and health probes
	// and the /v1/rpc JSON-RPC endpoint over plain HTTP; cache://stats,
	// metrics://performance, and config://current are read through
	// /v1/rpc.
	AdminHTTPServer struct {
		Enabled         bool          `envconfig:"ADMIN_HTTP_SERVER_ENABLED" default:"true" json:"enabled"`
		Host            string        `envconfig:"ADMIN_HTTP_SERVER_HOST" default:"127.0.0.1" json:"host"`
		Port            uint          `envconfig:"ADMIN_HTTP_SERVER_PORT" default:"8089" json:"port"`
		ReadTimeout     time.Duration `envconfig:"ADMIN_HTTP_READ_TIMEOUT" default:"15s" json:"read_timeout"`
		WriteTimeout    time.Duration `envconfig:"ADMIN_HTTP_WRITE_TIMEOUT" default:"15s" json:"write_timeout"`
		IdleTimeout     time.Duration `envconfig:"ADMIN_HTTP_IDLE_TIMEOUT" default:"60s" json:"idle_timeout"`
		ShutdownTimeout time.Duration `envconfig:"ADMIN_HTTP_SHUTDOWN_TIMEOUT" default:"30s" json:"shutdown_timeout"`
	}

	// AdminGRPCServer exposes check_status via grpc health/reflection
	// for operators who prefer a non-JSON-RPC surface.
	AdminGRPCServer struct {
		Enabled bool   `envconfig:"ADMIN_GRPC_SERVER_ENABLED" default:"false" json:"enabled"`
		Host    string `envconfig:"ADMIN_GRPC_SERVER_HOST" default:"127.0.0.1" json:"host"`
		Port    uint   `envconfig:"ADMIN_GRPC_SERVER_PORT" default:"9090" json:"port"`
	}

	Scheduler struct {
		MaxConcurrentRequests int   `envconfig:"MAX_CONCURRENT_REQUESTS" default:"10000" json:"max_concurrent_requests"`
		MaxQueueLength        int64 `envconfig:"SCHEDULER_MAX_QUEUE_LENGTH" default:"100000" json:"max_queue_length"`
	}

	Timeouts struct {
		RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s" json:"request_timeout"`
		ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s" json:"connect_timeout"`
		ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"30s" json:"read_timeout"`
		WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s" json:"write_timeout"`
	}

	Pool struct {
		MaxIdlePerHost        int           `envconfig:"POOL_MAX_IDLE_PER_HOST" default:"10" json:"max_idle_per_host"`
		MaxConnectionsPerHost int           `envconfig:"POOL_MAX_CONNECTIONS_PER_HOST" default:"100" json:"max_connections_per_host"`
		MinConnectionsPerHost int           `envconfig:"POOL_MIN_CONNECTIONS_PER_HOST" default:"5" json:"min_connections_per_host"`
		IdleTimeout           time.Duration `envconfig:"POOL_IDLE_TIMEOUT" default:"90s" json:"idle_timeout"`
		ReapInterval          time.Duration `envconfig:"POOL_REAP_INTERVAL" default:"30s" json:"reap_interval"`
	}

	TLS struct {
		MinVersion string `envconfig:"TLS_MIN_VERSION" default:"1.2" json:"min_version"`
		MaxVersion string `envconfig:"TLS_MAX_VERSION" default:"1.3" json:"max_version"`
	}

	RateLimit struct {
		GlobalRate         float64       `envconfig:"RATE_LIMIT_GLOBAL_RATE" default:"1000" json:"global_rate"`
		GlobalBurst        int           `envconfig:"RATE_LIMIT_GLOBAL_BURST" default:"1000" json:"global_burst"`
		PerHostRate        float64       `envconfig:"RATE_LIMIT_PER_HOST_RATE" default:"10" json:"per_host_rate"`
		PerHostBurst       int           `envconfig:"RATE_LIMIT_PER_HOST_BURST" default:"10" json:"per_host_burst"`
		PerHostRateMin     float64       `envconfig:"RATE_LIMIT_PER_HOST_RATE_MIN" default:"1" json:"per_host_rate_min"`
		PerHostRateMax     float64       `envconfig:"RATE_LIMIT_PER_HOST_RATE_MAX" default:"200" json:"per_host_rate_max"`
		AdaptationInterval time.Duration `envconfig:"RATE_LIMIT_ADAPTATION_INTERVAL" default:"30s" json:"adaptation_interval"`
		ErrorLow           float64       `envconfig:"RATE_LIMIT_ERROR_LOW" default:"0.01" json:"error_low"`
		ErrorHigh          float64       `envconfig:"RATE_LIMIT_ERROR_HIGH" default:"0.05" json:"error_high"`
		UpFactor           float64       `envconfig:"RATE_LIMIT_UP_FACTOR" default:"1.1" json:"up_factor"`
		DownFactor         float64       `envconfig:"RATE_LIMIT_DOWN_FACTOR" default:"0.9" json:"down_factor"`
	}

	Breaker struct {
		MinRequestThreshold int           `envconfig:"BREAKER_MIN_REQUEST_THRESHOLD" default:"10" json:"min_request_threshold"`
		FailureThreshold    int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5" json:"failure_threshold"`
		ErrorRateThreshold  float64       `envconfig:"BREAKER_ERROR_RATE_THRESHOLD" default:"0.5" json:"error_rate_threshold"`
		Timeout             time.Duration `envconfig:"BREAKER_TIMEOUT" default:"5s" json:"timeout"`
		MaxTimeout          time.Duration `envconfig:"BREAKER_MAX_TIMEOUT" default:"2m" json:"max_timeout"`
		HalfOpenMaxCalls    int           `envconfig:"BREAKER_HALF_OPEN_MAX_CALLS" default:"1" json:"half_open_max_calls"`
		SuccessThreshold    int           `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2" json:"success_threshold"`
		SmoothingFactor     float64       `envconfig:"BREAKER_SMOOTHING_FACTOR" default:"0.1" json:"smoothing_factor"`
	}

	Backoff struct {
		BaseDelay  time.Duration `envconfig:"BACKOFF_BASE_DELAY" default:"1s" json:"base_delay"`
		Multiplier float64       `envconfig:"BACKOFF_MULTIPLIER" default:"1.5" json:"multiplier"`
		Jitter     float64       `envconfig:"BACKOFF_JITTER" default:"0.3" json:"jitter"`
		MaxDelay   time.Duration `envconfig:"BACKOFF_MAX_DELAY" default:"10s" json:"max_delay"`
		MaxRetries uint          `envconfig:"BACKOFF_MAX_RETRIES" default:"3" json:"max_retries"`
	}

	// Cache sizes and bounds the in-memory ARC.
	Cache struct {
		MaxMemorySize int64         `envconfig:"CACHE_MAX_MEMORY_SIZE" default:"10000" json:"max_memory_size"`
		DefaultTTL    time.Duration `envconfig:"CACHE_DEFAULT_TTL" default:"3600s" json:"default_ttl"`
		MaxEntrySize  int64         `envconfig:"CACHE_MAX_ENTRY_SIZE" default:"5242880" json:"max_entry_size"`
	}

	// PersistentCache is the external key-value backend from §6 that
	// overflows CacheEntry payloads beyond in-memory capacity.
	PersistentCache struct {
		Enabled      bool          `envconfig:"PERSISTENT_CACHE_ENABLED" default:"false" json:"enabled"`
		Address      string        `envconfig:"PERSISTENT_CACHE_ADDRESS" default:"localhost:6379" json:"address"`
		Password     string        `envconfig:"PERSISTENT_CACHE_PASSWORD" default:"" json:"password,omitempty"`
		DB           uint          `envconfig:"PERSISTENT_CACHE_DB" default:"0" json:"db"`
		PoolSize     uint          `envconfig:"PERSISTENT_CACHE_POOL_SIZE" default:"10" json:"pool_size"`
		MinIdleConns uint          `envconfig:"PERSISTENT_CACHE_MIN_IDLE_CONNS" default:"3" json:"min_idle_conns"`
		DialTimeout  time.Duration `envconfig:"PERSISTENT_CACHE_DIAL_TIMEOUT" default:"5s" json:"dial_timeout"`
		ReadTimeout  time.Duration `envconfig:"PERSISTENT_CACHE_READ_TIMEOUT" default:"3s" json:"read_timeout"`
		WriteTimeout time.Duration `envconfig:"PERSISTENT_CACHE_WRITE_TIMEOUT" default:"3s" json:"write_timeout"`
		PoolTimeout  time.Duration `envconfig:"PERSISTENT_CACHE_POOL_TIMEOUT" default:"5s" json:"pool_timeout"`
		MaxRetries   uint          `envconfig:"PERSISTENT_CACHE_MAX_RETRIES" default:"3" json:"max_retries"`
		// BreakerFailureThreshold trips a small circuit breaker around
		// the backend so a struggling Redis degrades to treating every
		// lookup as a miss instead of adding latency to every request.
		BreakerFailureThreshold uint          `envconfig:"PERSISTENT_CACHE_BREAKER_FAILURE_THRESHOLD" default:"5" json:"breaker_failure_threshold"`
		BreakerTimeout          time.Duration `envconfig:"PERSISTENT_CACHE_BREAKER_TIMEOUT" default:"30s" json:"breaker_timeout"`
	}

	// ThrottledRateLimiting is the coarse, pre-scheduler admission-layer
	// guard — distinct from the adaptive per-host buckets in RateLimit.
	ThrottledRateLimiting struct {
		Enabled           bool          `envconfig:"THROTTLED_RATE_LIMITING_ENABLED" default:"true" json:"enabled"`
		RequestsPerSecond uint          `envconfig:"THROTTLED_RATE_LIMITING_REQUESTS_PER_SECOND" default:"50" json:"requests_per_second"`
		BurstSize         uint          `envconfig:"THROTTLED_RATE_LIMITING_BURST_SIZE" default:"100" json:"burst_size"`
		CleanupInterval   time.Duration `envconfig:"THROTTLED_RATE_LIMITING_CLEANUP_INTERVAL" default:"1m" json:"cleanup_interval"`
		MaxKeys           uint          `envconfig:"THROTTLED_RATE_LIMITING_MAX_KEYS" default:"10000" json:"max_keys"`
		GracefulDegraded  bool          `envconfig:"THROTTLED_RATE_LIMITING_GRACEFUL_DEGRADED" default:"true" json:"graceful_degraded"`
	}

	// Idempotency guards caller-retried fetch_batch invocations from
	// double-counting side effects; distinct from fingerprint dedup.
	Idempotency struct {
		Enabled          bool          `envconfig:"IDEMPOTENCY_ENABLED" default:"true" json:"enabled"`
		CacheTTL         time.Duration `envconfig:"IDEMPOTENCY_CACHE_TTL" default:"24h" json:"cache_ttl"`
		LockTTL          time.Duration `envconfig:"IDEMPOTENCY_LOCK_TTL" default:"30s" json:"lock_ttl"`
		HeaderName       string        `envconfig:"IDEMPOTENCY_HEADER" default:"Idempotency-Key" json:"header_name"`
		ReplayedHeader   string        `envconfig:"IDEMPOTENCY_REPLAYED_HEADER" default:"Idempotency-Replayed" json:"replayed_header"`
		RequiredMethods  []string      `envconfig:"IDEMPOTENCY_REQUIRED_METHODS" default:"POST" json:"required_methods"`
		GracefulDegraded bool          `envconfig:"IDEMPOTENCY_GRACEFUL_DEGRADED" default:"true" json:"graceful_degraded"`
	}

	Security struct {
		AllowedSchemes  []string `envconfig:"SECURITY_ALLOWED_SCHEMES" default:"http,https" json:"allowed_schemes"`
		BlockedHosts    []string `envconfig:"SECURITY_BLOCKED_HOSTS" default:"" json:"blocked_hosts"`
		AllowedHosts    []string `envconfig:"SECURITY_ALLOWED_HOSTS" default:"" json:"allowed_hosts"`
		AllowPrivateIPs bool     `envconfig:"SECURITY_ALLOW_PRIVATE_IPS" default:"false" json:"allow_private_ips"`
		MaxURLLength    int      `envconfig:"SECURITY_MAX_URL_LENGTH" default:"8192" json:"max_url_length"`
		MaxBodySize     int64    `envconfig:"SECURITY_MAX_BODY_SIZE" default:"10485760" json:"max_body_size"`
	}

	// Compression holds the configuration for admin HTTP response
	// compression middleware.
	Compression struct {
		Enabled          bool     `envconfig:"COMPRESSION_ENABLED" default:"true" json:"enabled"`
		Level            int      `envconfig:"COMPRESSION_LEVEL" default:"5" json:"level"`
		MinSize          int      `envconfig:"COMPRESSION_MIN_SIZE" default:"1024" json:"min_size"`
		ContentTypes     []string `envconfig:"COMPRESSION_CONTENT_TYPES" json:"content_types"`
		SkipPaths        []string `envconfig:"COMPRESSION_SKIP_PATHS" default:"/v1/health,/v1/liveness,/v1/readiness" json:"skip_paths"`
		GracefulDegraded bool     `envconfig:"COMPRESSION_GRACEFUL_DEGRADED" default:"true" json:"graceful_degraded"`
	}

	Logging struct {
		Level     string    `envconfig:"LOG_LEVEL" default:"info" json:"level"`
		Format    string    `envconfig:"LOG_FORMAT" default:"json" json:"format"`
		AccessLog AccessLog `json:"access_log"`
	}

	AccessLog struct {
		Enabled            bool `envconfig:"ACCESS_LOG_ENABLED" default:"true" json:"enabled"`
		LogHealthChecks    bool `envconfig:"ACCESS_LOG_HEALTH_CHECKS" default:"false" json:"log_health_checks"`
		IncludeQueryParams bool `envconfig:"ACCESS_LOG_INCLUDE_QUERY_PARAMS" default:"true" json:"include_query_params"`
	}

	Telemetry struct {
		Enabled      bool   `envconfig:"OTEL_ENABLED" default:"false" json:"enabled"`
		ExporterType string `envconfig:"OTEL_EXPORTER" default:"grpc" json:"exporter_type"`

		OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"" json:"otlp_endpoint"`

		OtelGRPCHost string `envconfig:"OTEL_HOST" json:"otel_grpc_host"`
		OtelGRPCPort string `envconfig:"OTEL_PORT" default:"4317" json:"otel_grpc_port"`

		Metrics Metrics `json:"metrics"`
		Traces  Traces  `json:"traces"`
	}

	Metrics struct {
		Enabled bool `envconfig:"METRICS_ENABLED" default:"false" json:"enabled"`
	}

	Traces struct {
		Enabled      bool    `envconfig:"TRACES_ENABLED" default:"false" json:"enabled"`
		SamplerRatio float64 `envconfig:"TRACES_SAMPLER_RATIO" default:"1.0" json:"sampler_ratio"`
	}
)

func (c *ServiceConfig) GetEnvironment() int {
	switch c.App.Env.Name {
	case "production", "prod":
		return Production
	case "staging", "stg":
		return Staging
	case "sandbox", "sbx":
		return Sandbox
	default:
		return Development
	}
}

func (c *ServiceConfig) IsProduction() bool {
	return c.GetEnvironment() == Production
}

// Validate validates the Compression configuration.
func (c *Compression) Validate() error {
	if c.Level < 1 || c.Level > 9 {
		return fmt.Errorf("compression level must be between 1 and 9, got %d", c.Level)
	}

	if c.MinSize < 0 {
		return fmt.Errorf("compression min_size must be non-negative, got %d", c.MinSize)
	}

	return nil
}

// Validate checks the rate limit MIMD bounds are sane.
func (c *RateLimit) Validate() error {
	if c.PerHostRateMin > c.PerHostRateMax {
		return fmt.Errorf("rate_limit.per_host_rate_min (%v) must be <= per_host_rate_max (%v)", c.PerHostRateMin, c.PerHostRateMax)
	}

	if c.ErrorLow >= c.ErrorHigh {
		return fmt.Errorf("rate_limit.error_low (%v) must be < error_high (%v)", c.ErrorLow, c.ErrorHigh)
	}

	return nil
}
