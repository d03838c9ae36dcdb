package config

import "time"

// Config is the root gateway configuration.
type Config struct {
	// Server configures the admin HTTP listener (metrics, health).
	Server ServerConfig `yaml:"server"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics"`

	// Pricing configures the pricing table file.
	Pricing PricingConfig `yaml:"pricing"`

	// Providers maps provider names to backend connection settings.
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Ledger configures the credit ledger store.
	Ledger LedgerConfig `yaml:"ledger"`

	// Usage configures usage recording and rollups.
	Usage UsageConfig `yaml:"usage"`

	// Cache configures the response cache.
	Cache CacheConfig `yaml:"cache"`

	// Retry bounds retries of transient backend failures.
	Retry RetryConfig `yaml:"retry"`

	// Estimator configures pre-call token estimation.
	Estimator EstimatorConfig `yaml:"estimator"`
}

// ServerConfig configures the admin HTTP listener.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	// Default: ":9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the HTTP read timeout.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is how long idle keep-alive connections are held open.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds the graceful shutdown drain.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format ("json" or "text").
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`

	// File, when set, sends logs to a rotated file instead of stdout.
	File string `yaml:"file"`

	// MaxSizeMB is the rotation threshold for the log file.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is how many rotated files to keep.
	MaxBackups int `yaml:"max_backups"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns the metrics endpoint on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Namespace is the metric name prefix.
	// Default: "atlas"
	Namespace string `yaml:"namespace"`
}

// MetricsEnabled reports the effective enabled flag.
func (m MetricsConfig) MetricsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// PricingConfig configures the pricing table.
type PricingConfig struct {
	// File is the pricing YAML path.
	File string `yaml:"file"`

	// HotReload watches the file and reloads on change.
	// Default: true
	HotReload *bool `yaml:"hot_reload"`
}

// HotReloadEnabled reports the effective hot-reload flag.
func (p PricingConfig) HotReloadEnabled() bool {
	return p.HotReload == nil || *p.HotReload
}

// ProviderConfig configures one upstream provider backend.
type ProviderConfig struct {
	// BaseURL is the provider's API base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the provider. Usually injected via
	// ATLAS_PROVIDER_<NAME>_API_KEY.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single backend call.
	// Default: 120s
	Timeout time.Duration `yaml:"timeout"`
}

// LedgerConfig configures the credit ledger store.
type LedgerConfig struct {
	// Backend selects the store ("sqlite" or "memory").
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite database path.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`
}

// UsageConfig configures usage recording.
type UsageConfig struct {
	// Backend selects the store ("sqlite" or "memory").
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite database path.
	// Default: "data/usage.db"
	Path string `yaml:"path"`

	// AsyncBuffer is the recorder channel size.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// RollupSchedule is the cron expression for daily rollups.
	// Empty disables scheduled rollups.
	// Default: "15 0 * * *"
	RollupSchedule string `yaml:"rollup_schedule"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// Enabled turns the response cache on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// TTL is how long entries stay valid.
	// Default: 5m
	TTL time.Duration `yaml:"ttl"`

	// WaitTimeout bounds waiting for another request's in-flight compute.
	// Default: 30s
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	// MaxEntries caps the cache size (0 = unlimited).
	// Default: 10000
	MaxEntries int `yaml:"max_entries"`

	// SweepInterval is how often expired entries are swept.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// CacheEnabled reports the effective enabled flag.
func (c CacheConfig) CacheEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RetryConfig bounds retries of transient backend failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// InitialInterval is the first retry delay.
	// Default: 500ms
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps the exponential delay growth.
	// Default: 10s
	MaxInterval time.Duration `yaml:"max_interval"`
}

// EstimatorConfig configures pre-call token estimation.
type EstimatorConfig struct {
	// CharsPerToken is the character-to-token ratio.
	// Default: 4.0
	CharsPerToken float64 `yaml:"chars_per_token"`
}
