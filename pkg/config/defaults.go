package config

import "time"

// ApplyDefaults fills in defaults for every unset field.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":9090"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "atlas"
	}

	if cfg.Pricing.File == "" {
		cfg.Pricing.File = "config/pricing.yaml"
	}

	for name, provider := range cfg.Providers {
		if provider.Timeout == 0 {
			provider.Timeout = 120 * time.Second
			cfg.Providers[name] = provider
		}
	}

	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "sqlite"
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "data/ledger.db"
	}

	if cfg.Usage.Backend == "" {
		cfg.Usage.Backend = "sqlite"
	}
	if cfg.Usage.Path == "" {
		cfg.Usage.Path = "data/usage.db"
	}
	if cfg.Usage.AsyncBuffer == 0 {
		cfg.Usage.AsyncBuffer = 1000
	}
	if cfg.Usage.RollupSchedule == "" {
		cfg.Usage.RollupSchedule = "15 0 * * *"
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.WaitTimeout == 0 {
		cfg.Cache.WaitTimeout = 30 * time.Second
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = 10 * time.Second
	}

	if cfg.Estimator.CharsPerToken == 0 {
		cfg.Estimator.CharsPerToken = 4.0
	}
}
