package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for errors. It assumes defaults have
// been applied.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: invalid level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: invalid format %q", cfg.Logging.Format)
	}

	if cfg.Pricing.File == "" {
		return fmt.Errorf("pricing.file: pricing file path is required")
	}

	if len(cfg.Providers) == 0 {
		return fmt.Errorf("providers: at least one provider is required")
	}
	for name, provider := range cfg.Providers {
		if name == "default" {
			return fmt.Errorf("providers: %q is reserved for the pricing fallback", name)
		}
		if provider.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url: required", name)
		}
		u, err := url.Parse(provider.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("providers.%s.base_url: invalid URL %q", name, provider.BaseURL)
		}
		if provider.Timeout <= 0 {
			return fmt.Errorf("providers.%s.timeout: must be positive", name)
		}
	}

	if err := validateStoreBackend("ledger", cfg.Ledger.Backend, cfg.Ledger.Path); err != nil {
		return err
	}
	if err := validateStoreBackend("usage", cfg.Usage.Backend, cfg.Usage.Path); err != nil {
		return err
	}

	if cfg.Usage.RollupSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Usage.RollupSchedule); err != nil {
			return fmt.Errorf("usage.rollup_schedule: %w", err)
		}
	}

	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl: must not be negative")
	}
	if cfg.Cache.WaitTimeout <= 0 {
		return fmt.Errorf("cache.wait_timeout: must be positive")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts: must be at least 1")
	}
	if cfg.Retry.InitialInterval <= 0 {
		return fmt.Errorf("retry.initial_interval: must be positive")
	}
	if cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return fmt.Errorf("retry.max_interval: must be >= initial_interval")
	}

	if cfg.Estimator.CharsPerToken <= 0 {
		return fmt.Errorf("estimator.chars_per_token: must be positive")
	}

	return nil
}

func validateStoreBackend(section, backend, path string) error {
	switch backend {
	case "memory":
		return nil
	case "sqlite":
		if path == "" {
			return fmt.Errorf("%s.path: required for sqlite backend", section)
		}
		return nil
	default:
		return fmt.Errorf("%s.backend: invalid backend %q (want sqlite or memory)", section, backend)
	}
}
