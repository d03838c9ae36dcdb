package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file, applies defaults, and
// validates. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies ATLAS_SECTION_FIELD environment overrides on top. Environment
// variables always win over file values.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString("ATLAS_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setDuration("ATLAS_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("ATLAS_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	setString("ATLAS_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("ATLAS_LOGGING_FORMAT", &cfg.Logging.Format)
	setString("ATLAS_LOGGING_FILE", &cfg.Logging.File)

	setString("ATLAS_PRICING_FILE", &cfg.Pricing.File)

	setString("ATLAS_LEDGER_BACKEND", &cfg.Ledger.Backend)
	setString("ATLAS_LEDGER_PATH", &cfg.Ledger.Path)

	setString("ATLAS_USAGE_BACKEND", &cfg.Usage.Backend)
	setString("ATLAS_USAGE_PATH", &cfg.Usage.Path)
	setInt("ATLAS_USAGE_ASYNC_BUFFER", &cfg.Usage.AsyncBuffer)
	setString("ATLAS_USAGE_ROLLUP_SCHEDULE", &cfg.Usage.RollupSchedule)

	setDuration("ATLAS_CACHE_TTL", &cfg.Cache.TTL)
	setDuration("ATLAS_CACHE_WAIT_TIMEOUT", &cfg.Cache.WaitTimeout)
	setInt("ATLAS_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	if val := os.Getenv("ATLAS_CACHE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Cache.Enabled = &b
		}
	}

	setInt("ATLAS_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	setDuration("ATLAS_RETRY_INITIAL_INTERVAL", &cfg.Retry.InitialInterval)
	setDuration("ATLAS_RETRY_MAX_INTERVAL", &cfg.Retry.MaxInterval)

	// Provider secrets: ATLAS_PROVIDER_<NAME>_API_KEY and _BASE_URL, with
	// the provider name uppercased and dashes mapped to underscores.
	for name, provider := range cfg.Providers {
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		changed := false
		if val := os.Getenv("ATLAS_PROVIDER_" + envName + "_API_KEY"); val != "" {
			provider.APIKey = val
			changed = true
		}
		if val := os.Getenv("ATLAS_PROVIDER_" + envName + "_BASE_URL"); val != "" {
			provider.BaseURL = val
			changed = true
		}
		if changed {
			cfg.Providers[name] = provider
		}
	}
}

func setString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
