package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lumina-hq/atlas/pkg/backends"
	"lumina-hq/atlas/pkg/cache"
	"lumina-hq/atlas/pkg/config"
	"lumina-hq/atlas/pkg/gateway"
	"lumina-hq/atlas/pkg/ledger"
	ledgerstore "lumina-hq/atlas/pkg/ledger/storage"
	"lumina-hq/atlas/pkg/pricing"
	"lumina-hq/atlas/pkg/server"
	"lumina-hq/atlas/pkg/telemetry/logging"
	"lumina-hq/atlas/pkg/telemetry/metrics"
	"lumina-hq/atlas/pkg/tokens"
	"lumina-hq/atlas/pkg/usage"
	usagestore "lumina-hq/atlas/pkg/usage/storage"
)

var runFlags struct {
	listenAddress string
	logLevel      string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Atlas gateway",
	Long: `Start the Atlas gateway with the specified configuration.

The gateway wires the backend registry from the pricing table and provider
configuration, opens the credit ledger and usage stores, and serves metrics
and health endpoints on the admin listener.

Examples:
  # Start with default config
  atlas run

  # Start with custom config
  atlas run --config /etc/atlas/config.yaml

  # Override the admin listen address
  atlas run --listen 0.0.0.0:9090`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override admin listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func runGateway(cmd *cobra.Command, args []string) error {
	// Pick up a local .env when present; silently fall through to the
	// process environment otherwise.
	_ = godotenv.Load()

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		AddSource:  cfg.Logging.AddSource,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	slog.Info("starting atlas gateway",
		"version", Version,
		"config", cfgFile,
	)

	// Pricing table, optionally hot-reloaded.
	loader, err := pricing.NewLoader(cfg.Pricing.File)
	if err != nil {
		return err
	}
	defer loader.Close()
	if cfg.Pricing.HotReloadEnabled() {
		if err := loader.Watch(); err != nil {
			return err
		}
	}

	// Backend registry: capabilities come from the pricing table, connection
	// settings from the provider config. A provider priced but not
	// configured (or vice versa) fails startup rather than at request time.
	registry := backends.NewRegistry()
	defer registry.Close()
	if err := registerProviders(registry, loader.Table(), cfg.Providers); err != nil {
		return err
	}

	// Credit ledger.
	ledgerStore, err := openLedgerStore(cfg.Ledger)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()
	creditLedger := ledger.New(ledgerStore)

	// Metrics.
	var m *metrics.Metrics
	if cfg.Metrics.MetricsEnabled() {
		m = metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace})
	}

	// Usage recording and rollups.
	usageStore, err := openUsageStore(cfg.Usage)
	if err != nil {
		return err
	}
	defer usageStore.Close()

	recorder := usage.NewRecorder(usageStore, &usage.RecorderConfig{
		AsyncBuffer: cfg.Usage.AsyncBuffer,
	}, m)
	defer recorder.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rollup := usage.NewRollupScheduler(usageStore, cfg.Usage.RollupSchedule)
	if err := rollup.Start(ctx); err != nil {
		return err
	}
	defer rollup.Stop()

	// Response cache.
	var respCache *cache.Cache
	if cfg.Cache.CacheEnabled() {
		respCache = cache.New(cache.Config{
			TTL:           cfg.Cache.TTL,
			WaitTimeout:   cfg.Cache.WaitTimeout,
			MaxEntries:    cfg.Cache.MaxEntries,
			SweepInterval: cfg.Cache.SweepInterval,
		})
		defer respCache.Close()
	}

	engine := gateway.New(
		gateway.Config{Retry: gateway.RetryConfig{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		}},
		registry,
		loader,
		tokens.NewSimpleEstimator(cfg.Estimator.CharsPerToken),
		creditLedger,
		recorder,
		respCache,
		m,
	)

	slog.Info("gateway initialized",
		"providers", registry.Providers(),
		"pricing_version", loader.Table().Version(),
		"cache_enabled", respCache != nil,
	)

	var metricsHandler http.Handler
	if m != nil {
		metricsHandler = m.Handler()
	}
	srv := server.New(cfg.Server, engine, creditLedger, registry, metricsHandler)
	return srv.Start(ctx)
}

// registerProviders assembles the typed dispatch table: every configured
// provider must be priced, and every priced model's capability set comes
// from the pricing file.
func registerProviders(registry *backends.Registry, table *pricing.Table, providers map[string]config.ProviderConfig) error {
	for name, providerCfg := range providers {
		models := table.Models(name)
		if len(models) == 0 {
			return fmt.Errorf("provider %q is configured but has no pricing entries", name)
		}

		backend, err := backends.NewHTTPBackend(backends.HTTPConfig{
			Name:    name,
			BaseURL: providerCfg.BaseURL,
			APIKey:  providerCfg.APIKey,
			Timeout: providerCfg.Timeout,
		})
		if err != nil {
			return err
		}

		if err := registry.Register(name, backend, models); err != nil {
			return err
		}
	}
	return nil
}

func openLedgerStore(cfg config.LedgerConfig) (ledgerstore.Store, error) {
	switch cfg.Backend {
	case "memory":
		return ledgerstore.NewMemoryStore(), nil
	default:
		return ledgerstore.NewSQLiteStore(ledgerstore.SQLiteConfig{Path: cfg.Path})
	}
}

func openUsageStore(cfg config.UsageConfig) (usagestore.Store, error) {
	switch cfg.Backend {
	case "memory":
		return usagestore.NewMemoryStore(), nil
	default:
		return usagestore.NewSQLiteStore(usagestore.SQLiteConfig{Path: cfg.Path})
	}
}
