package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lumina-hq/atlas/pkg/config"
	"lumina-hq/atlas/pkg/pricing"
)

var validateFlags struct {
	pricingOnly bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and pricing",
	Long: `Validate the configuration file and the pricing table without starting
the gateway.

The validate command checks:
  - Configuration file syntax, defaults and cross-field constraints
  - Environment variable overrides (same rules as run)
  - Pricing table syntax, amounts and capability declarations

Examples:
  # Validate the default config
  atlas validate

  # Validate a specific config
  atlas validate --config /etc/atlas/config.yaml

  # Validate only the pricing table referenced by the config
  atlas validate --pricing-only`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.pricingOnly, "pricing-only", false, "skip config checks, validate the pricing table only")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !validateFlags.pricingOnly {
		fmt.Printf("config OK: %s\n", cfgFile)
	}

	data, err := os.ReadFile(cfg.Pricing.File)
	if err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	table, err := pricing.ParseTable(data)
	if err != nil {
		return fmt.Errorf("pricing: %w", err)
	}

	models := 0
	for _, provider := range table.Providers() {
		models += len(table.Models(provider))
	}
	fmt.Printf("pricing OK: %s (version %s, %d providers, %d models)\n",
		cfg.Pricing.File, table.Version(), len(table.Providers()), models)

	// Cross-check: every configured provider must have pricing entries.
	for name := range cfg.Providers {
		if len(table.Models(name)) == 0 {
			return fmt.Errorf("provider %q is configured but has no pricing entries", name)
		}
	}
	fmt.Println("providers OK: all configured providers are priced")

	return nil
}
