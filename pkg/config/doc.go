// Package config defines the gateway's YAML configuration: providers,
// pricing, ledger and usage storage, cache, retry and observability
// settings.
//
// Loading applies defaults, then optional ATLAS_SECTION_FIELD environment
// overrides, then validation. Secrets like provider API keys are normally
// injected through the environment rather than the file.
package config
