package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"lumina-hq/atlas/pkg/backends"
	"lumina-hq/atlas/pkg/money"
)

// ModelPrice is the pricing entry for a single (provider, model) pair.
//
// Only the fields relevant to the model's capabilities are set: token prices
// for text models, image base price and multipliers for image models, and a
// per-second price for transcription models.
type ModelPrice struct {
	// Provider is the provider name this entry belongs to
	Provider string

	// Model is the model identifier (may be a prefix pattern)
	Model string

	// PromptPer1K is the price per 1000 input tokens
	PromptPer1K money.Money

	// CompletionPer1K is the price per 1000 output tokens
	CompletionPer1K money.Money

	// ImageBase is the base price per generated image
	ImageBase money.Money

	// SizeMultipliers scales ImageBase by requested size (e.g. "1024x1024")
	SizeMultipliers map[string]decimal.Decimal

	// QualityMultipliers scales ImageBase by requested quality tier
	QualityMultipliers map[string]decimal.Decimal

	// AudioPerSecond is the price per second of transcribed audio
	AudioPerSecond money.Money

	// Capabilities is the set of operations this model supports
	Capabilities backends.Capabilities
}

// Table is an immutable pricing snapshot.
//
// A Table is never mutated after construction; hot reload builds a new Table
// and swaps the Loader's pointer. Lookup tries an exact model match, then a
// model prefix match (so "gpt-4" also prices "gpt-4-0613"), then the
// "default/default" entry if one is configured.
type Table struct {
	version string
	entries map[string]map[string]*ModelPrice
	fall    *ModelPrice
}

// Version returns the pricing file's declared version string.
func (t *Table) Version() string {
	return t.version
}

// Lookup resolves the pricing entry for a provider and model.
func (t *Table) Lookup(provider, model string) (*ModelPrice, error) {
	if models, ok := t.entries[provider]; ok {
		if price, ok := models[model]; ok {
			return price, nil
		}
		// Prefix match so dated model releases inherit the base price.
		var bestPattern string
		var best *ModelPrice
		for pattern, price := range models {
			if strings.HasPrefix(model, pattern) && len(pattern) > len(bestPattern) {
				bestPattern = pattern
				best = price
			}
		}
		if best != nil {
			return best, nil
		}
	}

	if t.fall != nil {
		return t.fall, nil
	}

	return nil, fmt.Errorf("no pricing for model %q under provider %q", model, provider)
}

// Providers returns the sorted provider names in the snapshot, excluding the
// "default" fallback pseudo-provider.
func (t *Table) Providers() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns the capability sets of every model priced under a provider.
// The registry is assembled from this at startup.
func (t *Table) Models(provider string) map[string]backends.Capabilities {
	models, ok := t.entries[provider]
	if !ok {
		return nil
	}
	out := make(map[string]backends.Capabilities, len(models))
	for name, price := range models {
		out[name] = price.Capabilities
	}
	return out
}

// file schema

type fileSchema struct {
	Version   string                               `yaml:"version"`
	Providers map[string]map[string]modelPriceSpec `yaml:"providers"`
}

type modelPriceSpec struct {
	PromptPer1K        money.Money                `yaml:"prompt_per_1k"`
	CompletionPer1K    money.Money                `yaml:"completion_per_1k"`
	ImageBase          money.Money                `yaml:"image_base"`
	SizeMultipliers    map[string]decimal.Decimal `yaml:"size_multipliers"`
	QualityMultipliers map[string]decimal.Decimal `yaml:"quality_multipliers"`
	AudioPerSecond     money.Money                `yaml:"audio_per_second"`
	Capabilities       []string                   `yaml:"capabilities"`
}

// ParseTable parses pricing YAML into an immutable Table.
func ParseTable(data []byte) (*Table, error) {
	var schema fileSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	if len(schema.Providers) == 0 {
		return nil, fmt.Errorf("pricing file declares no providers")
	}

	table := &Table{
		version: schema.Version,
		entries: make(map[string]map[string]*ModelPrice, len(schema.Providers)),
	}

	for provider, models := range schema.Providers {
		if len(models) == 0 {
			return nil, fmt.Errorf("provider %q declares no models", provider)
		}
		table.entries[provider] = make(map[string]*ModelPrice, len(models))

		for model, spec := range models {
			price := &ModelPrice{
				Provider:           provider,
				Model:              model,
				PromptPer1K:        spec.PromptPer1K,
				CompletionPer1K:    spec.CompletionPer1K,
				ImageBase:          spec.ImageBase,
				SizeMultipliers:    spec.SizeMultipliers,
				QualityMultipliers: spec.QualityMultipliers,
				AudioPerSecond:     spec.AudioPerSecond,
			}

			for _, raw := range spec.Capabilities {
				op, ok := backends.ParseOperation(raw)
				if !ok {
					return nil, fmt.Errorf("model %q/%q: unknown capability %q", provider, model, raw)
				}
				price.Capabilities = append(price.Capabilities, op)
			}

			if provider != "default" && len(price.Capabilities) == 0 {
				return nil, fmt.Errorf("model %q/%q declares no capabilities", provider, model)
			}
			if err := validatePrice(price); err != nil {
				return nil, err
			}

			table.entries[provider][model] = price
		}
	}

	// The "default/default" entry is the fallback for unknown models; it is
	// not a dispatchable provider.
	if models, ok := table.entries["default"]; ok {
		if fall, ok := models["default"]; ok {
			table.fall = fall
		}
		delete(table.entries, "default")
	}

	return table, nil
}

func validatePrice(p *ModelPrice) error {
	for name, amount := range map[string]money.Money{
		"prompt_per_1k":     p.PromptPer1K,
		"completion_per_1k": p.CompletionPer1K,
		"image_base":        p.ImageBase,
		"audio_per_second":  p.AudioPerSecond,
	} {
		if amount.IsNegative() {
			return fmt.Errorf("model %q/%q: %s is negative", p.Provider, p.Model, name)
		}
	}

	for _, caps := range p.Capabilities {
		switch caps {
		case backends.OpChat, backends.OpCompletion, backends.OpEmbedding:
			if p.PromptPer1K.IsZero() && p.CompletionPer1K.IsZero() {
				return fmt.Errorf("model %q/%q: capability %q requires token prices", p.Provider, p.Model, caps)
			}
		case backends.OpImage:
			if p.ImageBase.IsZero() {
				return fmt.Errorf("model %q/%q: capability image requires image_base", p.Provider, p.Model)
			}
		case backends.OpAudioTranscribe:
			if p.AudioPerSecond.IsZero() {
				return fmt.Errorf("model %q/%q: capability audio-transcribe requires audio_per_second", p.Provider, p.Model)
			}
		}
	}

	return nil
}
