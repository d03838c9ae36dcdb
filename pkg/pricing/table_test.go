package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"lumina-hq/atlas/pkg/backends"
)

const testPricingYAML = `
version: "2026-08"
providers:
  openai:
    gpt-4:
      prompt_per_1k: 0.03
      completion_per_1k: 0.06
      capabilities: [chat, completion]
    text-embedding-3-small:
      prompt_per_1k: 0.00002
      capabilities: [embedding]
    dall-e-3:
      image_base: 0.04
      size_multipliers:
        "1024x1024": 1
        "1792x1024": 2
      quality_multipliers:
        standard: 1
        hd: 2
      capabilities: [image]
    whisper-1:
      audio_per_second: 0.0001
      capabilities: [audio-transcribe]
  default:
    default:
      prompt_per_1k: 0.001
      completion_per_1k: 0.002
`

func parseTestTable(t *testing.T) *Table {
	t.Helper()
	table, err := ParseTable([]byte(testPricingYAML))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	return table
}

func TestParseTable(t *testing.T) {
	table := parseTestTable(t)

	if table.Version() != "2026-08" {
		t.Errorf("Version() = %q, want 2026-08", table.Version())
	}

	providers := table.Providers()
	if len(providers) != 1 || providers[0] != "openai" {
		t.Errorf("Providers() = %v, want [openai] (default is not dispatchable)", providers)
	}

	models := table.Models("openai")
	if len(models) != 4 {
		t.Errorf("Models(openai) has %d entries, want 4", len(models))
	}
	if !models["dall-e-3"].Supports(backends.OpImage) {
		t.Error("dall-e-3 should support image")
	}
}

func TestParseTableErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty file", yaml: ""},
		{name: "unknown capability", yaml: `
providers:
  p:
    m:
      prompt_per_1k: 0.01
      capabilities: [video]
`},
		{name: "no capabilities", yaml: `
providers:
  p:
    m:
      prompt_per_1k: 0.01
`},
		{name: "negative price", yaml: `
providers:
  p:
    m:
      prompt_per_1k: -0.01
      capabilities: [chat]
`},
		{name: "image without base price", yaml: `
providers:
  p:
    m:
      prompt_per_1k: 0.01
      capabilities: [image]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTable([]byte(tt.yaml)); err == nil {
				t.Error("expected parse error, got none")
			}
		})
	}
}

func TestTableLookup(t *testing.T) {
	table := parseTestTable(t)

	tests := []struct {
		name      string
		provider  string
		model     string
		wantModel string // the pattern entry the lookup resolves to
	}{
		{name: "exact match", provider: "openai", model: "gpt-4", wantModel: "gpt-4"},
		{name: "prefix match", provider: "openai", model: "gpt-4-0613", wantModel: "gpt-4"},
		{name: "unknown model falls back to default", provider: "openai", model: "gpt-99", wantModel: "default"},
		{name: "unknown provider falls back to default", provider: "mystery", model: "m", wantModel: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := table.Lookup(tt.provider, tt.model)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if price.Model != tt.wantModel {
				t.Errorf("resolved to entry %q, want %q", price.Model, tt.wantModel)
			}
		})
	}
}

func TestTableLookupNoFallback(t *testing.T) {
	table, err := ParseTable([]byte(`
providers:
  p:
    m:
      prompt_per_1k: 0.01
      capabilities: [chat]
`))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}

	if _, err := table.Lookup("p", "unknown"); err == nil {
		t.Error("expected lookup error without default entry, got none")
	}
}

func TestLoaderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	if err := os.WriteFile(path, []byte(testPricingYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer loader.Close()

	if loader.Table().Version() != "2026-08" {
		t.Fatalf("initial version = %q", loader.Table().Version())
	}
	before := loader.Table()

	// A corrupt rewrite must keep the previous snapshot active.
	if err := os.WriteFile(path, []byte("providers: {}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := loader.Reload(); err == nil {
		t.Error("expected reload error for corrupt file")
	}
	if loader.Table() != before {
		t.Error("corrupt reload replaced the active snapshot")
	}

	// A valid rewrite swaps the snapshot.
	updated := `
version: "2026-09"
providers:
  openai:
    gpt-4:
      prompt_per_1k: 0.02
      completion_per_1k: 0.04
      capabilities: [chat]
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if loader.Table().Version() != "2026-09" {
		t.Errorf("version after reload = %q, want 2026-09", loader.Table().Version())
	}
	// The old snapshot stays intact for requests still holding it.
	if before.Version() != "2026-08" {
		t.Error("previous snapshot was mutated by reload")
	}
}
