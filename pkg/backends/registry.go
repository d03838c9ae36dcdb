package backends

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Handle is the result of resolving a "provider/model" identifier.
// It carries everything the orchestrator needs to invoke the backend.
type Handle struct {
	// Provider is the resolved provider name
	Provider string

	// Model is the resolved model identifier
	Model string

	// Backend is the callable backend capability
	Backend Backend
}

// ID returns the canonical "provider/model" identifier.
func (h *Handle) ID() string {
	return h.Provider + "/" + h.Model
}

// Registry maps provider names to backends and their model capability sets.
//
// The table is built at startup from configuration and is effectively
// read-only during request processing; registration after startup is
// permitted but rare (tests, dynamic provisioning).
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registration
	logger    *slog.Logger
}

type registration struct {
	backend Backend
	models  map[string]Capabilities
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*registration),
		logger:    slog.Default().With("component", "backends.registry"),
	}
}

// Register adds a backend under the given provider name together with the
// models it serves and each model's capability set.
//
// Registering the same provider twice is an error; the registry is a typed
// table assembled once at startup, not a mutable routing surface.
func (r *Registry) Register(provider string, backend Backend, models map[string]Capabilities) error {
	if provider == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if backend == nil {
		return fmt.Errorf("backend cannot be nil for provider %q", provider)
	}
	if len(models) == 0 {
		return fmt.Errorf("provider %q must declare at least one model", provider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[provider]; exists {
		return fmt.Errorf("provider %q already registered", provider)
	}

	copied := make(map[string]Capabilities, len(models))
	for model, caps := range models {
		if model == "" {
			return fmt.Errorf("provider %q declares an empty model name", provider)
		}
		if len(caps) == 0 {
			return fmt.Errorf("model %q/%q declares no capabilities", provider, model)
		}
		copied[model] = append(Capabilities(nil), caps...)
	}

	r.providers[provider] = &registration{
		backend: backend,
		models:  copied,
	}

	r.logger.Info("backend registered",
		"provider", provider,
		"models", len(copied),
	)

	return nil
}

// Resolve maps a "provider/model" identifier and an operation to a backend
// handle. It fails with a typed error if the provider is unknown, the model
// is not served by that provider, or the model does not support the
// operation. All three are rejected before any credit is reserved.
func (r *Registry) Resolve(identifier string, op Operation) (*Handle, error) {
	provider, model, ok := splitIdentifier(identifier)
	if !ok {
		return nil, &ProviderNotFoundError{Provider: identifier}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.providers[provider]
	if !ok {
		return nil, &ProviderNotFoundError{Provider: provider}
	}

	caps, ok := reg.models[model]
	if !ok {
		return nil, &ModelNotFoundError{Provider: provider, Model: model}
	}

	if !caps.Supports(op) {
		return nil, &UnsupportedOperationError{
			Provider:  provider,
			Model:     model,
			Operation: op,
		}
	}

	return &Handle{
		Provider: provider,
		Model:    model,
		Backend:  reg.backend,
	}, nil
}

// Providers returns the sorted list of registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns the sorted list of model identifiers served by a provider.
// Returns nil if the provider is unknown.
func (r *Registry) Models(provider string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.providers[provider]
	if !ok {
		return nil
	}

	models := make([]string, 0, len(reg.models))
	for model := range reg.models {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// HealthSnapshots returns the current health state of every registered
// backend, keyed by provider name.
func (r *Registry) HealthSnapshots() map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make(map[string]Health, len(r.providers))
	for name, reg := range r.providers {
		snapshots[name] = reg.backend.Health()
	}
	return snapshots
}

// Close closes all registered backends and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for provider, reg := range r.providers {
		if err := reg.backend.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing backend %q: %w", provider, err)
		}
	}
	r.providers = make(map[string]*registration)
	return firstErr
}

// splitIdentifier splits "provider/model" on the first slash. Model names
// may themselves contain slashes (e.g. "org/model" style identifiers).
func splitIdentifier(identifier string) (provider, model string, ok bool) {
	idx := strings.Index(identifier, "/")
	if idx <= 0 || idx == len(identifier)-1 {
		return "", "", false
	}
	return identifier[:idx], identifier[idx+1:], true
}
