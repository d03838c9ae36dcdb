// Package backends defines the provider backend abstraction and the typed
// registry used to dispatch requests to concrete model-serving endpoints.
//
// A Backend is an opaque capability: it accepts a normalized request and
// returns either a structured response carrying backend-measured usage units,
// or one of a closed set of typed failures (timeout, rate limited,
// unavailable, invalid request). Backends perform no retries; retry policy
// belongs to the orchestrator.
//
// The Registry maps "provider/model" identifiers to a registered backend and
// validates, at resolve time, that the provider exists, the model exists
// under that provider, and the model's capability set includes the requested
// operation. Unknown identifiers are rejected before any credit is reserved.
//
// # Registering backends
//
//	registry := backends.NewRegistry()
//	err := registry.Register("openai", backend, map[string]backends.Capabilities{
//	    "gpt-4":          {backends.OpChat, backends.OpCompletion},
//	    "dall-e-3":       {backends.OpImage},
//	})
//
//	handle, err := registry.Resolve("openai/gpt-4", backends.OpChat)
//	resp, err := handle.Backend.Invoke(ctx, req)
package backends
