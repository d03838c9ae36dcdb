// Package backendtest provides a scriptable mock backend for tests.
package backendtest

import (
	"context"
	"sync"
	"time"

	"lumina-hq/atlas/pkg/backends"
)

// MockBackend is a scriptable backends.Backend implementation.
// Set InvokeFunc / StreamFunc to control behavior; invocation counts are
// tracked for asserting exactly-once semantics.
type MockBackend struct {
	ProviderName string

	// InvokeFunc handles Invoke calls. Defaults to a fixed success response.
	InvokeFunc func(ctx context.Context, req *backends.Request) (*backends.Response, error)

	// StreamFunc handles Stream calls. Defaults to a two-chunk stream.
	StreamFunc func(ctx context.Context, req *backends.Request) (<-chan *backends.Chunk, error)

	mu          sync.Mutex
	invocations int
	streams     int
}

// New creates a mock backend with default success behavior.
func New(name string) *MockBackend {
	return &MockBackend{ProviderName: name}
}

// Name returns the mock's provider name.
func (m *MockBackend) Name() string { return m.ProviderName }

// Invoke dispatches to InvokeFunc, counting the call.
func (m *MockBackend) Invoke(ctx context.Context, req *backends.Request) (*backends.Response, error) {
	m.mu.Lock()
	m.invocations++
	m.mu.Unlock()

	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}
	return &backends.Response{
		ID:      "mock-response",
		Model:   req.Model,
		Content: "mock content",
		Units: backends.MeasuredUnits{
			PromptTokens:     100,
			CompletionTokens: 50,
		},
		Created: time.Now().Unix(),
	}, nil
}

// Stream dispatches to StreamFunc, counting the call.
func (m *MockBackend) Stream(ctx context.Context, req *backends.Request) (<-chan *backends.Chunk, error) {
	m.mu.Lock()
	m.streams++
	m.mu.Unlock()

	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}

	out := make(chan *backends.Chunk, 3)
	out <- &backends.Chunk{ID: "mock-stream", Model: req.Model, Delta: "hello "}
	out <- &backends.Chunk{
		ID:           "mock-stream",
		Model:        req.Model,
		Delta:        "world",
		FinishReason: "stop",
		Units:        &backends.MeasuredUnits{PromptTokens: 100, CompletionTokens: 50},
	}
	close(out)
	return out, nil
}

// Health reports the mock as always healthy.
func (m *MockBackend) Health() backends.Health {
	return backends.Health{Healthy: true, LastCheck: time.Now()}
}

// Close is a no-op.
func (m *MockBackend) Close() error { return nil }

// Invocations returns the number of Invoke calls observed.
func (m *MockBackend) Invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invocations
}

// Streams returns the number of Stream calls observed.
func (m *MockBackend) Streams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams
}

// ChunkStream builds a StreamFunc that replays the given chunks.
func ChunkStream(chunks ...*backends.Chunk) func(context.Context, *backends.Request) (<-chan *backends.Chunk, error) {
	return func(ctx context.Context, req *backends.Request) (<-chan *backends.Chunk, error) {
		out := make(chan *backends.Chunk)
		go func() {
			defer close(out)
			for _, c := range chunks {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}
}
