package backends

import "context"

// Backend is the capability interface every provider backend implements.
//
// A backend is a black box to the rest of the system: it either returns a
// structured success payload with backend-measured usage units, or a typed
// failure from the taxonomy in errors.go. Backends must respect context
// cancellation and must not retry internally.
type Backend interface {
	// Name returns the backend's configured provider name.
	Name() string

	// Invoke sends a non-streaming request and returns the normalized
	// response. The returned error, if non-nil, is one of the typed
	// backend errors.
	Invoke(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a streaming request and returns a channel of chunks.
	// The channel is closed after the terminal chunk. A mid-stream failure
	// is delivered as a chunk with Err set, followed by channel close.
	//
	// Returning an error from Stream itself means no output was produced;
	// the caller may treat it like a failed Invoke.
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Health returns a snapshot of the backend's health state.
	Health() Health

	// Close releases backend resources. The backend must not be used after
	// Close returns.
	Close() error
}
