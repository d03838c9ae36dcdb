package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"lumina-hq/atlas/internal/backendtest"
	"lumina-hq/atlas/pkg/backends"
	"lumina-hq/atlas/pkg/money"
)

func collect(t *testing.T, s *Stream) []*backends.Chunk {
	t.Helper()
	var chunks []*backends.Chunk
	for c := range s.Chunks {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestStreamBillsTerminalUsage(t *testing.T) {
	env := newTestEnv(t, "1.00", false)
	ctx := context.Background()

	stream, err := env.engine.ExecuteStream(ctx, "acct", "openai/gpt-4", chatRequest())
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}

	result, err := stream.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	// Terminal usage 100/50 tokens: 0.006 ceiled to 0.01.
	if !result.Cost.Equal(money.MustParse("0.01")) {
		t.Errorf("Cost = %s, want 0.01", result.Cost)
	}
	if got := balance(t, env.ledger); !got.Equal(money.MustParse("0.99")) {
		t.Errorf("balance = %s, want 0.99", got)
	}
}

func TestStreamFailureBeforeOutputReleases(t *testing.T) {
	env := newTestEnv(t, "1.00", false)
	env.backend.StreamFunc = backendtest.ChunkStream(
		&backends.Chunk{Err: errors.New("connection reset")},
	)

	stream, err := env.engine.ExecuteStream(context.Background(), "acct", "openai/gpt-4", chatRequest())
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 1 || chunks[0].Err == nil {
		t.Errorf("chunks = %v, want a single terminal error chunk", chunks)
	}
	if _, err := stream.Result(); err == nil {
		t.Error("Result error = nil, want stream failure")
	}
	if got := balance(t, env.ledger); !got.Equal(money.MustParse("1.00")) {
		t.Errorf("balance = %s, want 1.00 fully released", got)
	}
}

func TestStreamMidFailureBillsDelivered(t *testing.T) {
	env := newTestEnv(t, "1.00", false)
	env.backend.StreamFunc = backendtest.ChunkStream(
		&backends.Chunk{ID: "s", Delta: "partial output before the line dropped"},
		&backends.Chunk{Err: errors.New("connection reset")},
	)

	stream, err := env.engine.ExecuteStream(context.Background(), "acct", "openai/gpt-4", chatRequest())
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}

	chunks := collect(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want delivered chunk plus terminal error chunk", len(chunks))
	}
	if chunks[1].Err == nil {
		t.Error("terminal chunk carries no error")
	}

	// Truncation is billed for the delivered portion but still reported:
	// the settled result and the stream error arrive together.
	result, err := stream.Result()
	if err == nil {
		t.Error("Result error = nil, want the mid-stream failure")
	}
	if result == nil {
		t.Fatal("Result = nil, want settled billing for the delivered portion")
	}
	if result.Cost.IsZero() {
		t.Error("partially delivered stream billed nothing")
	}
	if balance(t, env.ledger).Equal(money.MustParse("1.00")) {
		t.Error("balance unchanged after partial delivery")
	}
}

func TestStreamClientCancelBillsDelivered(t *testing.T) {
	env := newTestEnv(t, "1.00", false)

	release := make(chan struct{})
	env.backend.StreamFunc = func(ctx context.Context, req *backends.Request) (<-chan *backends.Chunk, error) {
		out := make(chan *backends.Chunk)
		go func() {
			defer close(out)
			out <- &backends.Chunk{ID: "s", Delta: "first part of a long answer"}
			<-release
		}()
		return out, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := env.engine.ExecuteStream(ctx, "acct", "openai/gpt-4", chatRequest())
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}

	first := <-stream.Chunks
	if first == nil || first.Delta == "" {
		t.Fatal("no first chunk delivered")
	}
	cancel()
	close(release)
	collect(t, stream)

	result, err := stream.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Cost.IsZero() {
		t.Error("canceled stream with delivered output billed nothing")
	}
	if balance(t, env.ledger).Equal(money.MustParse("1.00")) {
		t.Error("balance unchanged after partial billing")
	}
}

func TestStreamOpenFailureRetriesThenReleases(t *testing.T) {
	env := newTestEnv(t, "1.00", false)
	env.backend.StreamFunc = func(ctx context.Context, req *backends.Request) (<-chan *backends.Chunk, error) {
		return nil, &backends.UnavailableError{Provider: "openai", StatusCode: 503}
	}

	_, err := env.engine.ExecuteStream(context.Background(), "acct", "openai/gpt-4", chatRequest())
	var unavailable *backends.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("ExecuteStream = %v, want UnavailableError", err)
	}
	if env.backend.Streams() != 3 {
		t.Errorf("stream attempts = %d, want 3", env.backend.Streams())
	}
	if got := balance(t, env.ledger); !got.Equal(money.MustParse("1.00")) {
		t.Errorf("balance = %s, want 1.00 released", got)
	}
}

func TestStreamNoRetryAfterPartialOutput(t *testing.T) {
	// A mid-stream failure must never re-open the stream, even though the
	// failure kind would be retryable at open time.
	env := newTestEnv(t, "1.00", false)
	env.backend.StreamFunc = backendtest.ChunkStream(
		&backends.Chunk{ID: "s", Delta: "some output"},
		&backends.Chunk{Err: &backends.UnavailableError{Provider: "openai", StatusCode: 502}},
	)

	stream, err := env.engine.ExecuteStream(context.Background(), "acct", "openai/gpt-4", chatRequest())
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	collect(t, stream)
	stream.Result()

	if env.backend.Streams() != 1 {
		t.Errorf("stream attempts = %d, want 1 (no retry after partial output)", env.backend.Streams())
	}
}

func TestStreamSendsResolvedModel(t *testing.T) {
	env := newTestEnv(t, "1.00", false)

	var seen string
	env.backend.StreamFunc = func(ctx context.Context, req *backends.Request) (<-chan *backends.Chunk, error) {
		seen = req.Model
		out := make(chan *backends.Chunk, 1)
		out <- &backends.Chunk{
			ID:           "s",
			Delta:        "ok",
			FinishReason: "stop",
			Units:        &backends.MeasuredUnits{PromptTokens: 10, CompletionTokens: 5},
		}
		close(out)
		return out, nil
	}

	req := chatRequest()
	req.Model = ""
	stream, err := env.engine.ExecuteStream(context.Background(), "acct", "openai/gpt-4", req)
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	collect(t, stream)
	if _, err := stream.Result(); err != nil {
		t.Fatalf("Result: %v", err)
	}
	if seen != "gpt-4" {
		t.Errorf("backend received model %q, want %q", seen, "gpt-4")
	}
}

func TestStreamRejectsNonStreamableOperations(t *testing.T) {
	env := newTestEnv(t, "1.00", false)

	req := &backends.Request{
		Operation: backends.OpAudioTranscribe,
		Model:     "whisper-1",
		Audio:     &backends.AudioSpec{DurationSeconds: 5},
	}
	if _, err := env.engine.ExecuteStream(context.Background(), "acct", "openai/whisper-1", req); err == nil {
		t.Error("ExecuteStream accepted a non-streamable operation")
	}
}

func TestStreamResultBlocksUntilSettled(t *testing.T) {
	env := newTestEnv(t, "1.00", false)

	stream, err := env.engine.ExecuteStream(context.Background(), "acct", "openai/gpt-4", chatRequest())
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}
	go collect(t, stream)

	done := make(chan struct{})
	go func() {
		defer close(done)
		stream.Result()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Result never unblocked")
	}
}
