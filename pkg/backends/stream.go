package backends

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// streamChunkWire is the OpenAI-compatible SSE chunk shape.
type streamChunkWire struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

// Stream sends a streaming chat or completion request and relays SSE chunks
// over the returned channel. Only text operations stream.
func (b *HTTPBackend) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	var (
		path string
		body any
	)

	switch req.Operation {
	case OpChat:
		messages := make([]wireMessage, len(req.Messages))
		for i, m := range req.Messages {
			messages[i] = wireMessage{Role: m.Role, Content: m.Content}
		}
		path = "/chat/completions"
		body = chatWireRequest{
			Model:       req.Model,
			Messages:    messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stream:      true,
			// Ask for final usage so settlement can use measured counts.
			StreamOptions: map[string]any{"include_usage": true},
		}
	case OpCompletion:
		path = "/completions"
		body = struct {
			Model         string         `json:"model"`
			Prompt        string         `json:"prompt"`
			MaxTokens     int            `json:"max_tokens,omitempty"`
			Temperature   float64        `json:"temperature,omitempty"`
			Stream        bool           `json:"stream"`
			StreamOptions map[string]any `json:"stream_options,omitempty"`
		}{req.Model, req.Prompt, req.MaxTokens, req.Temperature, true, map[string]any{"include_usage": true}}
	default:
		return nil, &InvalidRequestError{
			Provider: b.config.Name,
			Message:  "operation " + string(req.Operation) + " does not support streaming",
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, &InvalidRequestError{Provider: b.config.Name, Message: err.Error()}
	}

	httpResp, err := b.do(ctx, path, bytes.NewReader(encoded), "application/json")
	if err != nil {
		b.health.record(false, err)
		return nil, err
	}

	if err := b.classifyStatus(httpResp); err != nil {
		httpResp.Body.Close()
		b.health.record(false, err)
		return nil, err
	}

	out := make(chan *Chunk)
	go b.relaySSE(ctx, httpResp.Body, out)
	return out, nil
}

// relaySSE reads SSE lines from the response body, converts them to chunks,
// and closes the channel after the terminal event.
func (b *HTTPBackend) relaySSE(ctx context.Context, body io.ReadCloser, out chan<- *Chunk) {
	defer close(out)
	defer body.Close()

	var failed error
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var wire streamChunkWire
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			failed = &UnavailableError{Provider: b.config.Name, Cause: err}
			break
		}

		chunk := &Chunk{ID: wire.ID, Model: wire.Model}
		if len(wire.Choices) > 0 {
			choice := wire.Choices[0]
			chunk.Delta = choice.Delta.Content
			if chunk.Delta == "" {
				chunk.Delta = choice.Text
			}
			chunk.FinishReason = choice.FinishReason
		}
		if wire.Usage != nil {
			chunk.Units = &MeasuredUnits{
				PromptTokens:     wire.Usage.PromptTokens,
				CompletionTokens: wire.Usage.CompletionTokens,
			}
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}

	if failed == nil {
		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			failed = &UnavailableError{Provider: b.config.Name, Cause: err}
		}
	}

	b.health.record(failed == nil, failed)

	if failed != nil {
		select {
		case out <- &Chunk{Err: failed}:
		case <-ctx.Done():
		}
	}
}
