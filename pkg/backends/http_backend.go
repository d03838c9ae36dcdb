package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// HTTPConfig contains configuration for an HTTP backend.
type HTTPConfig struct {
	// Name is the provider identifier this backend is registered under
	Name string

	// BaseURL is the API endpoint base URL (e.g. "https://api.openai.com/v1")
	BaseURL string

	// APIKey is the bearer token sent to the endpoint. Optional for local
	// OpenAI-compatible servers.
	APIKey string

	// Timeout is the per-request timeout
	Timeout time.Duration

	// MaxIdleConns is the connection pool size
	MaxIdleConns int

	// MaxIdleConnsPerHost is the per-host connection pool size
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept
	IdleConnTimeout time.Duration
}

// HTTPBackend is a generic adapter for OpenAI-compatible HTTP endpoints
// (OpenAI itself, Ollama, vLLM, LM Studio, and similar servers).
//
// It performs exactly one attempt per call and maps transport and HTTP
// failures onto the typed backend error taxonomy. Retry policy lives in the
// orchestrator.
type HTTPBackend struct {
	config HTTPConfig
	client *http.Client
	health *healthState
	logger *slog.Logger
}

// NewHTTPBackend creates a backend for an OpenAI-compatible endpoint.
func NewHTTPBackend(config HTTPConfig) (*HTTPBackend, error) {
	if config.Name == "" {
		return nil, &ConfigError{Provider: "http", Field: "name", Message: "provider name is required"}
	}
	if config.BaseURL == "" {
		return nil, &ConfigError{Provider: config.Name, Field: "base_url", Message: "base URL is required"}
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = 5
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPBackend{
		config: config,
		client: &http.Client{Transport: transport, Timeout: config.Timeout},
		health: newHealthState(config.Name),
		logger: slog.Default().With("component", "backends.http", "provider", config.Name),
	}, nil
}

// Name returns the backend's configured provider name.
func (b *HTTPBackend) Name() string {
	return b.config.Name
}

// Health returns a snapshot of the backend's health state.
func (b *HTTPBackend) Health() Health {
	return b.health.snapshot()
}

// Close releases pooled connections.
func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// Invoke sends a non-streaming request to the endpoint for the requested
// operation and normalizes the response.
func (b *HTTPBackend) Invoke(ctx context.Context, req *Request) (*Response, error) {
	var (
		resp *Response
		err  error
	)

	switch req.Operation {
	case OpChat:
		resp, err = b.invokeChat(ctx, req)
	case OpCompletion:
		resp, err = b.invokeCompletion(ctx, req)
	case OpEmbedding:
		resp, err = b.invokeEmbedding(ctx, req)
	case OpImage:
		resp, err = b.invokeImage(ctx, req)
	case OpAudioTranscribe:
		resp, err = b.invokeTranscription(ctx, req)
	default:
		return nil, &InvalidRequestError{
			Provider: b.config.Name,
			Message:  fmt.Sprintf("unknown operation %q", req.Operation),
		}
	}

	b.health.record(err == nil, err)
	return resp, err
}

// wire types for the OpenAI-compatible API surface

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatWireRequest struct {
	Model         string         `json:"model"`
	Messages      []wireMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions map[string]any `json:"stream_options,omitempty"`
}

type chatWireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		Text         string      `json:"text"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage wireUsage `json:"usage"`
}

func (b *HTTPBackend) invokeChat(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	body := chatWireRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var wire chatWireResponse
	if err := b.postJSON(ctx, "/chat/completions", body, &wire); err != nil {
		return nil, err
	}
	if len(wire.Choices) == 0 {
		return nil, &UnavailableError{
			Provider: b.config.Name,
			Cause:    errors.New("response contained no choices"),
		}
	}

	return &Response{
		ID:      wire.ID,
		Model:   wire.Model,
		Content: wire.Choices[0].Message.Content,
		Units: MeasuredUnits{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
		},
		Created: wire.Created,
	}, nil
}

func (b *HTTPBackend) invokeCompletion(ctx context.Context, req *Request) (*Response, error) {
	body := struct {
		Model       string  `json:"model"`
		Prompt      string  `json:"prompt"`
		MaxTokens   int     `json:"max_tokens,omitempty"`
		Temperature float64 `json:"temperature,omitempty"`
	}{req.Model, req.Prompt, req.MaxTokens, req.Temperature}

	var wire chatWireResponse
	if err := b.postJSON(ctx, "/completions", body, &wire); err != nil {
		return nil, err
	}
	if len(wire.Choices) == 0 {
		return nil, &UnavailableError{
			Provider: b.config.Name,
			Cause:    errors.New("response contained no choices"),
		}
	}

	return &Response{
		ID:      wire.ID,
		Model:   wire.Model,
		Content: wire.Choices[0].Text,
		Units: MeasuredUnits{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
		},
		Created: wire.Created,
	}, nil
}

func (b *HTTPBackend) invokeEmbedding(ctx context.Context, req *Request) (*Response, error) {
	body := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{req.Model, req.Input}

	var wire struct {
		Model string          `json:"model"`
		Data  json.RawMessage `json:"data"`
		Usage wireUsage       `json:"usage"`
	}
	if err := b.postJSON(ctx, "/embeddings", body, &wire); err != nil {
		return nil, err
	}

	return &Response{
		Model:   wire.Model,
		Content: string(wire.Data),
		Units:   MeasuredUnits{PromptTokens: wire.Usage.PromptTokens},
		Created: time.Now().Unix(),
	}, nil
}

func (b *HTTPBackend) invokeImage(ctx context.Context, req *Request) (*Response, error) {
	if req.Image == nil {
		return nil, &InvalidRequestError{Provider: b.config.Name, Message: "image spec is required"}
	}
	n := req.Image.N
	if n <= 0 {
		n = 1
	}
	body := struct {
		Model   string `json:"model"`
		Prompt  string `json:"prompt"`
		N       int    `json:"n"`
		Size    string `json:"size,omitempty"`
		Quality string `json:"quality,omitempty"`
	}{req.Model, req.Image.Prompt, n, req.Image.Size, req.Image.Quality}

	var wire struct {
		Created int64           `json:"created"`
		Data    json.RawMessage `json:"data"`
	}
	if err := b.postJSON(ctx, "/images/generations", body, &wire); err != nil {
		return nil, err
	}

	return &Response{
		Model:   req.Model,
		Content: string(wire.Data),
		Units:   MeasuredUnits{Images: n},
		Created: wire.Created,
	}, nil
}

func (b *HTTPBackend) invokeTranscription(ctx context.Context, req *Request) (*Response, error) {
	if req.Audio == nil || len(req.Audio.Data) == 0 {
		return nil, &InvalidRequestError{Provider: b.config.Name, Message: "audio payload is required"}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("model", req.Model); err != nil {
		return nil, &InvalidRequestError{Provider: b.config.Name, Message: err.Error()}
	}
	part, err := writer.CreateFormFile("file", "audio."+req.Audio.Format)
	if err != nil {
		return nil, &InvalidRequestError{Provider: b.config.Name, Message: err.Error()}
	}
	if _, err := part.Write(req.Audio.Data); err != nil {
		return nil, &InvalidRequestError{Provider: b.config.Name, Message: err.Error()}
	}
	if err := writer.Close(); err != nil {
		return nil, &InvalidRequestError{Provider: b.config.Name, Message: err.Error()}
	}

	httpResp, err := b.do(ctx, "/audio/transcriptions", &buf, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if err := b.classifyStatus(httpResp); err != nil {
		return nil, err
	}

	var wire struct {
		Text     string  `json:"text"`
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		return nil, &UnavailableError{Provider: b.config.Name, Cause: fmt.Errorf("decoding response: %w", err)}
	}

	duration := wire.Duration
	if duration == 0 {
		// Some servers omit duration; fall back to the caller-declared value.
		duration = req.Audio.DurationSeconds
	}

	return &Response{
		Model:   req.Model,
		Content: wire.Text,
		Units:   MeasuredUnits{AudioSeconds: duration},
		Created: time.Now().Unix(),
	}, nil
}

// postJSON sends a JSON POST and decodes a JSON response, classifying
// failures into the typed taxonomy.
func (b *HTTPBackend) postJSON(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &InvalidRequestError{Provider: b.config.Name, Message: err.Error()}
	}

	httpResp, err := b.do(ctx, path, bytes.NewReader(encoded), "application/json")
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if err := b.classifyStatus(httpResp); err != nil {
		return err
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return &UnavailableError{Provider: b.config.Name, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// do performs a single HTTP POST with no retries.
func (b *HTTPBackend) do(ctx context.Context, path string, body io.Reader, contentType string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.BaseURL+path, body)
	if err != nil {
		return nil, &InvalidRequestError{Provider: b.config.Name, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", contentType)
	if b.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	}

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, b.classifyTransport(err)
	}
	return httpResp, nil
}

// classifyTransport maps a transport-level error onto the typed taxonomy.
func (b *HTTPBackend) classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: b.config.Name, Timeout: b.config.Timeout}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Provider: b.config.Name, Timeout: b.config.Timeout}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &UnavailableError{Provider: b.config.Name, Cause: err}
}

// classifyStatus maps a non-2xx HTTP response onto the typed taxonomy.
// Consumes the body on error paths.
func (b *HTTPBackend) classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := parseErrorMessage(raw)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{
			Provider:   b.config.Name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    message,
		}
	case resp.StatusCode >= 500:
		return &UnavailableError{
			Provider:   b.config.Name,
			StatusCode: resp.StatusCode,
			Cause:      errors.New(message),
		}
	default:
		return &InvalidRequestError{
			Provider:   b.config.Name,
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}
}

// parseErrorMessage extracts the error message from an OpenAI-style error
// body, falling back to the raw body.
func parseErrorMessage(raw []byte) string {
	var wire struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wire); err == nil && wire.Error.Message != "" {
		return wire.Error.Message
	}
	if len(raw) == 0 {
		return "no error detail"
	}
	return string(raw)
}

// parseRetryAfter parses a Retry-After header value in seconds.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
