package backends

import "time"

// Operation identifies a model operation kind.
type Operation string

// Supported operation kinds. The set is closed: backends declare which of
// these each model implements, and the registry rejects anything else.
const (
	OpChat            Operation = "chat"
	OpCompletion      Operation = "completion"
	OpEmbedding       Operation = "embedding"
	OpImage           Operation = "image"
	OpAudioTranscribe Operation = "audio-transcribe"
)

// ParseOperation converts a string into a known Operation.
func ParseOperation(s string) (Operation, bool) {
	switch Operation(s) {
	case OpChat, OpCompletion, OpEmbedding, OpImage, OpAudioTranscribe:
		return Operation(s), true
	}
	return "", false
}

// Capabilities is the set of operations a model supports.
type Capabilities []Operation

// Supports reports whether the capability set includes the given operation.
func (c Capabilities) Supports(op Operation) bool {
	for _, cap := range c {
		if cap == op {
			return true
		}
	}
	return false
}

// Message is a single message in a chat conversation.
type Message struct {
	// Role identifies the message sender (system, user, assistant)
	Role string `json:"role"`

	// Content is the message text content
	Content string `json:"content"`
}

// Message role constants
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ImageSpec describes an image generation request.
type ImageSpec struct {
	// Prompt is the generation prompt
	Prompt string `json:"prompt"`

	// N is the number of images to generate (default 1)
	N int `json:"n,omitempty"`

	// Size is the requested image size (e.g. "1024x1024")
	Size string `json:"size,omitempty"`

	// Quality is the requested quality tier (e.g. "standard", "hd")
	Quality string `json:"quality,omitempty"`
}

// AudioSpec describes an audio transcription request.
type AudioSpec struct {
	// Data is the raw audio payload
	Data []byte `json:"-"`

	// Format is the audio container format (e.g. "wav", "mp3")
	Format string `json:"format,omitempty"`

	// DurationSeconds is the caller-declared audio duration, used for
	// the pre-call cost estimate. The backend-measured duration from the
	// response is authoritative for settlement.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Request is a normalized, provider-agnostic request.
// Exactly the fields relevant to Operation are populated.
type Request struct {
	// Operation is the requested operation kind
	Operation Operation `json:"operation"`

	// Model is the model identifier under the resolved provider
	Model string `json:"model"`

	// Messages is the conversation history (chat)
	Messages []Message `json:"messages,omitempty"`

	// Prompt is the completion prompt (completion)
	Prompt string `json:"prompt,omitempty"`

	// Input is the list of texts to embed (embedding)
	Input []string `json:"input,omitempty"`

	// Image is the image generation spec (image)
	Image *ImageSpec `json:"image,omitempty"`

	// Audio is the transcription spec (audio-transcribe)
	Audio *AudioSpec `json:"audio,omitempty"`

	// MaxTokens caps the number of generated tokens (text operations)
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness
	Temperature float64 `json:"temperature,omitempty"`

	// Metadata carries internal request context; never sent to the backend
	Metadata map[string]string `json:"-"`
}

// MeasuredUnits is the backend-reported usage measurement for a request.
// These are the quantities cost is computed from.
type MeasuredUnits struct {
	// PromptTokens is the number of input tokens consumed
	PromptTokens int `json:"prompt_tokens,omitempty"`

	// CompletionTokens is the number of output tokens generated
	CompletionTokens int `json:"completion_tokens,omitempty"`

	// Images is the number of images generated
	Images int `json:"images,omitempty"`

	// AudioSeconds is the transcribed audio duration
	AudioSeconds float64 `json:"audio_seconds,omitempty"`
}

// Response is a normalized, provider-agnostic success payload.
type Response struct {
	// ID is the backend-assigned response identifier
	ID string `json:"id"`

	// Model is the model that produced the response
	Model string `json:"model"`

	// Content is the generated content. For embeddings and images this is
	// the serialized result (vector list, image URLs or base64 payloads).
	Content string `json:"content"`

	// Units is the backend-measured usage for this response
	Units MeasuredUnits `json:"units"`

	// Created is the Unix timestamp when the response was created
	Created int64 `json:"created"`
}

// Chunk is a single increment of a streaming response.
type Chunk struct {
	// ID is the response identifier (same across all chunks)
	ID string `json:"id"`

	// Model is the model generating the response
	Model string `json:"model"`

	// Delta is the incremental content in this chunk
	Delta string `json:"delta"`

	// FinishReason is set on the terminal chunk
	FinishReason string `json:"finish_reason,omitempty"`

	// Units is set on the terminal chunk when the backend reports usage
	Units *MeasuredUnits `json:"units,omitempty"`

	// Err is set if the stream failed; no further chunks follow
	Err error `json:"-"`
}

// Health is a snapshot of a backend's health state.
type Health struct {
	// Healthy indicates whether the backend is currently considered healthy
	Healthy bool

	// LastCheck is when the health state was last updated
	LastCheck time.Time

	// LastError is the most recent failure (nil if healthy)
	LastError error

	// ConsecutiveFailures counts sequential failed invocations
	ConsecutiveFailures int

	// TotalRequests counts all invocations against this backend
	TotalRequests int64

	// FailedRequests counts failed invocations
	FailedRequests int64
}
