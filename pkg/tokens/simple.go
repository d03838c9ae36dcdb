package tokens

import (
	"fmt"

	"lumina-hq/atlas/pkg/backends"
)

// Estimate contains the token estimate for a request.
type Estimate struct {
	// PromptTokens is the estimated number of input tokens
	PromptTokens int

	// CompletionTokens is the estimated number of output tokens
	CompletionTokens int
}

// Estimator estimates token usage for a request before it is sent.
type Estimator interface {
	// EstimateRequest estimates prompt and completion tokens for a
	// normalized text request (chat, completion, or embedding).
	EstimateRequest(req *backends.Request) (*Estimate, error)

	// EstimateText estimates tokens for a single text string.
	EstimateText(text string) int
}

// Default estimation parameters.
const (
	// defaultCharsPerToken is the character-to-token ratio used when no
	// override is configured. Roughly correct for English prose across
	// common tokenizers.
	defaultCharsPerToken = 4.0

	// messageOverheadTokens covers role markers and message boundaries.
	messageOverheadTokens = 4

	// minCompletionEstimate is the floor for completion estimates when the
	// request carries no max_tokens cap.
	minCompletionEstimate = 256

	// maxDefaultCompletionEstimate caps the heuristic completion estimate
	// so open-ended requests do not hold an unreasonable reservation.
	maxDefaultCompletionEstimate = 2048
)

// SimpleEstimator is a character-ratio token estimator.
type SimpleEstimator struct {
	charsPerToken float64
}

// NewSimpleEstimator creates an estimator with the given characters-per-token
// ratio. A non-positive ratio selects the default.
func NewSimpleEstimator(charsPerToken float64) *SimpleEstimator {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return &SimpleEstimator{charsPerToken: charsPerToken}
}

// EstimateText estimates tokens for a single text string.
func (e *SimpleEstimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	estimated := int(float64(len(text))/e.charsPerToken + 0.5)
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}

// EstimateRequest estimates prompt and completion tokens for a text request.
// Image and audio requests have deterministic or duration-based costs and do
// not use token estimation.
func (e *SimpleEstimator) EstimateRequest(req *backends.Request) (*Estimate, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	est := &Estimate{}

	switch req.Operation {
	case backends.OpChat:
		for _, msg := range req.Messages {
			est.PromptTokens += e.EstimateText(msg.Content) + messageOverheadTokens
		}
	case backends.OpCompletion:
		est.PromptTokens = e.EstimateText(req.Prompt)
	case backends.OpEmbedding:
		for _, input := range req.Input {
			est.PromptTokens += e.EstimateText(input)
		}
		// Embeddings produce no completion tokens.
		return est, nil
	default:
		return nil, fmt.Errorf("operation %q is not token-estimable", req.Operation)
	}

	if req.MaxTokens > 0 {
		// The cap is the conservative bound on what can be billed.
		est.CompletionTokens = req.MaxTokens
		return est, nil
	}

	// Without a cap, assume the completion roughly mirrors the prompt,
	// bounded to keep the hold reasonable.
	est.CompletionTokens = est.PromptTokens
	if est.CompletionTokens < minCompletionEstimate {
		est.CompletionTokens = minCompletionEstimate
	}
	if est.CompletionTokens > maxDefaultCompletionEstimate {
		est.CompletionTokens = maxDefaultCompletionEstimate
	}

	return est, nil
}
