package backends

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "timeout", err: &TimeoutError{Provider: "p", Timeout: time.Second}, want: true},
		{name: "unavailable", err: &UnavailableError{Provider: "p", StatusCode: 503}, want: true},
		{name: "wrapped unavailable", err: fmt.Errorf("invoke: %w", &UnavailableError{Provider: "p"}), want: true},
		{name: "rate limited", err: &RateLimitedError{Provider: "p"}, want: false},
		{name: "invalid request", err: &InvalidRequestError{Provider: "p"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUnavailableErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &UnavailableError{Provider: "p", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("Unwrap does not expose the cause")
	}
}

func TestCapabilitiesSupports(t *testing.T) {
	caps := Capabilities{OpChat, OpEmbedding}
	if !caps.Supports(OpChat) {
		t.Error("expected chat to be supported")
	}
	if caps.Supports(OpImage) {
		t.Error("image should not be supported")
	}
}
