package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"DEBUG", slog.LevelDebug, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseLevel(%q) succeeded, want error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLevel(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Level: "nope"}); err == nil {
		t.Error("New with bad level succeeded, want error")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("New with bad format succeeded, want error")
	}
	if _, err := New(Config{Level: "debug", Format: "text"}); err != nil {
		t.Errorf("New with valid config: %v", err)
	}
}
