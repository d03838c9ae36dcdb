package money

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{name: "whole dollars", input: "5", expected: "5"},
		{name: "cents", input: "1.05", expected: "1.05"},
		{name: "sub-cent price", input: "0.0005", expected: "0.0005"},
		{name: "negative", input: "-0.25", expected: "-0.25"},
		{name: "garbage", input: "five dollars", expectError: true},
		{name: "empty", input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for %q, got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.String() != tt.expected {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, m.String(), tt.expected)
			}
		})
	}
}

func TestCeilCents(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "already on cent boundary", input: "0.05", expected: "0.05"},
		{name: "rounds up small fraction", input: "0.0501", expected: "0.06"},
		{name: "rounds up tiny cost", input: "0.0000001", expected: "0.01"},
		{name: "zero stays zero", input: "0", expected: "0"},
		{name: "exact dollars", input: "3", expected: "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustParse(tt.input).CeilCents()
			if got.String() != tt.expected {
				t.Errorf("CeilCents(%s) = %s, want %s", tt.input, got.String(), tt.expected)
			}
		})
	}
}

func TestRoundCents(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "0.054", expected: "0.05"},
		{input: "0.055", expected: "0.06"}, // half rounds up
		{input: "0.056", expected: "0.06"},
	}

	for _, tt := range tests {
		got := MustParse(tt.input).RoundCents()
		if got.String() != tt.expected {
			t.Errorf("RoundCents(%s) = %s, want %s", tt.input, got.String(), tt.expected)
		}
	}
}

func TestMicrosRoundTrip(t *testing.T) {
	m := MustParse("1.05")
	micros, err := m.Micros()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if micros != 1_050_000 {
		t.Errorf("Micros() = %d, want 1050000", micros)
	}
	if !FromMicros(micros).Equal(m) {
		t.Errorf("round trip mismatch: %s", FromMicros(micros))
	}
}

func TestMicrosRejectsSubMicroPrecision(t *testing.T) {
	m := MustParse("0.0000001")
	if _, err := m.Micros(); err == nil {
		t.Error("expected error for sub-micro precision, got none")
	}
}

func TestArithmeticIsExact(t *testing.T) {
	// 0.1 + 0.2 must equal 0.3 exactly, which float64 cannot do.
	sum := MustParse("0.1").Add(MustParse("0.2"))
	if !sum.Equal(MustParse("0.3")) {
		t.Errorf("0.1 + 0.2 = %s, want 0.3", sum)
	}

	// Repeated accumulation must not drift.
	total := Zero()
	for i := 0; i < 1000; i++ {
		total = total.Add(MustParse("0.01"))
	}
	if !total.Equal(MustParse("10")) {
		t.Errorf("1000 * 0.01 = %s, want 10", total)
	}
}
