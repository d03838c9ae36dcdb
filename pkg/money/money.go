package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// MicrosPerDollar is the number of micro-dollar units in one dollar.
// Storage backends persist balances and transaction deltas in micro-dollars.
const MicrosPerDollar = 1_000_000

// Money is a fixed-point USD amount.
//
// The zero value is $0.00 and is ready to use. Money values are immutable;
// all arithmetic methods return a new value.
type Money struct {
	d decimal.Decimal
}

// Zero returns a zero amount.
func Zero() Money {
	return Money{}
}

// Parse parses a decimal string such as "1.00" or "0.0005" into a Money value.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustParse parses a decimal string and panics on error.
// Intended for constants and tests only.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromCents returns the amount represented by the given number of cents.
func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

// FromMicros returns the amount represented by the given number of
// micro-dollars. This is the inverse of Micros and is used when loading
// amounts from storage.
func FromMicros(micros int64) Money {
	return Money{d: decimal.New(micros, -6)}
}

// FromDecimal wraps an existing decimal value.
func FromDecimal(d decimal.Decimal) Money {
	return Money{d: d}
}

// Decimal returns the underlying decimal value.
func (m Money) Decimal() decimal.Decimal {
	return m.d
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{d: m.d.Add(other.d)}
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	return Money{d: m.d.Sub(other.d)}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{d: m.d.Neg()}
}

// Mul returns m multiplied by a decimal factor.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{d: m.d.Mul(factor)}
}

// MulInt64 returns m multiplied by an integer count.
func (m Money) MulInt64(n int64) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(n))}
}

// DivInt64 returns m divided by an integer.
//
// Division uses decimal arithmetic with enough precision for per-1K-token
// pricing; callers round the final result to the billable unit.
func (m Money) DivInt64(n int64) Money {
	return Money{d: m.d.Div(decimal.NewFromInt(n))}
}

// CeilCents rounds the amount up to the next whole cent.
// This is the rounding applied to token-based costs.
func (m Money) CeilCents() Money {
	return Money{d: m.d.RoundCeil(2)}
}

// RoundCents rounds the amount half up to the nearest cent.
func (m Money) RoundCents() Money {
	return Money{d: m.d.Round(2)}
}

// Cmp compares m and other: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) int {
	return m.d.Cmp(other.d)
}

// Equal reports whether m and other represent the same amount.
func (m Money) Equal(other Money) bool {
	return m.d.Equal(other.d)
}

// LessThan reports whether m < other.
func (m Money) LessThan(other Money) bool {
	return m.d.LessThan(other.d)
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.d.IsZero()
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool {
	return m.d.IsPositive()
}

// Micros returns the amount in integer micro-dollars.
// Returns an error if the amount has sub-micro precision, which indicates
// a value that was never rounded to the billable unit.
func (m Money) Micros() (int64, error) {
	shifted := m.d.Shift(6)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-micro precision", m.d.String())
	}
	return shifted.IntPart(), nil
}

// String formats the amount with full precision, e.g. "1.05".
func (m Money) String() string {
	return m.d.String()
}

// StringFixed formats the amount with exactly two decimal places.
func (m Money) StringFixed() string {
	return m.d.StringFixed(2)
}

// InexactFloat64 returns a float64 approximation of the amount.
// For metrics and logging only; never used in cost arithmetic.
func (m Money) InexactFloat64() float64 {
	return m.d.InexactFloat64()
}

// UnmarshalYAML parses a YAML scalar into a Money value. The scalar's
// literal text is parsed directly so that values like 0.03 are read
// exactly, without an intermediate float64.
func (m *Money) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("money amount must be a scalar, got %v", node.Kind)
	}
	parsed, err := Parse(node.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML renders the amount as its decimal string.
func (m Money) MarshalYAML() (interface{}, error) {
	return m.d.String(), nil
}
