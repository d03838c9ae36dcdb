package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"lumina-hq/atlas/pkg/backends"
	"lumina-hq/atlas/pkg/money"
)

// TokenCost computes the cost of a token-based operation.
//
//	ceil_to_cent(prompt/1000 * prompt_per_1k + completion/1000 * completion_per_1k)
//
// The same function prices the pre-call estimate and the post-call
// settlement, so identical token counts always produce identical costs.
func TokenCost(price *ModelPrice, promptTokens, completionTokens int) money.Money {
	cost := money.Zero()
	if promptTokens > 0 {
		cost = cost.Add(price.PromptPer1K.MulInt64(int64(promptTokens)).DivInt64(1000))
	}
	if completionTokens > 0 {
		cost = cost.Add(price.CompletionPer1K.MulInt64(int64(completionTokens)).DivInt64(1000))
	}
	return cost.CeilCents()
}

// ImageCost computes the cost of generating n images at the given size and
// quality tier:
//
//	base * size_multiplier * quality_multiplier * n
//
// An empty multiplier map means no scaling for that dimension. A non-empty
// map that lacks the requested key is an error: image cost is deterministic
// and must be known before reservation.
func ImageCost(price *ModelPrice, size, quality string, n int) (money.Money, error) {
	if n <= 0 {
		n = 1
	}

	cost := price.ImageBase

	factor, err := multiplier(price.SizeMultipliers, size, "size")
	if err != nil {
		return money.Zero(), fmt.Errorf("model %q/%q: %w", price.Provider, price.Model, err)
	}
	cost = cost.Mul(factor)

	factor, err = multiplier(price.QualityMultipliers, quality, "quality")
	if err != nil {
		return money.Zero(), fmt.Errorf("model %q/%q: %w", price.Provider, price.Model, err)
	}
	cost = cost.Mul(factor)

	return cost.MulInt64(int64(n)).RoundCents(), nil
}

// AudioCost computes the cost of transcribing audio:
//
//	per_second * ceil(seconds), rounded half up to the cent
func AudioCost(price *ModelPrice, seconds float64) money.Money {
	if seconds <= 0 {
		return money.Zero()
	}
	whole := int64(math.Ceil(seconds))
	return price.AudioPerSecond.MulInt64(whole).RoundCents()
}

// Cost prices a backend-measured usage for the given operation. For image
// operations the request's size and quality are needed alongside the
// measured image count.
func Cost(price *ModelPrice, op backends.Operation, units backends.MeasuredUnits, size, quality string) (money.Money, error) {
	switch op {
	case backends.OpChat, backends.OpCompletion, backends.OpEmbedding:
		return TokenCost(price, units.PromptTokens, units.CompletionTokens), nil
	case backends.OpImage:
		return ImageCost(price, size, quality, units.Images)
	case backends.OpAudioTranscribe:
		return AudioCost(price, units.AudioSeconds), nil
	default:
		return money.Zero(), fmt.Errorf("unknown operation %q", op)
	}
}

func multiplier(table map[string]decimal.Decimal, key, dimension string) (decimal.Decimal, error) {
	if len(table) == 0 || key == "" {
		return decimal.NewFromInt(1), nil
	}
	factor, ok := table[key]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no %s multiplier for %q", dimension, key)
	}
	return factor, nil
}
