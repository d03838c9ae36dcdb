// Package pricing provides the model pricing table and cost calculation.
//
// The table maps (provider, model) to per-unit prices and the model's
// capability set. It is loaded from a YAML file at startup and may be
// hot-reloaded between requests: the Loader watches the file with fsnotify
// and swaps in a fresh immutable snapshot atomically. Readers never lock; a
// request observes one consistent snapshot for its whole lifetime.
//
// Cost calculation is a set of pure functions over a snapshot entry and a
// usage measurement. All arithmetic is fixed-point decimal, and the rounding
// policy is identical on the estimate and settlement paths:
//
//   - token operations:  ceil_to_cent(prompt/1000*p_in + completion/1000*p_out)
//   - image operations:  base * size_multiplier * quality_multiplier * n
//   - audio operations:  per_second * ceil(seconds), rounded half up to cent
//
// Determinism here is what makes reservation and settlement reconcile:
// estimating with the true usage and settling with the same usage must
// produce a net-zero delta.
package pricing
