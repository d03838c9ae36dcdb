// Package money provides a fixed-point monetary amount type for credit
// accounting and cost calculation.
//
// All arithmetic is performed on decimal values, never on binary floating
// point. This is a correctness requirement: rounding drift from repeated
// float operations compounds across millions of metered requests, and the
// pre-call reservation and post-call settlement must reconcile exactly.
//
// # Representation
//
// Money wraps an arbitrary-precision decimal. Amounts destined for the
// ledger are rounded to the billable unit (one cent USD) by the cost
// calculator; storage backends persist amounts as integer micro-dollars.
//
// # Usage
//
//	price, _ := money.Parse("0.03")
//	cost := price.MulInt64(100).DivInt64(1000).CeilCents()
package money
