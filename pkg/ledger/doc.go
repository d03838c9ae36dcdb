// Package ledger implements the prepaid credit ledger: atomic
// reserve-or-reject holds, settlement against measured cost, and full
// release on failure.
//
// # Reservation lifecycle
//
// A reservation is a provisional hold taken before a backend call incurs
// variable cost:
//
//	Reserved -> Settled   (cost known; refund excess or charge overage)
//	Reserved -> Released  (request failed; full refund)
//
// Both transitions are terminal; a second transition on the same token is
// rejected. Settlement that exceeds the remaining balance after content was
// already delivered does not claw the content back: the shortfall is
// reported as an unbilled overrun and flagged on the usage record. This is
// an explicit policy choice, not an accident.
//
// # Concurrency
//
// Reservations against one account are linearizable: the store applies each
// debit as a single atomic conditional update, so N concurrent reservations
// can never jointly overdraw. Different accounts never contend.
//
// Every balance mutation appends an immutable CreditTransaction; replaying
// the deltas always reproduces the materialized balance.
package ledger
