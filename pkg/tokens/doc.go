// Package tokens provides pre-call token estimation for credit reservation.
//
// Estimates are intentionally conservative: the reservation must cover the
// likely actual cost, and any excess is refunded at settlement. Character-
// ratio estimation is fast (<1ms) and accurate enough for holds; the
// backend-measured counts are always what settlement bills.
package tokens
