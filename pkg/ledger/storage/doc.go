// Package storage provides persistence backends for the credit ledger.
//
// A Store holds account balances and the append-only credit transaction log.
// The critical contract is Apply: a debit is a single atomic conditional
// update (balance changes only if it stays non-negative) committed together
// with its transaction row, so the materialized balance and the transaction
// log can never diverge. Two backends are provided:
//
//   - Memory: per-account mutexes; used in tests and ephemeral deployments.
//   - SQLite: a conditional UPDATE ... WHERE ... RETURNING inside one
//     transaction with the log insert; durable single-instance deployments.
//
// Both backends serialize writers per account while leaving different
// accounts fully independent.
package storage
