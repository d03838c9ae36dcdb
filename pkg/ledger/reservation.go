package ledger

import (
	"sync"

	"lumina-hq/atlas/pkg/money"
)

// State is a reservation's lifecycle state.
type State int

// Reservation states. Settled and Released are terminal.
const (
	StateReserved State = iota
	StateSettled
	StateReleased
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReserved:
		return "reserved"
	case StateSettled:
		return "settled"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Reservation is a token recording a credit hold. It is returned by Reserve
// and consumed exactly once by Settle or Release.
type Reservation struct {
	// ID is the unique reservation identifier
	ID string

	// AccountID is the account the hold was taken from
	AccountID string

	// Held is the exact amount held
	Held money.Money

	mu    sync.Mutex
	state State
}

// State returns the reservation's current state.
func (r *Reservation) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// begin locks the reservation for a terminal transition.
// The caller must invoke finish (commit) or abort (roll back the lock).
func (r *Reservation) begin() error {
	r.mu.Lock()
	if r.state != StateReserved {
		r.mu.Unlock()
		return ErrReservationClosed
	}
	return nil
}

// finish commits the terminal transition and unlocks.
func (r *Reservation) finish(state State) {
	r.state = state
	r.mu.Unlock()
}

// abort leaves the reservation open after a failed transition attempt.
func (r *Reservation) abort() {
	r.mu.Unlock()
}
