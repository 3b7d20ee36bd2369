// Package domain holds the stock ledger aggregate: reservations and the
// results of conditional stock mutations.
package domain

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a reservation. Reserved transitions to
// Committed or Released; both are terminal.
type State string

const (
	StateReserved  State = "RESERVED"
	StateCommitted State = "COMMITTED"
	StateReleased  State = "RELEASED"
)

// Reservation records that a quantity of stock has been provisionally
// allocated to one order attempt, identified by its idempotency key.
// RemainingAfter is the stock level right after the decrement was applied;
// replays of the same key report it instead of re-reading live stock.
type Reservation struct {
	ItemID         string
	Size           string
	Quantity       int
	IdempotencyKey string
	State          State
	RemainingAfter int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewReservation validates the inputs and builds a reservation in the
// Reserved state.
func NewReservation(itemID, size string, quantity int, idempotencyKey string) (*Reservation, error) {
	if itemID == "" || size == "" || idempotencyKey == "" {
		return nil, fmt.Errorf("%w: itemID, size and idempotencyKey are required", ErrValidation)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be a positive integer", ErrValidation)
	}
	now := time.Now()
	return &Reservation{
		ItemID:         itemID,
		Size:           size,
		Quantity:       quantity,
		IdempotencyKey: idempotencyKey,
		State:          StateReserved,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Commit marks the reservation as applied for good. Committing an already
// committed reservation is a no-op.
func (r *Reservation) Commit() error {
	switch r.State {
	case StateCommitted:
		return nil
	case StateReserved:
		r.State = StateCommitted
		r.UpdatedAt = time.Now()
		return nil
	default:
		return fmt.Errorf("cannot commit reservation in state %s", r.State)
	}
}

// Release marks the reservation as reversed. Releasing an already released
// reservation is a no-op.
func (r *Reservation) Release() error {
	switch r.State {
	case StateReleased:
		return nil
	case StateReserved:
		r.State = StateReleased
		r.UpdatedAt = time.Now()
		return nil
	default:
		return fmt.Errorf("cannot release reservation in state %s", r.State)
	}
}

// ResultStatus is the outcome of a reserve attempt.
type ResultStatus int

const (
	StatusOk ResultStatus = iota + 1
	StatusInsufficientStock
	StatusNotFound
)

func (s ResultStatus) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusInsufficientStock:
		return "insufficient_stock"
	case StatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ReservationResult reports the outcome of a reserve attempt. For StatusOk,
// Remaining is the stock level after the decrement; for
// StatusInsufficientStock it is the stock available at the time of the
// attempt. Replayed is true when the result was served from a prior
// reservation with the same idempotency key.
type ReservationResult struct {
	Status    ResultStatus
	Remaining int
	Replayed  bool
}

// ReleaseResult reports the outcome of a release. Released is false when the
// key was never reserved or had already been released.
type ReleaseResult struct {
	Released bool
	Quantity int
}
