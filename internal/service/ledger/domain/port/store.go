// Package port defines the outbound interfaces of the stock ledger. They are
// implemented by the infrastructure layer.
package port

import (
	"context"

	"atlas/internal/service/ledger/domain"
)

// StockStore is the persistence contract the ledger depends on. Every
// implementation must provide the conditional decrement as one atomic
// round-trip: "decrement stock by q only if stock >= q", combined in the
// same atomic unit with the reservation record keyed by idempotency key.
// Correctness under concurrent callers must come from this atomicity alone;
// the ledger holds no locks.
type StockStore interface {
	// FindSizeStock returns the current stock for an (item, size) pair, or
	// domain.ErrNotFound.
	FindSizeStock(ctx context.Context, itemID, size string) (int, error)

	// Reserve atomically applies the conditional decrement and persists res.
	// If a reservation with the same idempotency key already exists, the
	// prior result is returned with Replayed set and stock is untouched.
	// Insufficient stock and unknown items are reported in the result, not
	// as errors; an error return means the store itself failed and the call
	// may be retried under the same key.
	Reserve(ctx context.Context, res *domain.Reservation) (domain.ReservationResult, error)

	// Commit transitions the reservation for key to Committed. Idempotent.
	// Returns domain.ErrNotFound if the key was never reserved.
	Commit(ctx context.Context, idempotencyKey string) error

	// Release returns the reserved quantity to stock and marks the
	// reservation Released. A no-op (Released=false) if the key was never
	// reserved or was already released.
	Release(ctx context.Context, idempotencyKey string) (domain.ReleaseResult, error)

	// GetReservation looks up the reservation for key, or domain.ErrNotFound.
	// Used to re-verify an operation's effect after a timed-out attempt.
	GetReservation(ctx context.Context, idempotencyKey string) (*domain.Reservation, error)
}

// EventPublisher receives stock change notifications. Implementations must
// not block the ledger's write path.
type EventPublisher interface {
	PublishStockEvent(ctx context.Context, event domain.StockEvent)
}
