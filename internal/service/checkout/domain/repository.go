package domain

import (
	"context"
	"time"
)

// OrderRepository persists the order aggregate. Implemented by
// infrastructure.
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)

	// FlagForReview marks an order for manual reconciliation without
	// loading the whole aggregate.
	FlagForReview(ctx context.Context, id, reason string) error

	// FindStuckProcessing returns orders that entered processing before
	// cutoff and never finished. The reconcile sweeper feeds on these.
	FindStuckProcessing(ctx context.Context, cutoff time.Time) ([]*Order, error)
}
