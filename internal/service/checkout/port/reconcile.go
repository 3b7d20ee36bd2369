package port

import (
	"context"

	"atlas/internal/service/checkout/domain"
)

// ReconcileProducer durably records reconciliation tasks for the worker.
type ReconcileProducer interface {
	Produce(ctx context.Context, task domain.ReconcileTask) error
}
