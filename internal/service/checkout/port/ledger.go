// Package port defines the outbound interfaces the checkout saga depends on.
package port

import (
	"context"

	ledgerdomain "atlas/internal/service/ledger/domain"
)

// StockLedger is the slice of the ledger the checkout flow needs. The
// ledger application service satisfies it.
type StockLedger interface {
	Reserve(ctx context.Context, itemID, size string, quantity int, idempotencyKey string) (ledgerdomain.ReservationResult, error)
	Commit(ctx context.Context, idempotencyKey string) error
	Release(ctx context.Context, idempotencyKey string) (ledgerdomain.ReleaseResult, error)
}
