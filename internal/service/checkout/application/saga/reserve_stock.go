package saga

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"atlas/internal/pkg/logger"
	ledgerdomain "atlas/internal/service/ledger/domain"
)

// ReserveStockHandler reserves stock for every order line before any money
// moves. Insufficient stock fails the checkout here, with no payment
// attempted.
type ReserveStockHandler struct {
	NextHandler
}

func (h *ReserveStockHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.ReserveStock")
	defer span.End()

	order := checkoutCtx.Order
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("order.lines", len(order.Lines)),
	)

	for _, line := range order.Lines {
		key := line.ReservationKey(order.ID)
		result, err := checkoutCtx.Ledger.Reserve(ctx, line.ItemID, line.Size, line.Quantity, key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stock reservation failed")
			return fmt.Errorf("reserve %s/%s: %w", line.ItemID, line.Size, err)
		}

		switch result.Status {
		case ledgerdomain.StatusOk:
			// Undo for this line if a later step fails.
			k := key
			checkoutCtx.AddCompensation(func(compCtx context.Context) {
				compCtx, compSpan := checkoutCtx.Tracer.Start(compCtx, "saga.compensation.ReleaseStock")
				defer compSpan.End()
				compSpan.SetAttributes(attribute.String("stock.key", k))
				if _, err := checkoutCtx.Ledger.Release(compCtx, k); err != nil {
					compSpan.RecordError(err)
					logger.Ctx(compCtx).Error().Err(err).Str("key", k).Msg("stock release compensation failed")
				}
			})
		case ledgerdomain.StatusInsufficientStock:
			span.AddEvent("insufficient stock", trace.WithAttributes(attribute.Int("stock.available", result.Remaining)))
			return fmt.Errorf("insufficient stock for %s/%s (available %d): %w",
				line.ItemID, line.Size, result.Remaining, ErrCheckoutRejected)
		case ledgerdomain.StatusNotFound:
			return fmt.Errorf("unknown item %s/%s: %w", line.ItemID, line.Size, ErrCheckoutRejected)
		}
	}

	span.AddEvent("all lines reserved")
	return h.executeNext(checkoutCtx)
}
