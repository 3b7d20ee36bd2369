package saga

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"atlas/internal/service/checkout/domain"
)

// FinalizeOrderHandler commits every reservation and completes the order.
// Commits are idempotent, so a crash between lines is safe to replay.
type FinalizeOrderHandler struct {
	NextHandler
	repo domain.OrderRepository
}

func NewFinalizeOrderHandler(repo domain.OrderRepository) *FinalizeOrderHandler {
	return &FinalizeOrderHandler{repo: repo}
}

func (h *FinalizeOrderHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.FinalizeOrder")
	defer span.End()

	order := checkoutCtx.Order
	span.SetAttributes(attribute.String("order.id", order.ID))

	for _, key := range order.ReservationKeys() {
		if err := checkoutCtx.Ledger.Commit(ctx, key); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reservation commit failed")
			return fmt.Errorf("commit reservation %s: %w", key, err)
		}
	}

	if err := order.MarkCompleted(); err != nil {
		span.RecordError(err)
		return err
	}
	if err := h.repo.Save(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order save failed")
		return fmt.Errorf("save completed order %s: %w", order.ID, err)
	}

	span.AddEvent("order completed")
	return h.executeNext(checkoutCtx)
}
