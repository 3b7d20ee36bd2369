package saga

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"atlas/internal/pkg/logger"
)

// CapturePaymentHandler charges the gateway. It runs strictly after stock
// reservation, so a declined payment only triggers stock releases, never an
// oversold order.
type CapturePaymentHandler struct {
	NextHandler
}

func (h *CapturePaymentHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.CapturePayment")
	defer span.End()

	order := checkoutCtx.Order
	amount := order.TotalCents()
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int64("payment.amount_cents", amount),
	)

	ref, err := checkoutCtx.Payment.Capture(ctx, order.ID, amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment capture failed")
		return fmt.Errorf("capture payment for order %s: %w", order.ID, err)
	}

	order.AttachPayment(ref)
	checkoutCtx.PaymentCaptured = true
	span.AddEvent("payment captured")

	checkoutCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := checkoutCtx.Tracer.Start(compCtx, "saga.compensation.RefundPayment")
		defer compSpan.End()
		if err := checkoutCtx.Payment.Refund(compCtx, ref); err != nil {
			// A failed refund means money stays moved; the caller's
			// reconcile task covers it, this only records the attempt.
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).Str("payment_ref", ref).Msg("payment refund compensation failed")
		}
	})

	return h.executeNext(checkoutCtx)
}
