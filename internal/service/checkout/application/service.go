// Package application orchestrates the checkout saga: reserve stock first,
// then capture payment, then finalize. The ordering matters:
// "insufficient stock" must block checkout before any money moves.
package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"atlas/internal/pkg/logger"
	"atlas/internal/pkg/metrics"
	"atlas/internal/service/checkout/application/saga"
	"atlas/internal/service/checkout/domain"
	"atlas/internal/service/checkout/port"
)

// ErrCheckoutRejected is re-exported for interface layers.
var ErrCheckoutRejected = saga.ErrCheckoutRejected

// CheckoutRequest is one payment-confirmed cart submitted for processing.
type CheckoutRequest struct {
	UserID string
	Lines  []domain.Line
}

// CheckoutResult reports the finished attempt.
type CheckoutResult struct {
	OrderID    string
	Status     domain.Status
	PaymentRef string
}

// CheckoutService drives one order attempt end to end.
type CheckoutService struct {
	orders     domain.OrderRepository
	ledger     port.StockLedger
	payment    port.PaymentGateway
	reconciler port.ReconcileProducer
	tracer     trace.Tracer

	processingTimeout time.Duration
}

func NewCheckoutService(orders domain.OrderRepository, ledger port.StockLedger, payment port.PaymentGateway, reconciler port.ReconcileProducer, tracer trace.Tracer, processingTimeout time.Duration) *CheckoutService {
	if processingTimeout <= 0 {
		processingTimeout = 30 * time.Second
	}
	return &CheckoutService{
		orders:            orders,
		ledger:            ledger,
		payment:           payment,
		reconciler:        reconciler,
		tracer:            tracer,
		processingTimeout: processingTimeout,
	}
}

// Checkout runs the saga for one cart. On any post-reservation failure the
// compensation stack releases the reserved stock; on any post-payment
// failure a durable reconcile task is additionally emitted so payment and
// inventory state can never diverge silently.
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Checkout")
	defer span.End()

	processingCtx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	order, err := domain.NewOrder(uuid.New().String(), req.UserID, req.Lines)
	if err != nil {
		metrics.CheckoutsTotal.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, "invalid checkout request")
		return nil, err
	}

	if err := s.orders.Save(processingCtx, order); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := order.MarkProcessing(); err != nil {
		return nil, err
	}
	if err := s.orders.Save(processingCtx, order); err != nil {
		span.RecordError(err)
		return nil, err
	}

	checkoutCtx := &saga.CheckoutContext{
		Ctx:     processingCtx,
		Order:   order,
		Tracer:  s.tracer,
		Ledger:  s.ledger,
		Payment: s.payment,
	}

	chain := s.buildChain()
	if err := chain.Handle(checkoutCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout chain failed")
		logger.Ctx(processingCtx).Error().Err(err).Str("order_id", order.ID).Msg("checkout failed, compensating")

		// Compensation uses a fresh context: the failure may be the
		// processing timeout itself.
		compCtx, compCancel := context.WithTimeout(context.Background(), s.processingTimeout)
		defer compCancel()
		checkoutCtx.TriggerCompensation(compCtx)

		if checkoutCtx.PaymentCaptured {
			s.emitReconcileTask(compCtx, order, err)
			metrics.CheckoutsTotal.WithLabelValues("reconcile").Inc()
		} else if errors.Is(err, saga.ErrCheckoutRejected) {
			metrics.CheckoutsTotal.WithLabelValues("rejected").Inc()
		} else {
			metrics.CheckoutsTotal.WithLabelValues("failed").Inc()
		}

		if cancelErr := order.MarkCancelled(); cancelErr == nil {
			if saveErr := s.orders.Save(compCtx, order); saveErr != nil {
				logger.Ctx(compCtx).Error().Err(saveErr).Str("order_id", order.ID).Msg("failed to persist cancelled order")
			}
		}
		return nil, err
	}

	metrics.CheckoutsTotal.WithLabelValues("completed").Inc()
	span.AddEvent("checkout completed")
	return &CheckoutResult{
		OrderID:    order.ID,
		Status:     order.Status,
		PaymentRef: order.PaymentRef,
	}, nil
}

func (s *CheckoutService) buildChain() saga.Handler {
	reserve := &saga.ReserveStockHandler{}
	capture := &saga.CapturePaymentHandler{}
	finalize := saga.NewFinalizeOrderHandler(s.orders)

	reserve.SetNext(capture).SetNext(finalize)
	return reserve
}

// emitReconcileTask durably records that payment was captured but the order
// could not be finalized. Emission failure is the one place we page loudly:
// the task is the last line of defense against silent divergence.
func (s *CheckoutService) emitReconcileTask(ctx context.Context, order *domain.Order, cause error) {
	task := domain.ReconcileTask{
		TaskID:          uuid.New().String(),
		OrderID:         order.ID,
		PaymentRef:      order.PaymentRef,
		ReservationKeys: order.ReservationKeys(),
		Reason:          cause.Error(),
		AmountCents:     order.TotalCents(),
		At:              time.Now(),
	}
	if err := s.reconciler.Produce(ctx, task); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("order_id", order.ID).
			Str("payment_ref", order.PaymentRef).
			Msg("CRITICAL: failed to emit reconcile task after captured payment")
		return
	}
	metrics.ReconcileTasksTotal.WithLabelValues("emitted", "unknown").Inc()
}
