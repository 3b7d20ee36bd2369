// Package saga implements the checkout flow as a chain of steps with a LIFO
// compensation stack: reserve stock, capture payment, finalize the order.
// Any failed step unwinds everything registered before it.
package saga

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"atlas/internal/pkg/logger"
	"atlas/internal/service/checkout/domain"
	"atlas/internal/service/checkout/port"
)

// CheckoutContext carries one order attempt through the chain.
type CheckoutContext struct {
	Ctx    context.Context
	Order  *domain.Order
	Tracer trace.Tracer

	Ledger  port.StockLedger
	Payment port.PaymentGateway

	// PaymentCaptured flips once the gateway confirms the capture. After
	// this point failures must produce a reconcile task, never a silent log.
	PaymentCaptured bool

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation registers an undo action. Compensations run in reverse
// registration order.
func (c *CheckoutContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

// TriggerCompensation runs every registered undo action.
func (c *CheckoutContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	logger.Ctx(ctx).Info().
		Str("order_id", c.Order.ID).
		Int("count", len(c.compensations)).
		Msg("executing compensation functions")
	for _, comp := range c.compensations {
		comp(ctx)
	}
	c.compensations = nil
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(checkoutCtx *CheckoutContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(checkoutCtx *CheckoutContext) error {
	if h.next != nil {
		return h.next.Handle(checkoutCtx)
	}
	return nil
}
