// Package domain holds the order aggregate owned by the checkout context.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrOrderNotFound = errors.New("order not found")

// Line is one cart line of an order.
type Line struct {
	ItemID         string
	Size           string
	Quantity       int
	UnitPriceCents int64
}

// ReservationKey derives the idempotency key under which stock for this
// line is reserved. It is stable across retries of the same order.
func (l Line) ReservationKey(orderID string) string {
	return fmt.Sprintf("%s:%s:%s", orderID, l.ItemID, l.Size)
}

// Order is the aggregate root for one checkout attempt.
type Order struct {
	ID           string
	UserID       string
	Lines        []Line
	Status       Status
	PaymentRef   string
	NeedsReview  bool
	ReviewReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewOrder builds a pending order from validated lines.
func NewOrder(id, userID string, lines []Line) (*Order, error) {
	if id == "" || userID == "" {
		return nil, errors.New("order id and user id are required")
	}
	if len(lines) == 0 {
		return nil, errors.New("order needs at least one line")
	}
	// Reservation keys are derived from (order, item, size), so two lines
	// for the same pair would collide on one key and only the first would
	// ever reserve stock. Carts must merge quantities before checkout.
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.ItemID == "" || l.Size == "" {
			return nil, errors.New("line item id and size are required")
		}
		if l.Quantity <= 0 {
			return nil, errors.New("line quantity must be positive")
		}
		pair := l.ItemID + "/" + l.Size
		if _, dup := seen[pair]; dup {
			return nil, fmt.Errorf("duplicate line for item %s size %s", l.ItemID, l.Size)
		}
		seen[pair] = struct{}{}
	}
	now := time.Now()
	return &Order{
		ID:        id,
		UserID:    userID,
		Lines:     lines,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// TotalCents is the order amount sent to the payment gateway.
func (o *Order) TotalCents() int64 {
	var total int64
	for _, l := range o.Lines {
		total += l.UnitPriceCents * int64(l.Quantity)
	}
	return total
}

// ReservationKeys lists the idempotency keys of every line.
func (o *Order) ReservationKeys() []string {
	keys := make([]string, 0, len(o.Lines))
	for _, l := range o.Lines {
		keys = append(keys, l.ReservationKey(o.ID))
	}
	return keys
}

// MarkProcessing moves a pending order into processing once its stock is
// reserved.
func (o *Order) MarkProcessing() error {
	if o.Status != StatusPending {
		return fmt.Errorf("cannot start processing an order in status %s", o.Status)
	}
	o.Status = StatusProcessing
	o.UpdatedAt = time.Now()
	return nil
}

// AttachPayment records the gateway capture reference.
func (o *Order) AttachPayment(ref string) {
	o.PaymentRef = ref
	o.UpdatedAt = time.Now()
}

// MarkCompleted finalizes a processing order.
func (o *Order) MarkCompleted() error {
	if o.Status != StatusProcessing {
		return fmt.Errorf("cannot complete an order in status %s", o.Status)
	}
	o.Status = StatusCompleted
	o.UpdatedAt = time.Now()
	return nil
}

// MarkCancelled cancels a pending or processing order.
func (o *Order) MarkCancelled() error {
	if o.Status == StatusCompleted {
		return errors.New("cannot cancel a completed order")
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// FlagForReview marks the order for manual reconciliation. It never clears
// a prior flag.
func (o *Order) FlagForReview(reason string) {
	o.NeedsReview = true
	o.ReviewReason = reason
	o.UpdatedAt = time.Now()
}
