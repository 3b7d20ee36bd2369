package domain

import "time"

// ReconcileTask is the durable record emitted when money may have moved but
// inventory or order state could not be finalized. It is never a log line:
// the reconcile worker consumes these and flags the order for manual review.
type ReconcileTask struct {
	TaskID          string    `json:"task_id"`
	OrderID         string    `json:"order_id"`
	PaymentRef      string    `json:"payment_ref,omitempty"`
	ReservationKeys []string  `json:"reservation_keys"`
	Reason          string    `json:"reason"`
	AmountCents     int64     `json:"amount_cents"`
	At              time.Time `json:"at"`
}
