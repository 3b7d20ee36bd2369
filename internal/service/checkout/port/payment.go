package port

import "context"

// PaymentGateway abstracts the third-party payment provider. Capture runs
// only after stock has been reserved; Refund is the compensating action.
type PaymentGateway interface {
	Capture(ctx context.Context, orderID string, amountCents int64) (ref string, err error)
	Refund(ctx context.Context, ref string) error
}
