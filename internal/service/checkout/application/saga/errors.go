package saga

import "errors"

// ErrCheckoutRejected marks checkouts refused before payment (insufficient
// stock, unknown items). These are user-facing rejections, not system
// failures, and produce no reconcile task.
var ErrCheckoutRejected = errors.New("checkout rejected")
