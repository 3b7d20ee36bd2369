package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"atlas/internal/service/checkout/application"
	"atlas/internal/service/checkout/domain"
	"atlas/internal/service/checkout/infrastructure"
	ledgerapp "atlas/internal/service/ledger/application"
	ledgerdomain "atlas/internal/service/ledger/domain"
	ledgerinfra "atlas/internal/service/ledger/infrastructure"
)

type fakePayment struct {
	mu          sync.Mutex
	failCapture bool
	captures    int
	refunds     []string
}

func (f *fakePayment) Capture(ctx context.Context, orderID string, amountCents int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCapture {
		return "", errors.New("card declined")
	}
	f.captures++
	return fmt.Sprintf("pay-%s", orderID), nil
}

func (f *fakePayment) Refund(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, ref)
	return nil
}

type fakeReconciler struct {
	mu    sync.Mutex
	tasks []domain.ReconcileTask
}

func (f *fakeReconciler) Produce(ctx context.Context, task domain.ReconcileTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

// failOnCompletedRepo fails the save that would finalize the order, which
// is the narrow window after payment capture where a reconcile task is the
// only safe answer.
type failOnCompletedRepo struct {
	domain.OrderRepository
}

func (r *failOnCompletedRepo) Save(ctx context.Context, order *domain.Order) error {
	if order.Status == domain.StatusCompleted {
		return errors.New("orders table unavailable")
	}
	return r.OrderRepository.Save(ctx, order)
}

type checkoutFixture struct {
	svc        *application.CheckoutService
	stock      *ledgerinfra.MemStockStore
	ledger     *ledgerapp.Service
	orders     domain.OrderRepository
	payment    *fakePayment
	reconciler *fakeReconciler
}

func newCheckoutFixture(orders domain.OrderRepository, payment *fakePayment) *checkoutFixture {
	tracer := otel.Tracer("test")
	stock := ledgerinfra.NewMemStockStore()
	stock.SetStock("TS-001", "M", 10)
	stock.SetStock("TS-001", "L", 2)
	ledger := ledgerapp.NewService(stock, tracer,
		ledgerapp.WithRetry(1, time.Millisecond),
		ledgerapp.WithOpTimeout(time.Second),
	)
	reconciler := &fakeReconciler{}
	svc := application.NewCheckoutService(orders, ledger, payment, reconciler, tracer, 5*time.Second)
	return &checkoutFixture{
		svc:        svc,
		stock:      stock,
		ledger:     ledger,
		orders:     orders,
		payment:    payment,
		reconciler: reconciler,
	}
}

func lineFixture() []domain.Line {
	return []domain.Line{
		{ItemID: "TS-001", Size: "M", Quantity: 2, UnitPriceCents: 1999},
		{ItemID: "TS-001", Size: "L", Quantity: 1, UnitPriceCents: 2499},
	}
}

func TestCheckoutSuccess(t *testing.T) {
	orders := infrastructure.NewMemOrderRepository()
	f := newCheckoutFixture(orders, &fakePayment{})
	ctx := context.Background()

	result, err := f.svc.Checkout(ctx, &application.CheckoutRequest{UserID: "u1", Lines: lineFixture()})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Fatalf("got status %s, want COMPLETED", result.Status)
	}
	if result.PaymentRef == "" {
		t.Fatal("completed checkout has no payment reference")
	}

	order, err := orders.FindByID(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	for _, key := range order.ReservationKeys() {
		res, err := f.stock.GetReservation(ctx, key)
		if err != nil {
			t.Fatalf("GetReservation %s: %v", key, err)
		}
		if res.State != ledgerdomain.StateCommitted {
			t.Fatalf("reservation %s in state %s, want COMMITTED", key, res.State)
		}
	}
	if available, _ := f.ledger.Available(ctx, "TS-001", "M"); available != 8 {
		t.Fatalf("stock M %d, want 8", available)
	}
	if len(f.reconciler.tasks) != 0 {
		t.Fatalf("successful checkout emitted %d reconcile tasks", len(f.reconciler.tasks))
	}
}

func TestCheckoutInsufficientStockRejectedBeforePayment(t *testing.T) {
	orders := infrastructure.NewMemOrderRepository()
	payment := &fakePayment{}
	f := newCheckoutFixture(orders, payment)
	ctx := context.Background()

	lines := []domain.Line{{ItemID: "TS-001", Size: "L", Quantity: 5, UnitPriceCents: 2499}}
	_, err := f.svc.Checkout(ctx, &application.CheckoutRequest{UserID: "u1", Lines: lines})
	if !errors.Is(err, application.ErrCheckoutRejected) {
		t.Fatalf("got %v, want ErrCheckoutRejected", err)
	}

	if payment.captures != 0 {
		t.Fatal("payment captured for a rejected checkout")
	}
	if available, _ := f.ledger.Available(ctx, "TS-001", "L"); available != 2 {
		t.Fatalf("stock L %d changed by rejected checkout", available)
	}
	// The cancelled order must not linger in PROCESSING for the sweeper.
	stuck, _ := orders.FindStuckProcessing(ctx, time.Now().Add(time.Hour))
	if len(stuck) != 0 {
		t.Fatalf("rejected checkout left %d orders in processing", len(stuck))
	}
}

func TestCheckoutPaymentDeclinedReleasesStock(t *testing.T) {
	orders := infrastructure.NewMemOrderRepository()
	payment := &fakePayment{failCapture: true}
	f := newCheckoutFixture(orders, payment)
	ctx := context.Background()

	_, err := f.svc.Checkout(ctx, &application.CheckoutRequest{UserID: "u1", Lines: lineFixture()})
	if err == nil {
		t.Fatal("expected checkout to fail on payment capture")
	}

	if available, _ := f.ledger.Available(ctx, "TS-001", "M"); available != 10 {
		t.Fatalf("stock M %d, want 10 after compensation", available)
	}
	if available, _ := f.ledger.Available(ctx, "TS-001", "L"); available != 2 {
		t.Fatalf("stock L %d, want 2 after compensation", available)
	}
	if len(payment.refunds) != 0 {
		t.Fatal("refund issued though no payment was captured")
	}
	if len(f.reconciler.tasks) != 0 {
		t.Fatalf("pre-payment failure emitted %d reconcile tasks", len(f.reconciler.tasks))
	}
}

func TestCheckoutPostPaymentFailureEmitsReconcileTask(t *testing.T) {
	orders := &failOnCompletedRepo{OrderRepository: infrastructure.NewMemOrderRepository()}
	payment := &fakePayment{}
	f := newCheckoutFixture(orders, payment)
	ctx := context.Background()

	lines := lineFixture()
	_, err := f.svc.Checkout(ctx, &application.CheckoutRequest{UserID: "u1", Lines: lines})
	if err == nil {
		t.Fatal("expected checkout to fail at finalization")
	}

	if len(f.reconciler.tasks) != 1 {
		t.Fatalf("got %d reconcile tasks, want 1", len(f.reconciler.tasks))
	}
	task := f.reconciler.tasks[0]
	if task.PaymentRef == "" {
		t.Fatal("reconcile task is missing the payment reference")
	}
	if len(task.ReservationKeys) != len(lines) {
		t.Fatalf("task carries %d reservation keys, want %d", len(task.ReservationKeys), len(lines))
	}
	if task.AmountCents != 2*1999+2499 {
		t.Fatalf("task amount %d cents, want the order total", task.AmountCents)
	}

	if len(payment.refunds) != 1 {
		t.Fatalf("got %d refunds, want 1", len(payment.refunds))
	}
	// The reservations were committed before the save failed, so the
	// release compensations are no-ops. The reconcile worker will find
	// them committed and only flag the order.
	if available, _ := f.ledger.Available(ctx, "TS-001", "M"); available != 8 {
		t.Fatalf("stock M %d, want 8 (committed units stay sold)", available)
	}
}

// Two lines for the same (item, size) would share one reservation key, so
// the second line would replay the first instead of reserving its own
// quantity: stock decremented once, customer charged for both.
func TestCheckoutRejectsDuplicateLines(t *testing.T) {
	orders := infrastructure.NewMemOrderRepository()
	payment := &fakePayment{}
	f := newCheckoutFixture(orders, payment)
	ctx := context.Background()

	lines := []domain.Line{
		{ItemID: "TS-001", Size: "M", Quantity: 1, UnitPriceCents: 1999},
		{ItemID: "TS-001", Size: "M", Quantity: 9, UnitPriceCents: 1999},
	}
	_, err := f.svc.Checkout(ctx, &application.CheckoutRequest{UserID: "u1", Lines: lines})
	if err == nil {
		t.Fatal("checkout with duplicate lines completed")
	}
	if payment.captures != 0 {
		t.Fatal("payment captured for a rejected checkout")
	}
	if available, _ := f.ledger.Available(ctx, "TS-001", "M"); available != 10 {
		t.Fatalf("stock M %d changed by rejected checkout", available)
	}
}

func TestCheckoutInvalidRequest(t *testing.T) {
	f := newCheckoutFixture(infrastructure.NewMemOrderRepository(), &fakePayment{})

	_, err := f.svc.Checkout(context.Background(), &application.CheckoutRequest{UserID: "u1"})
	if err == nil {
		t.Fatal("expected validation error for an empty cart")
	}
}
