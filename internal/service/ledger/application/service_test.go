package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"atlas/internal/service/ledger/application"
	"atlas/internal/service/ledger/domain"
	"atlas/internal/service/ledger/domain/port"
	"atlas/internal/service/ledger/infrastructure"
)

func newTestService(store port.StockStore, opts ...application.Option) *application.Service {
	base := []application.Option{
		application.WithRetry(3, time.Millisecond),
		application.WithOpTimeout(time.Second),
	}
	return application.NewService(store, otel.Tracer("test"), append(base, opts...)...)
}

func TestReserveBoundaries(t *testing.T) {
	store := infrastructure.NewMemStockStore()
	store.SetStock("TS-001", "M", 2)
	store.SetStock("TS-001", "L", 3)
	svc := newTestService(store)
	ctx := context.Background()

	// Reserving exactly the remaining stock succeeds and drains the size.
	result, err := svc.Reserve(ctx, "TS-001", "M", 2, "order-1:TS-001:M")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if result.Status != domain.StatusOk || result.Remaining != 0 {
		t.Fatalf("got status=%v remaining=%d, want ok with 0 remaining", result.Status, result.Remaining)
	}

	// One more unit than available must be refused without touching stock.
	result, err = svc.Reserve(ctx, "TS-001", "L", 4, "order-2:TS-001:L")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if result.Status != domain.StatusInsufficientStock {
		t.Fatalf("got status=%v, want insufficient stock", result.Status)
	}
	if result.Remaining != 3 {
		t.Fatalf("got remaining=%d, want the untouched stock level 3", result.Remaining)
	}
	if available, _ := svc.Available(ctx, "TS-001", "L"); available != 3 {
		t.Fatalf("stock changed after refused reserve: %d", available)
	}
}

func TestReserveUnknownItem(t *testing.T) {
	store := infrastructure.NewMemStockStore()
	svc := newTestService(store)

	result, err := svc.Reserve(context.Background(), "NOPE", "M", 1, "order-1:NOPE:M")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if result.Status != domain.StatusNotFound {
		t.Fatalf("got status=%v, want not found", result.Status)
	}
}

func TestReserveValidation(t *testing.T) {
	svc := newTestService(infrastructure.NewMemStockStore())
	ctx := context.Background()

	cases := []struct {
		name     string
		itemID   string
		size     string
		quantity int
		key      string
	}{
		{"zero quantity", "TS-001", "M", 0, "k"},
		{"negative quantity", "TS-001", "M", -3, "k"},
		{"missing item", "", "M", 1, "k"},
		{"missing size", "TS-001", "", 1, "k"},
		{"missing key", "TS-001", "M", 1, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Reserve(ctx, tc.itemID, tc.size, tc.quantity, tc.key)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("got %v, want ErrValidation", err)
			}
		})
	}
}

func TestReserveIdempotentReplay(t *testing.T) {
	store := infrastructure.NewMemStockStore()
	store.SetStock("TS-001", "M", 10)
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.Reserve(ctx, "TS-001", "M", 3, "order-1:TS-001:M")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	second, err := svc.Reserve(ctx, "TS-001", "M", 3, "order-1:TS-001:M")
	if err != nil {
		t.Fatalf("Reserve replay: %v", err)
	}

	if !second.Replayed {
		t.Fatal("second call with the same key should be a replay")
	}
	if second.Status != domain.StatusOk || second.Remaining != first.Remaining {
		t.Fatalf("replay result %+v does not match original %+v", second, first)
	}
	if available, _ := svc.Available(ctx, "TS-001", "M"); available != 7 {
		t.Fatalf("stock decremented more than once: %d", available)
	}
}

// A refused reserve leaves no idempotency record, so the same key can
// succeed after the item is restocked.
func TestFailedReserveLeavesNoRecord(t *testing.T) {
	store := infrastructure.NewMemStockStore()
	store.SetStock("TS-001", "M", 2)
	store.SetStock("TS-001", "L", 0)
	svc := newTestService(store)
	ctx := context.Background()

	ok, err := svc.Reserve(ctx, "TS-001", "M", 1, "order-1:TS-001:M")
	if err != nil || ok.Status != domain.StatusOk {
		t.Fatalf("got %+v %v, want ok", ok, err)
	}

	refused, err := svc.Reserve(ctx, "TS-001", "L", 1, "order-1:TS-001:L")
	if err != nil || refused.Status != domain.StatusInsufficientStock {
		t.Fatalf("got %+v %v, want insufficient stock", refused, err)
	}
	if _, err := svc.Lookup(ctx, "order-1:TS-001:L"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("refused reserve left a record: %v", err)
	}

	store.SetStock("TS-001", "L", 5)
	retried, err := svc.Reserve(ctx, "TS-001", "L", 1, "order-1:TS-001:L")
	if err != nil {
		t.Fatalf("Reserve after restock: %v", err)
	}
	if retried.Status != domain.StatusOk || retried.Replayed {
		t.Fatalf("got %+v, want a fresh successful reserve", retried)
	}
}

func TestReserveReleaseLifecycle(t *testing.T) {
	store := infrastructure.NewMemStockStore()
	store.SetStock("P1", "M", 2)
	store.SetStock("P1", "L", 0)
	svc := newTestService(store)
	ctx := context.Background()

	r1, err := svc.Reserve(ctx, "P1", "M", 1, "k1")
	if err != nil || r1.Status != domain.StatusOk || r1.Remaining != 1 {
		t.Fatalf("first reserve: %+v %v", r1, err)
	}

	retry, err := svc.Reserve(ctx, "P1", "M", 1, "k1")
	if err != nil || !retry.Replayed || retry.Remaining != 1 {
		t.Fatalf("retried reserve: %+v %v", retry, err)
	}
	if available, _ := svc.Available(ctx, "P1", "M"); available != 1 {
		t.Fatalf("stock M %d after replay, want 1", available)
	}

	short, err := svc.Reserve(ctx, "P1", "M", 2, "k2")
	if err != nil || short.Status != domain.StatusInsufficientStock || short.Remaining != 1 {
		t.Fatalf("over-quantity reserve: %+v %v", short, err)
	}

	empty, err := svc.Reserve(ctx, "P1", "L", 1, "k3")
	if err != nil || empty.Status != domain.StatusInsufficientStock || empty.Remaining != 0 {
		t.Fatalf("reserve on empty size: %+v %v", empty, err)
	}

	if _, err := svc.Release(ctx, "k1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if available, _ := svc.Available(ctx, "P1", "M"); available != 2 {
		t.Fatalf("stock M %d after release, want 2", available)
	}
}

func TestConcurrentReserveNoOversell(t *testing.T) {
	const stock = 10
	const attempts = 50

	store := infrastructure.NewMemStockStore()
	store.SetStock("TS-001", "M", stock)
	svc := newTestService(store)

	var mu sync.Mutex
	granted := 0
	refused := 0

	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < attempts; i++ {
		key := fmt.Sprintf("order-%d:TS-001:M", i)
		group.Go(func() error {
			result, err := svc.Reserve(ctx, "TS-001", "M", 1, key)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch result.Status {
			case domain.StatusOk:
				granted++
			case domain.StatusInsufficientStock:
				refused++
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatalf("concurrent reserve: %v", err)
	}

	if granted != stock {
		t.Fatalf("granted %d reservations for %d units of stock", granted, stock)
	}
	if refused != attempts-stock {
		t.Fatalf("refused %d, want %d", refused, attempts-stock)
	}
	if available, _ := svc.Available(context.Background(), "TS-001", "M"); available != 0 {
		t.Fatalf("remaining stock %d, want 0", available)
	}
}

func TestCommitIdempotent(t *testing.T) {
	store := infrastructure.NewMemStockStore()
	store.SetStock("TS-001", "M", 5)
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "TS-001", "M", 2, "order-1:TS-001:M"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := svc.Commit(ctx, "order-1:TS-001:M"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := svc.Commit(ctx, "order-1:TS-001:M"); err != nil {
		t.Fatalf("repeated Commit: %v", err)
	}

	// A committed reservation can no longer be released.
	released, err := svc.Release(ctx, "order-1:TS-001:M")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Released {
		t.Fatal("released a committed reservation")
	}
	if available, _ := svc.Available(ctx, "TS-001", "M"); available != 3 {
		t.Fatalf("stock changed by release of committed reservation: %d", available)
	}
}

func TestCommitUnknownKey(t *testing.T) {
	svc := newTestService(infrastructure.NewMemStockStore())
	if err := svc.Commit(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestReleaseRoundTrip(t *testing.T) {
	store := infrastructure.NewMemStockStore()
	store.SetStock("TS-001", "M", 5)
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "TS-001", "M", 3, "order-1:TS-001:M"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	released, err := svc.Release(ctx, "order-1:TS-001:M")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !released.Released || released.Quantity != 3 {
		t.Fatalf("got %+v, want released quantity 3", released)
	}
	if available, _ := svc.Available(ctx, "TS-001", "M"); available != 5 {
		t.Fatalf("stock after release %d, want 5", available)
	}

	// Releasing again, or releasing an unknown key, is a quiet no-op.
	again, err := svc.Release(ctx, "order-1:TS-001:M")
	if err != nil || again.Released {
		t.Fatalf("repeated release: %+v %v", again, err)
	}
	unknown, err := svc.Release(ctx, "never-reserved")
	if err != nil || unknown.Released {
		t.Fatalf("release of unknown key: %+v %v", unknown, err)
	}
}

// flakyStore fails the first `failures` Reserve calls before delegating to
// the underlying store.
type flakyStore struct {
	port.StockStore

	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) Reserve(ctx context.Context, res *domain.Reservation) (domain.ReservationResult, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return domain.ReservationResult{}, errors.New("connection reset by peer")
	}
	return f.StockStore.Reserve(ctx, res)
}

func TestReserveRetriesTransientFailure(t *testing.T) {
	mem := infrastructure.NewMemStockStore()
	mem.SetStock("TS-001", "M", 5)
	flaky := &flakyStore{StockStore: mem, failures: 2}
	svc := newTestService(flaky)

	result, err := svc.Reserve(context.Background(), "TS-001", "M", 1, "order-1:TS-001:M")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if result.Status != domain.StatusOk {
		t.Fatalf("got status=%v, want ok after retries", result.Status)
	}
	if flaky.calls != 3 {
		t.Fatalf("store called %d times, want 3", flaky.calls)
	}
}

// lostReplyStore applies the first reserve but reports an error, as if the
// write landed and the reply was lost, then lets another buyer take a unit
// before any retry can run.
type lostReplyStore struct {
	port.StockStore
	applied bool
}

func (f *lostReplyStore) Reserve(ctx context.Context, res *domain.Reservation) (domain.ReservationResult, error) {
	if !f.applied {
		f.applied = true
		if _, err := f.StockStore.Reserve(ctx, res); err != nil {
			return domain.ReservationResult{}, err
		}
		other := *res
		other.IdempotencyKey = "order-2:" + res.ItemID + ":" + res.Size
		other.Quantity = 1
		if _, err := f.StockStore.Reserve(ctx, &other); err != nil {
			return domain.ReservationResult{}, err
		}
	}
	return domain.ReservationResult{}, errors.New("connection reset by peer")
}

func TestReserveRecoversViaIdempotencyRecord(t *testing.T) {
	mem := infrastructure.NewMemStockStore()
	mem.SetStock("TS-001", "M", 5)
	svc := newTestService(&lostReplyStore{StockStore: mem})
	ctx := context.Background()

	result, err := svc.Reserve(ctx, "TS-001", "M", 2, "order-1:TS-001:M")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if result.Status != domain.StatusOk || !result.Replayed {
		t.Fatalf("got %+v, want a replayed ok recovered from the record", result)
	}
	// The recovered result reports the stock recorded with the reservation,
	// not the live level the other buyer has since moved.
	if result.Remaining != 3 {
		t.Fatalf("recovered remaining %d, want the recorded 3", result.Remaining)
	}
	if available, _ := svc.Available(ctx, "TS-001", "M"); available != 2 {
		t.Fatalf("stock %d, want 2 after both buyers", available)
	}
}

func TestReserveUnavailableAfterExhaustedRetries(t *testing.T) {
	mem := infrastructure.NewMemStockStore()
	mem.SetStock("TS-001", "M", 5)
	flaky := &flakyStore{StockStore: mem, failures: 100}
	svc := newTestService(flaky)

	_, err := svc.Reserve(context.Background(), "TS-001", "M", 1, "order-1:TS-001:M")
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	if available, _ := svc.Available(context.Background(), "TS-001", "M"); available != 5 {
		t.Fatalf("stock %d changed by failed reserve", available)
	}
}

func TestAvailableUnknownSize(t *testing.T) {
	store := infrastructure.NewMemStockStore()
	store.SetStock("TS-001", "M", 5)
	svc := newTestService(store)

	if _, err := svc.Available(context.Background(), "TS-001", "XXL"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
