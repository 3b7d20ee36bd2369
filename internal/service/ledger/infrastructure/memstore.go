package infrastructure

import (
	"context"
	"sync"

	"atlas/internal/service/ledger/domain"
)

type memReservation struct {
	res    domain.Reservation
	result domain.ReservationResult
}

// MemStockStore is an in-memory StockStore used by tests and local runs.
// A single mutex stands in for the storage engine's atomic conditional
// update, so the decrement-and-record step stays one atomic unit.
type MemStockStore struct {
	mu           sync.Mutex
	stock        map[string]map[string]int // itemID -> size -> stock
	reservations map[string]*memReservation
}

func NewMemStockStore() *MemStockStore {
	return &MemStockStore{
		stock:        make(map[string]map[string]int),
		reservations: make(map[string]*memReservation),
	}
}

// SetStock seeds the stock level for an (item, size) pair.
func (m *MemStockStore) SetStock(itemID, size string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes, ok := m.stock[itemID]
	if !ok {
		sizes = make(map[string]int)
		m.stock[itemID] = sizes
	}
	sizes[size] = stock
}

func (m *MemStockStore) FindSizeStock(ctx context.Context, itemID, size string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.lookupStock(itemID, size)
	if !ok {
		return 0, domain.ErrNotFound
	}
	return stock, nil
}

func (m *MemStockStore) Reserve(ctx context.Context, res *domain.Reservation) (domain.ReservationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.reservations[res.IdempotencyKey]; ok {
		replay := prior.result
		replay.Replayed = true
		return replay, nil
	}

	stock, ok := m.lookupStock(res.ItemID, res.Size)
	if !ok {
		return domain.ReservationResult{Status: domain.StatusNotFound}, nil
	}
	if stock < res.Quantity {
		return domain.ReservationResult{Status: domain.StatusInsufficientStock, Remaining: stock}, nil
	}

	remaining := stock - res.Quantity
	m.stock[res.ItemID][res.Size] = remaining
	result := domain.ReservationResult{Status: domain.StatusOk, Remaining: remaining}
	stored := *res
	stored.RemainingAfter = remaining
	m.reservations[res.IdempotencyKey] = &memReservation{res: stored, result: result}
	return result, nil
}

func (m *MemStockStore) Commit(ctx context.Context, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.reservations[idempotencyKey]
	if !ok {
		return domain.ErrNotFound
	}
	return entry.res.Commit()
}

func (m *MemStockStore) Release(ctx context.Context, idempotencyKey string) (domain.ReleaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.reservations[idempotencyKey]
	if !ok || entry.res.State != domain.StateReserved {
		return domain.ReleaseResult{Released: false}, nil
	}
	if err := entry.res.Release(); err != nil {
		return domain.ReleaseResult{}, err
	}
	m.stock[entry.res.ItemID][entry.res.Size] += entry.res.Quantity
	return domain.ReleaseResult{Released: true, Quantity: entry.res.Quantity}, nil
}

func (m *MemStockStore) GetReservation(ctx context.Context, idempotencyKey string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.reservations[idempotencyKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := entry.res
	return &copy, nil
}

func (m *MemStockStore) lookupStock(itemID, size string) (int, bool) {
	sizes, ok := m.stock[itemID]
	if !ok {
		return 0, false
	}
	stock, ok := sizes[size]
	return stock, ok
}
