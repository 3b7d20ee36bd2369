package infrastructure

import (
	"context"
	"sync"
	"time"

	"atlas/internal/service/checkout/domain"
)

// MemOrderRepository is the in-memory OrderRepository used by tests and
// the memory store driver.
type MemOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func NewMemOrderRepository() *MemOrderRepository {
	return &MemOrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *order
	r.orders[order.ID] = &copy
	return nil
}

func (r *MemOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copy := *order
	return &copy, nil
}

func (r *MemOrderRepository) FlagForReview(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.FlagForReview(reason)
	return nil
}

func (r *MemOrderRepository) FindStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, order := range r.orders {
		if order.Status == domain.StatusProcessing && !order.NeedsReview && order.UpdatedAt.Before(cutoff) {
			copy := *order
			out = append(out, &copy)
		}
	}
	return out, nil
}
