package infrastructure

import (
	"gorm.io/gorm"

	"atlas/internal/service/ledger/domain"
)

// ProductSizeModel maps the per-size stock rows. Stock is only ever written
// through the conditional update in GormStockStore.
type ProductSizeModel struct {
	gorm.Model
	ItemID string `gorm:"uniqueIndex:idx_item_size;size:64"`
	Size   string `gorm:"uniqueIndex:idx_item_size;size:32"`
	Stock  int
}

func (ProductSizeModel) TableName() string {
	return "product_sizes"
}

// StockReservationModel maps the reservation records. The unique index on
// the idempotency key is what makes retried reserves replay instead of
// double-apply.
type StockReservationModel struct {
	gorm.Model
	IdempotencyKey string `gorm:"uniqueIndex;size:191"`
	ItemID         string `gorm:"size:64"`
	Size           string `gorm:"size:32"`
	Quantity       int
	State          domain.State `gorm:"size:16"`
	// RemainingAfter captures the stock level right after the decrement so
	// a replayed reserve can return the original result.
	RemainingAfter int
}

func (StockReservationModel) TableName() string {
	return "stock_reservations"
}

func (m *StockReservationModel) toDomain() *domain.Reservation {
	return &domain.Reservation{
		ItemID:         m.ItemID,
		Size:           m.Size,
		Quantity:       m.Quantity,
		IdempotencyKey: m.IdempotencyKey,
		State:          m.State,
		RemainingAfter: m.RemainingAfter,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
