package infrastructure

import (
	"context"
	stderrors "errors"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"atlas/internal/service/ledger/domain"
)

const mysqlDuplicateEntry = 1062

var errDuplicateReservation = stderrors.New("reservation already recorded by a concurrent attempt")

// GormStockStore is the MySQL-backed StockStore. The conditional decrement
// is a single UPDATE guarded by `stock >= ?`, executed in one transaction
// with the reservation insert, so concurrent reserves on the last unit are
// linearized by the database and never oversell.
type GormStockStore struct {
	db *gorm.DB
}

func NewGormStockStore(db *gorm.DB) *GormStockStore {
	return &GormStockStore{db: db}
}

// AutoMigrate creates the stock tables.
func (s *GormStockStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ProductSizeModel{}, &StockReservationModel{})
}

func (s *GormStockStore) FindSizeStock(ctx context.Context, itemID, size string) (int, error) {
	var model ProductSizeModel
	err := s.db.WithContext(ctx).Where("item_id = ? AND size = ?", itemID, size).First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return 0, domain.ErrNotFound
		}
		return 0, errors.Wrap(err, "find size stock")
	}
	return model.Stock, nil
}

func (s *GormStockStore) Reserve(ctx context.Context, res *domain.Reservation) (result domain.ReservationResult, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Replay: a reservation with this key means the decrement was
		// already applied.
		var prior StockReservationModel
		findErr := tx.Where("idempotency_key = ?", res.IdempotencyKey).First(&prior).Error
		if findErr == nil {
			result = domain.ReservationResult{Status: domain.StatusOk, Remaining: prior.RemainingAfter, Replayed: true}
			return nil
		}
		if !stderrors.Is(findErr, gorm.ErrRecordNotFound) {
			return errors.Wrap(findErr, "lookup reservation")
		}

		// The compare-and-decrement: one round-trip, no read-then-write.
		update := tx.Model(&ProductSizeModel{}).
			Where("item_id = ? AND size = ? AND stock >= ?", res.ItemID, res.Size, res.Quantity).
			Update("stock", gorm.Expr("stock - ?", res.Quantity))
		if update.Error != nil {
			return errors.Wrap(update.Error, "conditional decrement")
		}
		if update.RowsAffected == 0 {
			// Either the row does not exist or stock was short; tell them
			// apart with a read. No write happened in this branch.
			var row ProductSizeModel
			rowErr := tx.Where("item_id = ? AND size = ?", res.ItemID, res.Size).First(&row).Error
			if stderrors.Is(rowErr, gorm.ErrRecordNotFound) {
				result = domain.ReservationResult{Status: domain.StatusNotFound}
				return nil
			}
			if rowErr != nil {
				return errors.Wrap(rowErr, "inspect size row")
			}
			result = domain.ReservationResult{Status: domain.StatusInsufficientStock, Remaining: row.Stock}
			return nil
		}

		var row ProductSizeModel
		if rowErr := tx.Where("item_id = ? AND size = ?", res.ItemID, res.Size).First(&row).Error; rowErr != nil {
			return errors.Wrap(rowErr, "read stock after decrement")
		}

		record := StockReservationModel{
			IdempotencyKey: res.IdempotencyKey,
			ItemID:         res.ItemID,
			Size:           res.Size,
			Quantity:       res.Quantity,
			State:          domain.StateReserved,
			RemainingAfter: row.Stock,
		}
		// A concurrent reserve with the same key loses the unique-index
		// race here; the transaction rolls back the decrement and the
		// winner's result is replayed below.
		if insertErr := tx.Create(&record).Error; insertErr != nil {
			var mysqlErr *mysql.MySQLError
			if stderrors.As(insertErr, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
				return errDuplicateReservation
			}
			return errors.Wrap(insertErr, "persist reservation")
		}

		result = domain.ReservationResult{Status: domain.StatusOk, Remaining: row.Stock}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errDuplicateReservation) {
			var prior StockReservationModel
			if findErr := s.db.WithContext(ctx).Where("idempotency_key = ?", res.IdempotencyKey).First(&prior).Error; findErr == nil {
				return domain.ReservationResult{Status: domain.StatusOk, Remaining: prior.RemainingAfter, Replayed: true}, nil
			}
			return domain.ReservationResult{}, errors.Wrap(err, "replay concurrent reservation")
		}
		return domain.ReservationResult{}, err
	}
	return result, nil
}

func (s *GormStockStore) Commit(ctx context.Context, idempotencyKey string) error {
	res := s.db.WithContext(ctx).Model(&StockReservationModel{}).
		Where("idempotency_key = ? AND state IN ?", idempotencyKey, []domain.State{domain.StateReserved, domain.StateCommitted}).
		Update("state", domain.StateCommitted)
	if res.Error != nil {
		return errors.Wrap(res.Error, "commit reservation")
	}
	if res.RowsAffected == 0 {
		var prior StockReservationModel
		err := s.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&prior).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "lookup reservation")
		}
		return commitConflict(prior.State)
	}
	return nil
}

// commitConflict interprets a guarded commit UPDATE that affected no rows.
// MySQL counts changed rows, not found rows, so a replayed commit whose
// updated_at lands in the same millisecond reports zero affected rows even
// though the reservation is already committed; that replay is a no-op.
func commitConflict(state domain.State) error {
	if state == domain.StateCommitted {
		return nil
	}
	return errors.Errorf("cannot commit reservation in state %s", state)
}

func (s *GormStockStore) Release(ctx context.Context, idempotencyKey string) (result domain.ReleaseResult, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Flip the state first; RowsAffected==0 makes repeated releases
		// no-ops without any stock write.
		update := tx.Model(&StockReservationModel{}).
			Where("idempotency_key = ? AND state = ?", idempotencyKey, domain.StateReserved).
			Update("state", domain.StateReleased)
		if update.Error != nil {
			return errors.Wrap(update.Error, "release reservation")
		}
		if update.RowsAffected == 0 {
			result = domain.ReleaseResult{Released: false}
			return nil
		}

		var record StockReservationModel
		if findErr := tx.Where("idempotency_key = ?", idempotencyKey).First(&record).Error; findErr != nil {
			return errors.Wrap(findErr, "lookup released reservation")
		}

		increment := tx.Model(&ProductSizeModel{}).
			Where("item_id = ? AND size = ?", record.ItemID, record.Size).
			Update("stock", gorm.Expr("stock + ?", record.Quantity))
		if increment.Error != nil {
			return errors.Wrap(increment.Error, "return stock")
		}

		result = domain.ReleaseResult{Released: true, Quantity: record.Quantity}
		return nil
	})
	if err != nil {
		return domain.ReleaseResult{}, err
	}
	return result, nil
}

func (s *GormStockStore) GetReservation(ctx context.Context, idempotencyKey string) (*domain.Reservation, error) {
	var model StockReservationModel
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup reservation")
	}
	return model.toDomain(), nil
}
