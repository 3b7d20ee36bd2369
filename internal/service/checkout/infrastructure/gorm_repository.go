package infrastructure

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"atlas/internal/service/checkout/domain"
)

// OrderModel maps the orders table.
type OrderModel struct {
	gorm.Model
	OrderID      string `gorm:"uniqueIndex;size:64"`
	UserID       string `gorm:"index;size:64"`
	Status       domain.Status `gorm:"size:16;index"`
	PaymentRef   string        `gorm:"size:128"`
	NeedsReview  bool          `gorm:"index"`
	ReviewReason string        `gorm:"size:255"`

	Lines []OrderLineModel `gorm:"foreignKey:OrderID;references:OrderID"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderLineModel maps order line rows.
type OrderLineModel struct {
	gorm.Model
	OrderID        string `gorm:"index;size:64"`
	ItemID         string `gorm:"size:64"`
	Size           string `gorm:"size:32"`
	Quantity       int
	UnitPriceCents int64
}

func (OrderLineModel) TableName() string {
	return "order_lines"
}

// GormOrderRepository is the MySQL OrderRepository implementation.
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&OrderModel{}, &OrderLineModel{})
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := OrderModel{
			OrderID:      order.ID,
			UserID:       order.UserID,
			Status:       order.Status,
			PaymentRef:   order.PaymentRef,
			NeedsReview:  order.NeedsReview,
			ReviewReason: order.ReviewReason,
		}
		// Upsert on the order id: Save is used for both creation and
		// status updates.
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "payment_ref", "needs_review", "review_reason", "updated_at",
			}),
		}).Create(&model).Error
		if err != nil {
			return errors.Wrap(err, "save order")
		}

		var count int64
		if err := tx.Model(&OrderLineModel{}).Where("order_id = ?", order.ID).Count(&count).Error; err != nil {
			return errors.Wrap(err, "count order lines")
		}
		if count == 0 {
			for _, l := range order.Lines {
				row := OrderLineModel{
					OrderID:        order.ID,
					ItemID:         l.ItemID,
					Size:           l.Size,
					Quantity:       l.Quantity,
					UnitPriceCents: l.UnitPriceCents,
				}
				if err := tx.Create(&row).Error; err != nil {
					return errors.Wrap(err, "save order line")
				}
			}
		}
		return nil
	})
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Lines").Where("order_id = ?", id).First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "find order")
	}
	return toDomainOrder(&model), nil
}

func (r *GormOrderRepository) FlagForReview(ctx context.Context, id, reason string) error {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("order_id = ?", id).
		Updates(map[string]interface{}{"needs_review": true, "review_reason": reason})
	if res.Error != nil {
		return errors.Wrap(res.Error, "flag order for review")
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *GormOrderRepository) FindStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).Preload("Lines").
		Where("status = ? AND needs_review = ? AND updated_at < ?", domain.StatusProcessing, false, cutoff).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find stuck orders")
	}
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		out = append(out, toDomainOrder(&models[i]))
	}
	return out, nil
}

func toDomainOrder(model *OrderModel) *domain.Order {
	lines := make([]domain.Line, 0, len(model.Lines))
	for _, l := range model.Lines {
		lines = append(lines, domain.Line{
			ItemID:         l.ItemID,
			Size:           l.Size,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}
	return &domain.Order{
		ID:           model.OrderID,
		UserID:       model.UserID,
		Lines:        lines,
		Status:       model.Status,
		PaymentRef:   model.PaymentRef,
		NeedsReview:  model.NeedsReview,
		ReviewReason: model.ReviewReason,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}
