package infrastructure

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"atlas/internal/service/catalog/domain"
)

// ProductModel maps the products table.
type ProductModel struct {
	gorm.Model
	ItemID     string `gorm:"uniqueIndex;size:64"`
	Name       string `gorm:"size:255"`
	PriceCents int64
}

func (ProductModel) TableName() string {
	return "products"
}

// ProductSizeModel maps the shared product_sizes table. The ledger owns the
// stock column; the catalog only creates rows and reads them.
type ProductSizeModel struct {
	gorm.Model
	ItemID string `gorm:"uniqueIndex:idx_item_size;size:64"`
	Size   string `gorm:"uniqueIndex:idx_item_size;size:32"`
	Stock  int
}

func (ProductSizeModel) TableName() string {
	return "product_sizes"
}

// GormProductRepository is the MySQL ProductRepository implementation.
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&ProductModel{}, &ProductSizeModel{})
}

func (r *GormProductRepository) Create(ctx context.Context, product *domain.Product) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := ProductModel{
			ItemID:     product.ItemID,
			Name:       product.Name,
			PriceCents: product.PriceCents,
		}
		if err := tx.Create(&model).Error; err != nil {
			return errors.Wrap(err, "create product")
		}
		for _, s := range product.Sizes {
			row := ProductSizeModel{ItemID: product.ItemID, Size: s.Size, Stock: s.Stock}
			if err := tx.Create(&row).Error; err != nil {
				return errors.Wrap(err, "create product size")
			}
		}
		return nil
	})
}

func (r *GormProductRepository) FindByItemID(ctx context.Context, itemID string) (*domain.Product, error) {
	var model ProductModel
	err := r.db.WithContext(ctx).Where("item_id = ?", itemID).First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, errors.Wrap(err, "find product")
	}

	var sizeRows []ProductSizeModel
	if err := r.db.WithContext(ctx).Where("item_id = ?", itemID).Order("id").Find(&sizeRows).Error; err != nil {
		return nil, errors.Wrap(err, "load product sizes")
	}

	return toDomainProduct(&model, sizeRows), nil
}

func (r *GormProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	var models []ProductModel
	if err := r.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	out := make([]*domain.Product, 0, len(models))
	for i := range models {
		var sizeRows []ProductSizeModel
		if err := r.db.WithContext(ctx).Where("item_id = ?", models[i].ItemID).Order("id").Find(&sizeRows).Error; err != nil {
			return nil, errors.Wrap(err, "load product sizes")
		}
		out = append(out, toDomainProduct(&models[i], sizeRows))
	}
	return out, nil
}

func toDomainProduct(model *ProductModel, sizeRows []ProductSizeModel) *domain.Product {
	sizes := make([]domain.SizeStock, 0, len(sizeRows))
	for _, row := range sizeRows {
		sizes = append(sizes, domain.SizeStock{Size: row.Size, Stock: row.Stock})
	}
	return &domain.Product{
		ItemID:     model.ItemID,
		Name:       model.Name,
		PriceCents: model.PriceCents,
		Sizes:      sizes,
	}
}
