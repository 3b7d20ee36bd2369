package domain

import "context"

// ProductRepository persists catalog entries. Implemented by infrastructure.
type ProductRepository interface {
	// Create stores a new product and its size rows.
	Create(ctx context.Context, product *Product) error

	// FindByItemID loads a product with its sizes, or ErrProductNotFound.
	FindByItemID(ctx context.Context, itemID string) (*Product, error)

	// List returns all products ordered by creation time.
	List(ctx context.Context) ([]*Product, error)
}
