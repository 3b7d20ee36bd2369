// Package domain defines the product catalog aggregate. Stock values here
// are read-only projections; all stock writes go through the ledger.
package domain

import "errors"

var ErrProductNotFound = errors.New("product not found")

// SizeStock is one size entry of a product with its current stock count.
type SizeStock struct {
	Size  string
	Stock int
}

// Product is a catalog entry. ItemID is unique and immutable once created.
type Product struct {
	ItemID     string
	Name       string
	PriceCents int64
	Sizes      []SizeStock
}

// NewProduct validates and builds a product. Size labels must be unique
// within the product and stock counts non-negative.
func NewProduct(itemID, name string, priceCents int64, sizes []SizeStock) (*Product, error) {
	if itemID == "" || name == "" {
		return nil, errors.New("item id and name are required")
	}
	if priceCents < 0 {
		return nil, errors.New("price cannot be negative")
	}
	seen := make(map[string]struct{}, len(sizes))
	for _, s := range sizes {
		if s.Size == "" {
			return nil, errors.New("size label cannot be empty")
		}
		if s.Stock < 0 {
			return nil, errors.New("stock cannot be negative")
		}
		if _, dup := seen[s.Size]; dup {
			return nil, errors.New("duplicate size label: " + s.Size)
		}
		seen[s.Size] = struct{}{}
	}
	return &Product{ItemID: itemID, Name: name, PriceCents: priceCents, Sizes: sizes}, nil
}

// SizeFor returns the size entry matching label.
func (p *Product) SizeFor(label string) (SizeStock, bool) {
	for _, s := range p.Sizes {
		if s.Size == label {
			return s, true
		}
	}
	return SizeStock{}, false
}
