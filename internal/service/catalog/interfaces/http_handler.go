// Package interfaces exposes the admin catalog endpoints.
package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"atlas/internal/service/catalog/domain"
)

const serviceName = "stock-service"

type CatalogHandler struct {
	repo domain.ProductRepository
}

func NewCatalogHandler(repo domain.ProductRepository) *CatalogHandler {
	return &CatalogHandler{repo: repo}
}

func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/products", h.productsHandler)
	mux.HandleFunc("/products", h.getProductHandler)
}

type sizePayload struct {
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

type productPayload struct {
	ItemID     string        `json:"item_id"`
	Name       string        `json:"name"`
	PriceCents int64         `json:"price_cents"`
	Sizes      []sizePayload `json:"sizes"`
}

func (h *CatalogHandler) productsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.AdminProducts")
	defer span.End()

	switch r.Method {
	case http.MethodPost:
		var payload productPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		sizes := make([]domain.SizeStock, 0, len(payload.Sizes))
		for _, s := range payload.Sizes {
			sizes = append(sizes, domain.SizeStock{Size: s.Size, Stock: s.Stock})
		}
		product, err := domain.NewProduct(payload.ItemID, payload.Name, payload.PriceCents, sizes)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.repo.Create(ctx, product); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toPayload(product))
	case http.MethodGet:
		products, err := h.repo.List(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]productPayload, 0, len(products))
		for _, p := range products {
			out = append(out, toPayload(p))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CatalogHandler) getProductHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.GetProduct")
	defer span.End()

	itemID := r.URL.Query().Get("item_id")
	product, err := h.repo.FindByItemID(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toPayload(product))
}

func toPayload(p *domain.Product) productPayload {
	sizes := make([]sizePayload, 0, len(p.Sizes))
	for _, s := range p.Sizes {
		sizes = append(sizes, sizePayload{Size: s.Size, Stock: s.Stock})
	}
	return productPayload{
		ItemID:     p.ItemID,
		Name:       p.Name,
		PriceCents: p.PriceCents,
		Sizes:      sizes,
	}
}
