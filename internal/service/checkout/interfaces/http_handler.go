// Package interfaces exposes checkout over HTTP.
package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"atlas/internal/service/checkout/application"
	"atlas/internal/service/checkout/domain"
)

const serviceName = "stock-service"

type CheckoutHandler struct {
	service *application.CheckoutService
}

func NewCheckoutHandler(service *application.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

func (h *CheckoutHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/checkout", h.checkoutHandler)
}

type checkoutLine struct {
	ItemID         string `json:"item_id"`
	Size           string `json:"size"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type checkoutRequest struct {
	UserID string         `json:"user_id"`
	Lines  []checkoutLine `json:"lines"`
}

func (h *CheckoutHandler) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.Checkout")
	defer span.End()

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	lines := make([]domain.Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.Line{
			ItemID:         l.ItemID,
			Size:           l.Size,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}

	result, err := h.service.Checkout(ctx, &application.CheckoutRequest{
		UserID: req.UserID,
		Lines:  lines,
	})
	if err != nil {
		if errors.Is(err, application.ErrCheckoutRejected) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"order_id":    result.OrderID,
		"status":      string(result.Status),
		"payment_ref": result.PaymentRef,
	})
}
