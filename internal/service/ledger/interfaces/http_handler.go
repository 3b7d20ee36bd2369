// Package interfaces exposes the stock ledger over HTTP.
package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"atlas/internal/service/ledger/application"
	"atlas/internal/service/ledger/domain"
)

const serviceName = "stock-service"

type LedgerHandler struct {
	service *application.Service
}

func NewLedgerHandler(service *application.Service) *LedgerHandler {
	return &LedgerHandler{service: service}
}

// RegisterRoutes mounts the ledger endpoints on mux.
func (h *LedgerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stock/reserve", h.reserveHandler)
	mux.HandleFunc("/stock/release", h.releaseHandler)
	mux.HandleFunc("/stock/available", h.availableHandler)
}

type reserveRequest struct {
	ItemID         string `json:"item_id"`
	Size           string `json:"size"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

type reserveResponse struct {
	Status    string `json:"status"`
	Remaining int    `json:"remaining"`
	Replayed  bool   `json:"replayed,omitempty"`
}

func (h *LedgerHandler) reserveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.ReserveStock")
	defer span.End()

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Reserve(ctx, req.ItemID, req.Size, req.Quantity, req.IdempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == domain.StatusInsufficientStock {
		status = http.StatusConflict
	} else if result.Status == domain.StatusNotFound {
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(reserveResponse{
		Status:    result.Status.String(),
		Remaining: result.Remaining,
		Replayed:  result.Replayed,
	})
}

type releaseRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *LedgerHandler) releaseHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.ReleaseStock")
	defer span.End()

	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Release(ctx, req.IdempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"released": result.Released,
		"quantity": result.Quantity,
	})
}

func (h *LedgerHandler) availableHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "http.AvailableStock")
	defer span.End()

	itemID := r.URL.Query().Get("item_id")
	size := r.URL.Query().Get("size")
	stock, err := h.service.Available(ctx, itemID, size)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"available": stock})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
