package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/intake"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/go-chi/chi/v5"
)

// StatusReader answers GET /orders/{id} from the store.
type StatusReader interface {
	GetOrderStatus(ctx context.Context, orderID string) (orders.Status, error)
}

// StatusCache is consulted before the store and refreshed after a miss.
type StatusCache interface {
	GetStatus(ctx context.Context, orderID string) (json.RawMessage, bool)
	SetStatus(ctx context.Context, orderID, status string)
}

// StockReader backs the stock lookup endpoint.
type StockReader interface {
	GetItem(ctx context.Context, productID string) (orders.InventoryItem, error)
}

type OrdersHandler struct {
	Intake *intake.Service
	Reader StatusReader
	Stock  StockReader
	Cache  StatusCache
}

type PlaceOrderResp struct {
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	if h.Stock != nil {
		r.Get("/inventory/{productId}", h.getStock)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req intake.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID, err := h.Intake.PlaceOrder(ctx, req, r.Header.Get("X-Request-Id"))
	if err != nil {
		if orders.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, PlaceOrderResp{
		OrderID: orderID,
		Message: "Order placed successfully",
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if raw, ok := h.Cache.GetStatus(ctx, orderID); ok {
			writeJSON(w, http.StatusOK, raw)
			return
		}
	}

	status, err := h.Reader.GetOrderStatus(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if h.Cache != nil {
		h.Cache.SetStatus(ctx, orderID, string(status))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (h *OrdersHandler) getStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	item, err := h.Stock.GetItem(ctx, productID)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, item)
}
