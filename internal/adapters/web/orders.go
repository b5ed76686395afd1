package web

import (
	"net/http"

	"vatpilot/internal/shopify"

	"github.com/go-chi/chi/v5"
)

// apiPreviewOrder handles POST /api/shops/{shop}/orders/preview.
// Body: a Shopify order. Nothing is stored.
func (h *Handler) apiPreviewOrder(w http.ResponseWriter, r *http.Request) {
	var order shopify.Order
	if !decodeJSON(w, r, &order) {
		return
	}
	result, err := h.svc.PreviewOrder(r.Context(), shopDomain(r), order)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiRecomputeOrder handles POST /api/shops/{shop}/orders.
// Body: a Shopify order, typically the latest webhook payload including refunds.
func (h *Handler) apiRecomputeOrder(w http.ResponseWriter, r *http.Request) {
	var order shopify.Order
	if !decodeJSON(w, r, &order) {
		return
	}
	result, err := h.svc.RecomputeOrder(r.Context(), shopDomain(r), order)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetOrder handles GET /api/shops/{shop}/orders/{orderID}.
func (h *Handler) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	result, err := h.svc.GetOrderComputation(r.Context(), shopDomain(r), orderID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
