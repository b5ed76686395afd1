package web

import (
	"net/http"

	"vatpilot/internal/core"
)

// apiGetTaxSettings handles GET /api/shops/{shop}/settings/tax.
func (h *Handler) apiGetTaxSettings(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetTaxSettings(r.Context(), shopDomain(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiUpdateTaxSettings handles PUT /api/shops/{shop}/settings/tax.
// The shop in the path wins over any shop_domain in the body.
func (h *Handler) apiUpdateTaxSettings(w http.ResponseWriter, r *http.Request) {
	var body core.ShopSettings
	if !decodeJSON(w, r, &body) {
		return
	}
	body.ShopDomain = shopDomain(r)
	result, err := h.svc.UpdateTaxSettings(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
