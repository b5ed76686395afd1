package web

import (
	"net/http"

	"vatpilot/internal/app"
)

// apiHMRCAuthorize handles GET /api/shops/{shop}/hmrc/authorize?vrn.
// Redirects to the HMRC consent page, or returns {"url": ...} with format=json.
func (h *Handler) apiHMRCAuthorize(w http.ResponseWriter, r *http.Request) {
	url, err := h.svc.HMRCAuthURL(r.Context(), shopDomain(r), r.URL.Query().Get("vrn"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, map[string]string{"url": url})
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// apiHMRCCallback handles GET /api/hmrc/callback?code&state.
func (h *Handler) apiHMRCCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, r, "authorization declined: "+e, "HMRC_AUTH_DECLINED", http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, r, "code is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.CompleteHMRCAuth(r.Context(), code, q.Get("state"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiHMRCStatus handles GET /api/shops/{shop}/hmrc/status?vrn.
func (h *Handler) apiHMRCStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.HMRCStatus(r.Context(), shopDomain(r), r.URL.Query().Get("vrn"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiListObligations handles GET /api/shops/{shop}/hmrc/obligations?vrn&from&to&status.
func (h *Handler) apiListObligations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.svc.ListObligations(r.Context(), app.ObligationsRequest{
		Shop:   shopDomain(r),
		VRN:    q.Get("vrn"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Status: q.Get("status"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiSubmitReturn handles POST /api/shops/{shop}/hmrc/returns.
// Body: { vrn?, period_key, from, to, external?, finalised, dry_run? }
func (h *Handler) apiSubmitReturn(w http.ResponseWriter, r *http.Request) {
	var body app.SubmitReturnRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Shop = shopDomain(r)
	result, err := h.svc.SubmitReturn(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if result.DryRun {
		writeJSON(w, result)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiListReceipts handles GET /api/shops/{shop}/hmrc/receipts?vrn.
func (h *Handler) apiListReceipts(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListReceipts(r.Context(), shopDomain(r), r.URL.Query().Get("vrn"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if result == nil {
		writeJSON(w, []struct{}{})
		return
	}
	writeJSON(w, result)
}
