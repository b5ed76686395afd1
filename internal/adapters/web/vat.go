package web

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"vatpilot/internal/app"
	"vatpilot/internal/vat"
)

// externalParams maps query parameters onto the boxes the engine never derives.
var externalParams = []struct {
	name string
	dst  func(*vat.ExternalFigures) *int64
}{
	{"vat_due_acquisitions", func(e *vat.ExternalFigures) *int64 { return &e.VatDueAcquisitions }},
	{"vat_reclaimed", func(e *vat.ExternalFigures) *int64 { return &e.VatReclaimedCurrPeriod }},
	{"purchases_ex_vat", func(e *vat.ExternalFigures) *int64 { return &e.TotalValuePurchasesExVAT }},
	{"goods_supplied_ex_vat", func(e *vat.ExternalFigures) *int64 { return &e.TotalValueGoodsSuppliedExVAT }},
	{"acquisitions_ex_vat", func(e *vat.ExternalFigures) *int64 { return &e.TotalAcquisitionsExVAT }},
}

// periodRequest reads shop, from, to and the optional external figures
// (decimal amounts such as 12.34) from the request.
func periodRequest(r *http.Request) (app.PeriodRequest, error) {
	q := r.URL.Query()
	req := app.PeriodRequest{
		Shop: shopDomain(r),
		From: q.Get("from"),
		To:   q.Get("to"),
	}
	for _, p := range externalParams {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		minor, err := vat.ParseMinor(v)
		if err != nil {
			return req, fmt.Errorf("%s: %w", p.name, err)
		}
		*p.dst(&req.External) = minor
	}
	return req, nil
}

// apiPeriodBoxes handles GET /api/shops/{shop}/vat/boxes?from&to.
func (h *Handler) apiPeriodBoxes(w http.ResponseWriter, r *http.Request) {
	req, err := periodRequest(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	result, err := h.svc.GetPeriodBoxes(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiManualDraft handles GET /api/shops/{shop}/vat/draft?from&to.
func (h *Handler) apiManualDraft(w http.ResponseWriter, r *http.Request) {
	req, err := periodRequest(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	result, err := h.svc.GetManualDraft(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiExportLines handles GET /api/shops/{shop}/vat/export?from&to.
// Streams CSV unless format=json.
func (h *Handler) apiExportLines(w http.ResponseWriter, r *http.Request) {
	req, err := periodRequest(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	result, err := h.svc.ExportLines(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, result)
		return
	}

	filename := fmt.Sprintf("vat-lines-%s-%s.csv", result.From.Format(time.DateOnly), result.To.Format(time.DateOnly))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"Computed At", "Order ID", "Source", "Source ID", "SKU", "Title", "Quantity",
		"Rate %", "Scheme", "Net", "VAT", "Gross", "Currency", "Country of Supply", "Notes",
	})
	for _, l := range result.Lines {
		_ = cw.Write([]string{
			l.ComputedAt.UTC().Format(time.RFC3339),
			csvSafe(l.OrderID),
			string(l.Source),
			csvSafe(l.SourceID),
			csvSafe(l.SKU),
			csvSafe(l.Title),
			strconv.FormatInt(l.Quantity, 10),
			l.Rate.String(),
			string(l.Scheme),
			vat.FormatMoney(l.NetMinor),
			vat.FormatMoney(l.VatMinor),
			vat.FormatMoney(l.GrossMinor),
			l.Currency,
			l.CountryOfSupply,
			csvSafe(l.Notes),
		})
	}
	cw.Flush()
}

// apiImportCSV handles POST /api/shops/{shop}/import/csv.
// Accepts the export either as a multipart "file" field or as the raw body.
func (h *Handler) apiImportCSV(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, r, "upload too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, r, "multipart field \"file\" is required", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
	}

	result, err := h.svc.ImportCSV(r.Context(), shopDomain(r), body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "upload too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// csvSafe prevents CSV formula injection by prefixing cells that begin with a
// formula-triggering character with a single quote.
func csvSafe(s string) string {
	if len(s) == 0 {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
