package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"vatpilot/internal/app"
	"vatpilot/internal/shopify"
	"vatpilot/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	jsonBodyLimit = 1 << 20  // 1 MB
	csvBodyLimit  = 10 << 20 // 10 MB
)

// Options configures the HTTP adapter. Metrics and Ping may be nil.
type Options struct {
	AllowedOrigins string
	Logger         *zap.Logger
	Metrics        *telemetry.Metrics
	// Ping checks the database for /api/health.
	Ping func(ctx context.Context) error
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
	log    *zap.Logger
	ping   func(ctx context.Context) error
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{svc: svc, log: log, ping: opts.Ping}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(opts.AllowedOrigins))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)
	r.Get("/api/schema/order", h.orderSchema)
	r.Get("/api/hmrc/callback", h.apiHMRCCallback)

	// ── Shop-scoped API ───────────────────────────────────────────────────────
	r.Route("/api/shops/{shop}", func(r chi.Router) {
		// CSV uploads get a larger body limit than JSON endpoints.
		r.With(RequestBodyLimit(csvBodyLimit)).Post("/import/csv", h.apiImportCSV)

		r.Group(func(r chi.Router) {
			r.Use(RequestBodyLimit(jsonBodyLimit))

			// Orders
			r.Post("/orders/preview", h.apiPreviewOrder)
			r.Post("/orders", h.apiRecomputeOrder)
			r.Get("/orders/{orderID}", h.apiGetOrder)

			// VAT periods
			r.Get("/vat/boxes", h.apiPeriodBoxes)
			r.Get("/vat/draft", h.apiManualDraft)
			r.Get("/vat/export", h.apiExportLines)

			// Settings
			r.Get("/settings/tax", h.apiGetTaxSettings)
			r.Put("/settings/tax", h.apiUpdateTaxSettings)

			// HMRC
			r.Get("/hmrc/authorize", h.apiHMRCAuthorize)
			r.Get("/hmrc/status", h.apiHMRCStatus)
			r.Get("/hmrc/obligations", h.apiListObligations)
			r.Post("/hmrc/returns", h.apiSubmitReturn)
			r.Get("/hmrc/receipts", h.apiListReceipts)
		})
	})

	h.router = r
	return r
}

// health returns service status and whether the database answers.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string    `json:"status"`
		DB     string    `json:"db,omitempty"`
		Time   time.Time `json:"time"`
	}

	resp := response{Status: "ok", Time: time.Now().UTC()}
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			h.log.Warn("health check: database unreachable", zap.Error(err))
			resp.Status, resp.DB = "degraded", "unreachable"
			w.Header().Set("Cache-Control", "no-store")
			writeJSONStatus(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.DB = "ok"
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, resp)
}

// orderSchema handles GET /api/schema/order.
func (h *Handler) orderSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, shopify.OrderSchema())
}

// shopDomain extracts the {shop} URL parameter.
func shopDomain(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(chi.URLParam(r, "shop")))
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
