package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDomainCounters(t *testing.T) {
	m := New("test")

	m.OrderComputed("recompute")
	m.OrderComputed("recompute")
	m.LineProduced("line_item", "standard")
	m.Submission("duplicate")
	m.TokenRefresh("lost_race")
	m.CSVOrders("inserted", 3)
	m.CSVOrders("skipped", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersComputed.WithLabelValues("recompute")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.vatLines.WithLabelValues("line_item", "standard")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("lost_race")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.csvImported.WithLabelValues("inserted")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderComputed("preview")
		m.LineProduced("shipping", "zero_rated")
		m.Submission("submitted")
		m.TokenRefresh("refreshed")
		m.CSVOrders("inserted", 1)
	})
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New("test")
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/orders/{id}", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight))
}
