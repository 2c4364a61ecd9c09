package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func muxRoute(mux *http.ServeMux) func(*http.Request) string {
	return func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	}
}

func TestMetricsMiddleware_LabelsByRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/imports/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := MetricsMiddleware(muxRoute(mux), mux)

	const pattern = "GET /v1/imports/{id}"
	counter := RequestsTotal.WithLabelValues(pattern, http.MethodGet, "200")
	before := testutil.ToFloat64(counter)

	// two different ids land on the same label
	for _, target := range []string{"/v1/imports/a1", "/v1/imports/b2"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestMetricsMiddleware_UnmatchedRequestsShareLabel(t *testing.T) {
	mux := http.NewServeMux()
	handler := MetricsMiddleware(muxRoute(mux), mux)

	counter := RequestsTotal.WithLabelValues("unmatched", http.MethodGet, "404")
	before := testutil.ToFloat64(counter)

	for _, target := range []string{"/no/such/route", "/another/miss"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}
