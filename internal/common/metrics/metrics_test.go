package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCountsOutcomes(t *testing.T) {
	m := New()
	m.Observe("bill", "generate", nil)
	m.Observe("bill", "generate", errors.New("boom"))
	m.Observe("bill", "generate", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("bill", "generate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("bill", "generate", "error")))
}

func TestObserveOnNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.Observe("table", "merge", nil) })
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tables/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	m.Middleware(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tables/abc", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "GET /api/tables/{id}", "404")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.WebSocketClients.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pos_websocket_clients 3"))
}
