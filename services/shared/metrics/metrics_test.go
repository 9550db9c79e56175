package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	return New(Config{ServiceName: "auth", Subsystem: "auth"})
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	m := newTestMetrics()

	m.RecordHTTPRequest(http.MethodGet, "/api/state", http.StatusOK, 10*time.Millisecond)
	m.RecordHTTPRequest(http.MethodGet, "/api/state", http.StatusOK, 10*time.Millisecond)

	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("auth", "GET", "/api/state", "200"))
	assert.Equal(t, 2.0, got)
}

func TestMetrics_RecordUpstreamRequest(t *testing.T) {
	m := newTestMetrics()

	m.RecordUpstreamRequest("github", http.MethodPost, http.StatusBadGateway, time.Millisecond)

	got := testutil.ToFloat64(m.upstreamRequestsTotal.WithLabelValues("github", "POST", "502"))
	assert.Equal(t, 1.0, got)
}

func TestMetrics_RecordHandshake(t *testing.T) {
	m := newTestMetrics()

	m.RecordHandshake("exchange", "success")
	m.RecordHandshake("exchange", "rejected")
	m.RecordHandshake("exchange", "rejected")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.handshakeResults.WithLabelValues("exchange", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.handshakeResults.WithLabelValues("exchange", "rejected")))
}

func TestMetrics_CircuitBreakerAndRateLimit(t *testing.T) {
	m := newTestMetrics()

	m.SetCircuitBreakerState("github", 1)
	m.RecordCircuitBreakerTrip("github")
	m.RecordRateLimitHit("/api/token/new")
	m.RecordRateLimitDrop("/api/token/new")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitBreakerState.WithLabelValues("github")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitBreakerTrips.WithLabelValues("github")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitHits.WithLabelValues("/api/token/new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitDropped.WithLabelValues("/api/token/new")))
}

func TestMetrics_HTTPMiddleware(t *testing.T) {
	m := newTestMetrics()

	handler := m.HTTPMiddleware(func(*http.Request) string { return "/api/token/stored" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/token/stored", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("auth", "GET", "/api/token/stored", "400"))
	assert.Equal(t, 1.0, got)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpRequestsInFlight))
}

func TestMetrics_Handler(t *testing.T) {
	m := newTestMetrics()
	m.RecordHandshake("state", "success")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ghlogin_auth_handshake_results_total")
}
