package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPoolGaugesAreLabelled(t *testing.T) {
	PoolActive.WithLabelValues("metrics-test").Set(3)

	if got := testutil.ToFloat64(PoolActive.WithLabelValues("metrics-test")); got != 3 {
		t.Errorf("PoolActive = %v, want 3", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	APIRequestsTotal.WithLabelValues("GET", "200").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "snippets_api_requests_total") {
		t.Error("/metrics output is missing snippets_api_requests_total")
	}
}
