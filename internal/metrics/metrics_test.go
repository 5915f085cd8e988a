package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSwap("execute", "success", time.Second)
	m.CommissionPaid(1)
	m.NotificationDropped()
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ObserveSwap("execute", "success", 2*time.Second)
	m.ObserveSwap("execute", "no_route", time.Second)
	m.ObserveSwap("execute", "success", time.Second)
	m.CommissionPaid(0.000001)
	m.NonceCancelled(true)
	m.NonceCancelled(false)

	if got := testutil.ToFloat64(m.swaps.WithLabelValues("execute", "success")); got != 2 {
		t.Fatalf("expected 2 successful swaps, got %v", got)
	}
	if got := testutil.ToFloat64(m.nonceCancellations.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed cancellation, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "peasy_swaps_total") {
		t.Fatalf("metrics output missing swap counter")
	}
}
