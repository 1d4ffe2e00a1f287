package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics_ProbeMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.ProbeStarted("ping")
	pm.ProbeStarted("ping")
	pm.ProbeStarted("dns")
	if got := testutil.ToFloat64(pm.probeAttempts.WithLabelValues("ping")); got != 2 {
		t.Errorf("expected 2 ping attempts, got %v", got)
	}

	pm.ProbeFinished("ping", "success", 20*time.Millisecond)
	pm.ProbeFinished("ping", "failure", 2*time.Second)
	pm.ProbeFinished("dns", "warning", 5*time.Millisecond)
	if count := testutil.CollectAndCount(pm.probesTotal); count != 3 {
		t.Errorf("expected 3 label combinations, got %d", count)
	}
	if count := testutil.CollectAndCount(pm.probeDuration); count != 2 {
		t.Errorf("expected 2 kinds in duration histogram, got %d", count)
	}

	pm.ProbeRetried("traceroute", "TRANSIENT_NETWORK")
	pm.ProbeFailed("traceroute", "TOOL_UNAVAILABLE")
	if got := testutil.ToFloat64(pm.probeRetries.WithLabelValues("traceroute", "TRANSIENT_NETWORK")); got != 1 {
		t.Errorf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(pm.probeErrors.WithLabelValues("traceroute", "TOOL_UNAVAILABLE")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}

	pm.SetInFlight(4)
	pm.SetInFlight(2)
	if got := testutil.ToFloat64(pm.inFlight); got != 2 {
		t.Errorf("expected in-flight 2, got %v", got)
	}
}

func TestPrometheusMetrics_RunAndMonitor(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RunCompleted("quick", "warning")
	pm.RunCompleted("quick", "warning")
	pm.AnomalyDetected("ping:8.8.8.8.avg_latency")

	if got := testutil.ToFloat64(pm.runsTotal.WithLabelValues("quick", "warning")); got != 2 {
		t.Errorf("expected 2 runs, got %v", got)
	}
	if got := testutil.ToFloat64(pm.anomalies.WithLabelValues("ping:8.8.8.8.avg_latency")); got != 1 {
		t.Errorf("expected 1 anomaly, got %v", got)
	}
}

func TestPrometheusMetrics_HTTPHandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.UpdateSystemMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.HandlerFor(pm.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "netscope_system_uptime_seconds") {
		t.Fatalf("expected uptime metric in output")
	}
}

func TestPrometheusMetrics_PeriodicUpdates(t *testing.T) {
	pm := NewPrometheusMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pm.StartPeriodicUpdates(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for pm.GetLastUpdate().IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pm.GetLastUpdate().IsZero() {
		t.Fatal("expected periodic update to run")
	}
}

func TestGetGlobalMetrics(t *testing.T) {
	if GetGlobalMetrics() != GetGlobalMetrics() {
		t.Fatal("expected singleton")
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.ProbeStarted("ping")
	r.ProbeFinished("ping", "success", time.Second)
	r.SetInFlight(1)
}
