package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all netscope metrics
	namespace = "netscope"

	// Subsystems
	subsystemProbe   = "probe"
	subsystemRun     = "run"
	subsystemMonitor = "monitor"
	subsystemSystem  = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	probeAttempts *prometheus.CounterVec
	probeRetries  *prometheus.CounterVec
	probeErrors   *prometheus.CounterVec
	inFlight      prometheus.Gauge

	// Run metrics
	runsTotal *prometheus.CounterVec

	// Monitor metrics
	anomalies *prometheus.CounterVec

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initRunMetrics()
	pm.initSystemMetrics()
	pm.registerMetrics()

	// Standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of finalized probes by kind and status",
		},
		[]string{"kind", "status"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of probes including retries",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"kind"},
	)

	pm.probeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "attempts_total",
			Help:      "Total number of probe attempts started",
		},
		[]string{"kind"},
	)

	pm.probeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "retries_total",
			Help:      "Total number of probe retries by kind and triggering error code",
		},
		[]string{"kind", "code"},
	)

	pm.probeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "errors_total",
			Help:      "Total number of probes that finalized with an error",
		},
		[]string{"kind", "code"},
	)

	pm.inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "in_flight",
			Help:      "Number of probes currently executing",
		},
	)
}

func (pm *PrometheusMetrics) initRunMetrics() {
	pm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "total",
			Help:      "Total number of aggregated runs by name and overall status",
		},
		[]string{"name", "status"},
	)

	pm.anomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "anomalies_total",
			Help:      "Total number of anomalous metric observations",
		},
		[]string{"metric"},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.probesTotal,
		pm.probeDuration,
		pm.probeAttempts,
		pm.probeRetries,
		pm.probeErrors,
		pm.inFlight,
		pm.runsTotal,
		pm.anomalies,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for use with promhttp.
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// ProbeStarted counts an attempt.
func (pm *PrometheusMetrics) ProbeStarted(kind string) {
	pm.probeAttempts.WithLabelValues(kind).Inc()
}

// ProbeFinished counts a finalized probe and records its duration.
func (pm *PrometheusMetrics) ProbeFinished(kind, status string, duration time.Duration) {
	pm.probesTotal.WithLabelValues(kind, status).Inc()
	pm.probeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ProbeRetried counts a retry.
func (pm *PrometheusMetrics) ProbeRetried(kind, code string) {
	pm.probeRetries.WithLabelValues(kind, code).Inc()
}

// ProbeFailed counts a classified failure.
func (pm *PrometheusMetrics) ProbeFailed(kind, code string) {
	pm.probeErrors.WithLabelValues(kind, code).Inc()
}

// SetInFlight sets the in-flight gauge.
func (pm *PrometheusMetrics) SetInFlight(n int) {
	pm.inFlight.Set(float64(n))
}

// RunCompleted counts an aggregated run.
func (pm *PrometheusMetrics) RunCompleted(name, status string) {
	pm.runsTotal.WithLabelValues(name, status).Inc()
}

// AnomalyDetected counts a flagged metric.
func (pm *PrometheusMetrics) AnomalyDetected(metric string) {
	pm.anomalies.WithLabelValues(metric).Inc()
}

// UpdateSystemMetrics refreshes the runtime gauges.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the time since the metrics were created.
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns when the system gauges were last refreshed.
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates refreshes the system gauges until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.UpdateSystemMetrics()
			}
		}
	}()
}

var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the process-wide Prometheus metrics instance.
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
