// Package metrics provides probe and run instrumentation for netscope.
package metrics

import "time"

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/anstrom/netscope/internal/metrics Recorder

// Recorder receives execution events from the executor, the monitor and the
// runner.
type Recorder interface {
	// ProbeStarted is called once per attempt, before the probe runs.
	ProbeStarted(kind string)

	// ProbeFinished is called once per spec with its final status.
	ProbeFinished(kind, status string, duration time.Duration)

	// ProbeRetried is called before each retry with the error code that caused it.
	ProbeRetried(kind, code string)

	// ProbeFailed is called when a spec finalizes with a classified error.
	ProbeFailed(kind, code string)

	// SetInFlight reports the number of probes currently executing.
	SetInFlight(n int)

	// RunCompleted is called once per aggregated run.
	RunCompleted(name, status string)

	// AnomalyDetected is called for every metric the monitor flags.
	AnomalyDetected(metric string)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) ProbeStarted(string)                         {}
func (Nop) ProbeFinished(string, string, time.Duration) {}
func (Nop) ProbeRetried(string, string)                 {}
func (Nop) ProbeFailed(string, string)                  {}
func (Nop) SetInFlight(int)                             {}
func (Nop) RunCompleted(string, string)                 {}
func (Nop) AnomalyDetected(string)                      {}

var (
	_ Recorder = Nop{}
	_ Recorder = (*PrometheusMetrics)(nil)
)
