// Package monitor drives repeated probe batches on a fixed interval and keeps
// a bounded history with per-metric baselines.
//
// Tick k is due at start + k*interval. A run that overruns its slot is
// followed immediately by the next one and the slots it covered are skipped,
// so at most one batch is ever in flight and slow runs never cause drift.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/netscope/internal/aggregate"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/probe"
)

// Config holds the session parameters.
type Config struct {
	Interval    time.Duration
	HistorySize int
	Warmup      int
	Sigma       float64
	// MaxRuns stops the session after that many runs; zero runs forever.
	MaxRuns int
}

// BatchFunc executes one monitor run. seq counts runs from 1.
type BatchFunc func(ctx context.Context, seq int) (*aggregate.RunRecord, error)

// Observer is called with every entry after it is added to history.
type Observer func(Entry)

// Session describes a running or finished monitor session.
type Session struct {
	ID       string        `json:"id"`
	Interval time.Duration `json:"interval"`
	Started  time.Time     `json:"started"`
	Runs     int           `json:"runs"`
	Running  bool          `json:"running"`
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithObserver registers a callback for new entries.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observers = append(m.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) { m.logger = l.WithComponent("monitor") }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// Monitor is a continuous monitoring session.
type Monitor struct {
	cfg       Config
	batch     BatchFunc
	history   *History
	baseline  *Baseline
	observers []Observer
	logger    *logging.Logger
	recorder  metrics.Recorder

	mu      sync.Mutex
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor. The interval must be positive.
func New(cfg Config, batch BatchFunc, opts ...Option) (*Monitor, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New(errors.CodeValidation, "monitor interval must be positive")
	}
	if batch == nil {
		return nil, errors.New(errors.CodeValidation, "monitor needs a batch function")
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 100
	}

	m := &Monitor{
		cfg:      cfg,
		batch:    batch,
		history:  NewHistory(cfg.HistorySize),
		baseline: NewBaseline(cfg.Warmup, cfg.Sigma),
		logger:   logging.Default().WithComponent("monitor"),
		recorder: metrics.Nop{},
		session:  Session{ID: uuid.NewString(), Interval: cfg.Interval},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start launches the session in the background.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Running {
		return errors.New(errors.CodeValidation, "monitor session already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.session.Running = true
	m.session.Started = time.Now()

	m.logger.Info("Monitor session started",
		"session", m.session.ID,
		"interval", m.cfg.Interval,
		"history", m.cfg.HistorySize)

	go m.loop(ctx, m.session.Started, m.done)
	return nil
}

// Run starts the session and blocks until it ends.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-m.Done()
	return nil
}

// Stop cancels the in-flight batch, if any, and waits for the session to
// end. History is kept.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the session ends. It is nil before Start.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Session returns a snapshot of the session state.
func (m *Monitor) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// History returns the retained entries, oldest first.
func (m *Monitor) History() []Entry {
	return m.history.Snapshot()
}

// Baseline returns the statistics for a series "<probe key>/<metric>".
func (m *Monitor) Baseline(series string) (Stats, bool) {
	return m.baseline.Stats(series)
}

// Series lists the baseline series seen so far.
func (m *Monitor) Series() []string {
	return m.baseline.Series()
}

func (m *Monitor) loop(ctx context.Context, start time.Time, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.session.Running = false
		m.mu.Unlock()
		close(done)
		m.logger.Info("Monitor session stopped", "session", m.session.ID, "runs", m.history.Len())
	}()

	interval := m.cfg.Interval
	runs := 0
	for tick := 0; ; {
		due := start.Add(time.Duration(tick) * interval)
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		runs++
		m.runOnce(ctx, tick, due, runs)
		if m.cfg.MaxRuns > 0 && runs >= m.cfg.MaxRuns {
			return
		}

		tick++
		if behind := int(time.Since(start) / interval); behind > tick {
			m.logger.Warn("Monitor run overran its interval, skipping missed ticks",
				"skipped", behind-tick, "interval", interval)
			tick = behind
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context, tick int, due time.Time, seq int) {
	record, err := m.batch(ctx, seq)
	if ctx.Err() != nil {
		m.logger.Debug("Discarding run interrupted by stop", "tick", tick)
		return
	}
	if err != nil {
		m.logger.Error("Monitor run failed", "tick", tick, "error", err)
		return
	}
	if record == nil {
		return
	}

	entry := Entry{Tick: tick, Due: due, Record: record, Anomalies: m.observe(record)}
	m.history.Add(entry)

	m.mu.Lock()
	m.session.Runs = seq
	m.mu.Unlock()

	for _, a := range entry.Anomalies {
		m.recorder.AnomalyDetected(a.Series)
		m.logger.Warn("Metric anomaly",
			"series", a.Series,
			"value", a.Value,
			"mean", a.Mean,
			"stddev", a.StdDev)
	}
	for _, o := range m.observers {
		o(entry)
	}
}

// observe feeds every numeric metric of the record into the baseline.
func (m *Monitor) observe(record *aggregate.RunRecord) []Anomaly {
	var anomalies []Anomaly
	for _, r := range record.Results {
		if r == nil || r.Status == probe.Failure {
			continue
		}
		for _, metric := range r.Metrics {
			kind := metric.Value.Kind()
			if kind != probe.ValueInt && kind != probe.ValueFloat {
				continue
			}
			x, _ := metric.Value.Number()
			if a, ok := m.baseline.Observe(SeriesName(r.Spec.Key, metric.Name), x); ok {
				anomalies = append(anomalies, a)
			}
		}
	}
	return anomalies
}

// SeriesName joins a probe key and metric name into a baseline series name.
func SeriesName(key, metric string) string {
	return key + "/" + metric
}

// ParseInterval accepts a Go duration ("30s") or a cron descriptor such as
// "@every 30s" or "@hourly". Descriptors must describe a fixed period.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "@") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, errors.Wrap(errors.CodeValidation, fmt.Sprintf("invalid interval %q", s), err)
		}
		if d <= 0 {
			return 0, errors.New(errors.CodeValidation, fmt.Sprintf("interval %q must be positive", s))
		}
		return d, nil
	}

	schedule, err := cron.ParseStandard(s)
	if err != nil {
		return 0, errors.Wrap(errors.CodeValidation, fmt.Sprintf("invalid interval %q", s), err)
	}
	if every, ok := schedule.(cron.ConstantDelaySchedule); ok {
		return every.Delay, nil
	}

	ref := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	first := schedule.Next(ref)
	second := schedule.Next(first)
	third := schedule.Next(second)
	if second.Sub(first) != third.Sub(second) {
		return 0, errors.New(errors.CodeValidation, fmt.Sprintf("interval %q is not periodic", s))
	}
	return second.Sub(first), nil
}
