// Package executor runs batches of probe specs under bounded concurrency.
// A single feeder hands specs to a fixed set of workers after taking a token
// from the rate limiter; each worker runs one probe at a time with a timeout,
// retries transient failures with exponential backoff and abandons probes
// that overrun their budget. Every spec yields exactly one result.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/probe"
)

const defaultSlack = 250 * time.Millisecond

// Config holds the executor limits.
type Config struct {
	// Workers is W, the maximum number of probes in flight.
	Workers int
	// RatePerSecond is R; zero disables the limiter.
	RatePerSecond float64
	Burst         int
	// DefaultTimeout applies to specs without their own timeout.
	DefaultTimeout time.Duration
	// Slack is how long past its timeout a probe may run before it is
	// abandoned.
	Slack   time.Duration
	Backoff Backoff
}

// ConfigFrom derives executor limits from the application configuration.
func ConfigFrom(c config.ExecutorConfig) Config {
	cfg := Config{
		Workers:        c.Workers,
		DefaultTimeout: c.DefaultTimeout,
		Slack:          c.Slack,
		Burst:          c.RateLimit.BurstSize,
		Backoff: Backoff{
			Base:       c.Retry.BaseDelay,
			Multiplier: c.Retry.BackoffMultiplier,
		},
	}
	if c.RateLimit.Enabled {
		cfg.RatePerSecond = c.RateLimit.RequestsPerSecond
	}
	return cfg
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l.WithComponent("executor") }
}

// WithLimiter makes the executor take launch tokens from a shared bucket
// instead of one built from its Config. A nil limiter disables rate
// limiting.
func WithLimiter(l *rate.Limiter) Option {
	return func(e *Executor) { e.limiter = l }
}

// NewLimiter builds the token bucket described by cfg, or nil when rate
// limiting is off.
func NewLimiter(cfg Config) *rate.Limiter {
	if cfg.RatePerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
}

// Executor schedules probe specs onto a bounded worker pool.
type Executor struct {
	cfg      Config
	registry *probe.Registry
	recorder metrics.Recorder
	logger   *logging.Logger
	limiter  *rate.Limiter
	gate     *Gate
	slotSeq  atomic.Uint64
}

// New creates an executor over the probes in registry.
func New(cfg Config, registry *probe.Registry, opts ...Option) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Slack <= 0 {
		cfg.Slack = defaultSlack
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}

	e := &Executor{
		cfg:      cfg,
		registry: registry,
		recorder: metrics.Nop{},
		logger:   logging.Default().WithComponent("executor"),
		gate:     NewGate(cfg.Workers),
		limiter:  NewLimiter(cfg),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limiter returns the token bucket guarding launches, nil when unlimited.
func (e *Executor) Limiter() *rate.Limiter {
	return e.limiter
}

// Gate exposes the concurrency gate for status reporting.
func (e *Executor) Gate() *Gate {
	return e.gate
}

// Run executes specs and returns one result per spec, index-aligned with
// the input after key de-duplication. It returns once every spec is final.
// Specs not started when ctx ends are finalized as canceled.
func (e *Executor) Run(ctx context.Context, specs []probe.Spec) []*probe.Result {
	specs = e.uniqueKeys(specs)
	results := make([]*probe.Result, len(specs))
	if len(specs) == 0 {
		return results
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	jobs := make(chan int)

	workers := min(e.cfg.Workers, len(specs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				r := e.execute(ctx, specs[idx])
				mu.Lock()
				results[idx] = r
				mu.Unlock()
			}
		}()
	}

	e.feed(ctx, specs, jobs)
	close(jobs)
	wg.Wait()

	for i, r := range results {
		if r == nil {
			results[i] = e.finalize(specs[i], time.Now(), 0,
				&probe.Result{Status: probe.Failure, Err: errors.Wrap(errors.CodeCanceled, "probe not started", ctx.Err())})
		}
	}
	return results
}

// feed submits specs in order, waiting on the limiter before each one.
func (e *Executor) feed(ctx context.Context, specs []probe.Spec, jobs chan<- int) {
	for i := range specs {
		if ctx.Err() != nil {
			e.logger.Warn("Stopped submitting probes", "remaining", len(specs)-i, "error", ctx.Err())
			return
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				e.logger.Warn("Stopped submitting probes", "remaining", len(specs)-i, "error", err)
				return
			}
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			e.logger.Warn("Stopped submitting probes", "remaining", len(specs)-i, "error", ctx.Err())
			return
		}
	}
}

// uniqueKeys returns a copy of specs with duplicate keys suffixed "#n".
func (e *Executor) uniqueKeys(specs []probe.Spec) []probe.Spec {
	out := make([]probe.Spec, len(specs))
	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		if spec.Key == "" {
			spec.Key = probe.NewSpec(spec.Kind, spec.Target, spec.Options).Key
		}
		if n := seen[spec.Key]; n > 0 {
			original := spec.Key
			spec.Key = fmt.Sprintf("%s#%d", original, n+1)
			e.logger.Warn("Duplicate probe key in batch", "key", original, "renamed", spec.Key)
		}
		seen[spec.Key]++
		out[i] = spec
	}
	return out
}

// execute runs one spec to completion, retrying transient failures.
func (e *Executor) execute(ctx context.Context, spec probe.Spec) *probe.Result {
	start := time.Now()
	log := e.logger.WithProbe(spec.Key)

	p, ok := e.registry.Lookup(spec.Kind)
	if !ok {
		return e.finalize(spec, start, 0, probe.Failed(
			errors.New(errors.CodeToolUnavailable, fmt.Sprintf("no probe registered for kind %q", spec.Kind))))
	}

	if ctx.Err() != nil {
		return e.finalize(spec, start, 0, probe.Failed(ctx.Err()))
	}

	slot := fmt.Sprintf("%s@%d", spec.Key, e.slotSeq.Add(1))
	if err := e.gate.Acquire(ctx, slot); err != nil {
		return e.finalize(spec, start, 0, probe.Failed(err))
	}
	e.recorder.SetInFlight(e.gate.Active())
	defer func() {
		e.gate.Release(slot)
		e.recorder.SetInFlight(e.gate.Active())
	}()

	timeout := spec.Options.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	deadline := start.Add(timeout)

	var (
		last     *probe.Result
		attempts int
	)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			last = probe.Failed(errors.ErrTimeout(spec.Target.String()))
			break
		}

		attempts++
		e.recorder.ProbeStarted(string(spec.Kind))
		last = e.attempt(ctx, p, spec, remaining)

		if last.Status != probe.Failure || ctx.Err() != nil {
			break
		}
		if !errors.IsRetryable(last.Err) || attempts > spec.Options.MaxRetries {
			break
		}

		delay := e.cfg.Backoff.Delay(attempts - 1)
		if time.Until(deadline) <= delay {
			log.Debug("No budget left for retry", "attempt", attempts, "delay", delay)
			break
		}

		e.recorder.ProbeRetried(string(spec.Kind), string(last.Err.Code))
		log.Debug("Probe failed, retrying",
			"attempt", attempts,
			"max_retries", spec.Options.MaxRetries,
			"delay", delay,
			"error", last.Err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
		if ctx.Err() != nil {
			break
		}
	}

	return e.finalize(spec, start, attempts, last)
}

// attempt runs the probe once. The probe runs on its own goroutine so that a
// probe ignoring its context cannot hold the worker past budget + slack.
func (e *Executor) attempt(ctx context.Context, p probe.Probe, spec probe.Spec, budget time.Duration) *probe.Result {
	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan *probe.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &probe.Result{
					Status: probe.Failure,
					Err:    errors.New(errors.CodeProbePanic, fmt.Sprintf("probe panicked: %v", r)),
				}
			}
		}()
		done <- p.Execute(attemptCtx, spec.Target, spec.Options)
	}()

	ceiling := time.NewTimer(budget + e.cfg.Slack)
	defer ceiling.Stop()

	select {
	case r := <-done:
		return normalize(attemptCtx, r)
	case <-ceiling.C:
		e.logger.Warn("Abandoned probe past its timeout", "probe", spec.Key, "budget", budget, "slack", e.cfg.Slack)
		return probe.Failed(errors.ErrTimeout(spec.Target.String()).WithContext("abandoned", true))
	case <-ctx.Done():
		grace := time.NewTimer(e.cfg.Slack)
		defer grace.Stop()
		select {
		case r := <-done:
			return normalize(attemptCtx, r)
		case <-grace.C:
			return probe.Failed(errors.Wrap(errors.CodeCanceled, "probe canceled", ctx.Err()))
		}
	}
}

// normalize guarantees a classified error on failure.
func normalize(ctx context.Context, r *probe.Result) *probe.Result {
	if r == nil {
		return probe.Failed(errors.New(errors.CodeUnknown, "probe returned no result"))
	}
	out := *r
	if out.Status == probe.Failure && out.Err == nil {
		out.Err = errors.New(errors.CodeUnknown, "probe failed without an error")
	}
	if out.Err != nil && out.Err.Code == errors.CodeUnknown && ctx.Err() != nil {
		out.Err = errors.Classify(ctx.Err())
	}
	return &out
}

// finalize stamps identity and timing onto a fresh result.
func (e *Executor) finalize(spec probe.Spec, start time.Time, attempts int, r *probe.Result) *probe.Result {
	end := time.Now()
	out := *r
	out.Spec = spec
	out.Start = start
	out.End = end
	out.Duration = end.Sub(start)
	out.Attempts = attempts
	if out.Err != nil {
		err := *out.Err
		if err.Target == "" {
			err.Target = spec.Target.String()
		}
		err.Probe = string(spec.Kind)
		out.Err = &err
		e.recorder.ProbeFailed(string(spec.Kind), string(err.Code))
	}

	e.recorder.ProbeFinished(string(spec.Kind), out.Status.String(), out.Duration)
	e.logger.Debug("Probe finished",
		"probe", spec.Key,
		"status", out.Status.String(),
		"attempts", attempts,
		"duration", out.Duration)
	return &out
}
