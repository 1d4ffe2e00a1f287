// Package runner wires the pieces of a netscope run together: it resolves
// the operator's target, builds probe specs with the configured budgets,
// runs them through the executor, aggregates the results and hands the
// record to the sink.
package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/netscope/internal/aggregate"
	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/executor"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/monitor"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/sink"
	"github.com/anstrom/netscope/internal/target"
)

// Run names used for run IDs and metrics.
const (
	NameQuickCheck = "quick_check"
	NameSweep      = "ping_sweep"
)

// QuickCheckKinds are the probes of a quick check, in display order.
var QuickCheckKinds = []probe.Kind{probe.KindPing, probe.KindTraceroute, probe.KindDNS}

// Option customizes a Runner.
type Option func(*Runner)

// WithSink sets where finished runs are written.
func WithSink(s sink.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithRecorder sets the metrics recorder shared with the executor.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithResolver replaces the target resolver.
func WithResolver(res *target.Resolver) Option {
	return func(r *Runner) { r.resolver = res }
}

// WithLimiter sets the launch token bucket. Pass the same limiter to the
// probes that run executors of their own so they share one launch rate.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Runner) { r.limiter = l }
}

// WithClock replaces time.Now for run IDs.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes named runs against resolved targets.
type Runner struct {
	cfg      *config.Config
	executor *executor.Executor
	resolver *target.Resolver
	sink     sink.Sink
	recorder metrics.Recorder
	logger   *logging.Logger
	limiter  *rate.Limiter
	now      func() time.Time
}

// New creates a runner over the probes in registry.
func New(cfg *config.Config, registry *probe.Registry, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		resolver: target.NewResolver(),
		sink:     sink.Discard{},
		recorder: metrics.Nop{},
		logger:   logging.Default(),
		limiter:  executor.NewLimiter(executor.ConfigFrom(cfg.Executor)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	base := r.logger
	r.logger = base.WithComponent("runner")
	r.executor = executor.New(executor.ConfigFrom(cfg.Executor), registry,
		executor.WithRecorder(r.recorder), executor.WithLogger(base), executor.WithLimiter(r.limiter))
	return r
}

// Executor exposes the shared executor.
func (r *Runner) Executor() *executor.Executor {
	return r.executor
}

// Resolver exposes the target resolver.
func (r *Runner) Resolver() *target.Resolver {
	return r.resolver
}

// Spec builds a spec for kind against tgt. Zero fields of opts take the
// configured defaults; a negative MaxRetries means the configured count.
func (r *Runner) Spec(kind probe.Kind, tgt probe.Target, opts probe.Options) probe.Spec {
	if opts.Timeout <= 0 {
		opts.Timeout = r.cfg.TimeoutFor(string(kind))
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = r.cfg.Executor.Retry.MaxRetries
	}
	if opts.Preset == "" && opts.Ports == nil {
		switch kind {
		case probe.KindPortScan, probe.KindNmap:
			opts.Preset = r.cfg.Probes.PortPreset
		}
	}
	if kind == probe.KindPing && !opts.Privileged {
		opts.Privileged = r.cfg.Probes.PingPrivileged
	}
	return probe.NewSpec(kind, tgt, opts)
}

// RunProbe runs a single probe of kind against input.
func (r *Runner) RunProbe(ctx context.Context, kind probe.Kind, input string, opts probe.Options) (*aggregate.RunRecord, error) {
	var (
		tgt probe.Target
		err error
	)
	switch kind {
	case probe.KindSweep:
		tgt, err = r.resolver.ResolveBlock(input)
		if err != nil {
			tgt, err = r.resolver.ResolveHost(input)
		}
	case probe.KindARP:
		tgt, err = r.resolver.Resolve(input)
	default:
		tgt, err = r.resolver.ResolveHost(input)
	}
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, string(kind), tgt.String(), 0, []probe.Spec{r.Spec(kind, tgt, opts)})
}

// QuickCheckSpecs builds the ping, traceroute and DNS specs for tgt.
func (r *Runner) QuickCheckSpecs(tgt probe.Target) []probe.Spec {
	specs := make([]probe.Spec, len(QuickCheckKinds))
	for i, kind := range QuickCheckKinds {
		specs[i] = r.Spec(kind, tgt, probe.Options{MaxRetries: -1})
	}
	return specs
}

// QuickCheck runs ping, traceroute and DNS against input in parallel.
func (r *Runner) QuickCheck(ctx context.Context, input string) (*aggregate.RunRecord, error) {
	tgt, err := r.resolver.ResolveHost(input)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, NameQuickCheck, tgt.String(), 0, r.QuickCheckSpecs(tgt))
}

// Sweep pings every address of a CIDR block. Workers and hostTimeout
// override the configured values when positive.
func (r *Runner) Sweep(ctx context.Context, input string, workers int, hostTimeout time.Duration) (*aggregate.RunRecord, error) {
	tgt, err := r.resolver.ResolveBlock(input)
	if err != nil {
		return nil, err
	}
	opts := probe.Options{Workers: workers, Timeout: sweepBudget(r.cfg, tgt, workers, hostTimeout)}
	if hostTimeout > 0 {
		opts.Extra = map[string]string{"host_timeout": hostTimeout.String()}
	}
	spec := r.Spec(probe.KindSweep, tgt, opts)
	return r.Execute(ctx, NameSweep, tgt.String(), 0, []probe.Spec{spec})
}

// sweepBudget is the configured sweep timeout, raised when the block
// cannot finish in it with the given parallelism.
func sweepBudget(cfg *config.Config, tgt probe.Target, workers int, hostTimeout time.Duration) time.Duration {
	budget := cfg.TimeoutFor(string(probe.KindSweep))
	if workers <= 0 {
		workers = cfg.Probes.SweepWorkers
	}
	if hostTimeout <= 0 {
		hostTimeout = cfg.Probes.SweepHostTimeout
	}
	hostBits := tgt.Prefix.Addr().BitLen() - tgt.Prefix.Bits()
	if workers <= 0 || hostBits < 0 || hostBits > 16 {
		return budget
	}
	waves := ((1 << hostBits) + workers - 1) / workers
	if need := time.Duration(waves)*(hostTimeout+cfg.Executor.Slack) + time.Second; need > budget {
		return need
	}
	return budget
}

// Execute runs specs, aggregates them into a record named name and writes
// it to the sink. When ctx ends first the record is still returned, with
// the cancellation as error, and nothing is written.
func (r *Runner) Execute(ctx context.Context, name, tgt string, seq int, specs []probe.Spec) (*aggregate.RunRecord, error) {
	at := r.now()
	log := r.logger.WithFields("run", name, "target", tgt)
	log.Debug("Run starting", "specs", len(specs), "seq", seq)

	results := r.executor.Run(ctx, specs)
	record, err := aggregate.Aggregate(aggregate.Input{
		Name:    name,
		Target:  tgt,
		Seq:     seq,
		Results: results,
		At:      at,
	})
	if err != nil {
		return nil, err
	}
	r.recorder.RunCompleted(name, record.Status.String())

	if err := ctx.Err(); err != nil {
		log.Warn("Run interrupted", "run_id", record.ID)
		return record, errors.Classify(err)
	}

	if err := r.sink.Write(ctx, record); err != nil {
		log.Error("Failed to store run", "run_id", record.ID, "error", err)
	}
	log.Info("Run finished", "run_id", record.ID, "status", record.Status.String(),
		"duration", record.Duration())
	return record, nil
}

// MonitorBatch returns the batch a monitor session repeats: specs are
// rebuilt per tick so every run gets fresh keys and budgets.
func (r *Runner) MonitorBatch(name string, tgt probe.Target, kinds []probe.Kind) monitor.BatchFunc {
	return func(ctx context.Context, seq int) (*aggregate.RunRecord, error) {
		specs := make([]probe.Spec, len(kinds))
		for i, kind := range kinds {
			specs[i] = r.Spec(kind, tgt, probe.Options{MaxRetries: -1})
		}
		return r.Execute(ctx, name, tgt.String(), seq, specs)
	}
}
