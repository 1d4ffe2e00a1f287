package probes

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/executor"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/target"
)

// SweepProbe pings every address in a block through its own bounded
// executor and counts the hosts that answer.
type SweepProbe struct {
	// Host probes a single address; normally the ping probe.
	Host        probe.Probe
	Workers     int
	HostTimeout time.Duration
	Slack       time.Duration
	// Limiter paces host launches; share it with the outer executor so a
	// sweep stays under the global launch rate. Nil means unlimited.
	Limiter     *rate.Limiter
	Recorder    metrics.Recorder
	Logger      *logging.Logger
}

// Kind implements probe.Probe.
func (p *SweepProbe) Kind() probe.Kind { return probe.KindSweep }

// Execute implements probe.Probe. Options.Extra may carry "host_timeout".
func (p *SweepProbe) Execute(ctx context.Context, tgt probe.Target, opts probe.Options) *probe.Result {
	prefix := tgt.Prefix
	if !prefix.IsValid() {
		addr, err := netip.ParseAddr(tgt.Address)
		if err != nil {
			return probe.Failed(errors.ErrInvalidTarget(tgt.Input, "sweep needs an address block"))
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}

	addrs, err := target.Expand(prefix, target.MaxSweepAddresses)
	if err != nil {
		return probe.Failed(err)
	}

	workers := p.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	hostTimeout := p.HostTimeout
	if v := opts.Extra["host_timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return probe.Failed(errors.New(errors.CodeValidation, fmt.Sprintf("invalid host_timeout %q", v)))
		}
		hostTimeout = d
	}
	if hostTimeout <= 0 {
		hostTimeout = 2 * time.Second
	}

	hostOpts := probe.Options{Timeout: hostTimeout, Count: 1, Privileged: opts.Privileged}
	specs := make([]probe.Spec, len(addrs))
	for i, addr := range addrs {
		host := probe.Target{Input: addr.String(), Address: addr.String()}
		specs[i] = probe.NewSpec(p.Host.Kind(), host, hostOpts)
	}

	execOpts := []executor.Option{executor.WithLimiter(p.Limiter)}
	if p.Recorder != nil {
		execOpts = append(execOpts, executor.WithRecorder(p.Recorder))
	}
	if p.Logger != nil {
		execOpts = append(execOpts, executor.WithLogger(p.Logger))
	}
	child := executor.New(executor.Config{
		Workers:        workers,
		DefaultTimeout: hostTimeout,
		Slack:          p.Slack,
	}, probe.NewRegistry(p.Host), execOpts...)

	results := child.Run(ctx, specs)
	if err := ctx.Err(); err != nil {
		return probe.Failed(err)
	}

	var alive []string
	for _, r := range results {
		if r.Status == probe.Success {
			alive = append(alive, r.Spec.Target.Address)
		}
	}

	status := probe.Success
	if len(alive) == 0 {
		status = probe.Warning
	}
	return probe.Succeeded(status, probe.Metrics{
		{Name: "alive_count", Value: probe.Int(len(alive))},
		{Name: "alive_hosts", Value: probe.Strings(alive)},
		{Name: "total_addresses", Value: probe.Int(len(addrs))},
		{Name: "peak_in_flight", Value: probe.Int(child.Gate().Peak())},
	})
}
