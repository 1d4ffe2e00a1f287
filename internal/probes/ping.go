package probes

import (
	"context"
	"time"

	"github.com/go-ping/ping"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

// Pinger is the subset of *ping.Pinger the ping probe drives.
type Pinger interface {
	Run() error
	Stop()
	Statistics() *ping.Statistics
	SetPrivileged(bool)
	SetCount(int)
	SetInterval(time.Duration)
	SetTimeout(time.Duration)
}

// PingerFactory creates a pinger for one address.
type PingerFactory func(addr string) (Pinger, error)

type realPinger struct {
	p *ping.Pinger
}

func (r *realPinger) Run() error { return r.p.Run() }
func (r *realPinger) Stop() { r.p.Stop() }
func (r *realPinger) Statistics() *ping.Statistics { return r.p.Statistics() }
func (r *realPinger) SetPrivileged(v bool) { r.p.SetPrivileged(v) }
func (r *realPinger) SetCount(n int) { r.p.Count = n }
func (r *realPinger) SetInterval(d time.Duration) { r.p.Interval = d }
func (r *realPinger) SetTimeout(d time.Duration) { r.p.Timeout = d }

// NewPinger is the default factory backed by go-ping.
func NewPinger(addr string) (Pinger, error) {
	p, err := ping.NewPinger(addr)
	if err != nil {
		return nil, err
	}
	return &realPinger{p: p}, nil
}

// PingProbe sends ICMP echo requests and reports loss and latency.
type PingProbe struct {
	Count      int
	Interval   time.Duration
	Privileged bool
	Thresholds config.ThresholdsConfig
	NewPinger  PingerFactory
}

// Kind implements probe.Probe.
func (p *PingProbe) Kind() probe.Kind { return probe.KindPing }

// Execute implements probe.Probe.
func (p *PingProbe) Execute(ctx context.Context, target probe.Target, opts probe.Options) *probe.Result {
	count := p.Count
	if opts.Count > 0 {
		count = opts.Count
	}
	if count <= 0 {
		count = 4
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}

	factory := p.NewPinger
	if factory == nil {
		factory = NewPinger
	}
	pinger, err := factory(target.Address)
	if err != nil {
		return probe.Failed(err)
	}

	pinger.SetPrivileged(p.Privileged || opts.Privileged)
	pinger.SetCount(count)
	pinger.SetInterval(interval)
	if deadline, ok := ctx.Deadline(); ok {
		pinger.SetTimeout(time.Until(deadline))
	}

	done := make(chan error, 1)
	go func() { done <- pinger.Run() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return probe.Failed(ctx.Err())
	}
	if err != nil {
		return probe.Failed(err)
	}

	stats := pinger.Statistics()
	if stats == nil {
		return probe.Failed(errors.ErrMalformedOutput("ping", nil))
	}
	metrics, status := p.evaluate(stats)
	return probe.Succeeded(status, metrics)
}

func (p *PingProbe) evaluate(stats *ping.Statistics) (probe.Metrics, probe.Status) {
	metrics := probe.Metrics{
		{Name: "packet_loss", Value: probe.Float(stats.PacketLoss)},
		{Name: "min_latency", Value: probe.Float(ms(stats.MinRtt))},
		{Name: "avg_latency", Value: probe.Float(ms(stats.AvgRtt))},
		{Name: "max_latency", Value: probe.Float(ms(stats.MaxRtt))},
		{Name: "mdev_latency", Value: probe.Float(ms(stats.StdDevRtt))},
		{Name: "packets_sent", Value: probe.Int(stats.PacketsSent)},
		{Name: "packets_received", Value: probe.Int(stats.PacketsRecv)},
	}

	status := probe.Success
	switch {
	case stats.PacketsSent == 0 || stats.PacketsRecv == 0:
		// The tool ran but nothing answered.
		status = probe.Warning
	case p.Thresholds.PingLossWarn > 0 && stats.PacketLoss >= p.Thresholds.PingLossWarn:
		status = probe.Warning
	case p.Thresholds.PingLossWarn == 0 && stats.PacketLoss > 0:
		status = probe.Warning
	case p.Thresholds.PingLatencyWarn > 0 && ms(stats.AvgRtt) > p.Thresholds.PingLatencyWarn:
		status = probe.Warning
	}
	return metrics, status
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
