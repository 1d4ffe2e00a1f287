// Package probe defines the data model shared by every netscope component:
// what a probe is asked to do (Spec), what it reports back (Result) and the
// Probe contract each variant implements.
package probe

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/anstrom/netscope/internal/errors"
)

// Kind names a probe variant.
type Kind string

const (
	KindPing          Kind = "ping"
	KindTraceroute    Kind = "traceroute"
	KindDNS           Kind = "dns"
	KindPortScan      Kind = "portscan"
	KindNmap          Kind = "nmap"
	KindARP           Kind = "arp"
	KindSweep         Kind = "sweep"
	KindBandwidth     Kind = "bandwidth"
	KindSecurityAudit Kind = "securityaudit"
)

// AllKinds lists every built-in variant in display order.
func AllKinds() []Kind {
	return []Kind{
		KindPing, KindTraceroute, KindDNS, KindPortScan, KindNmap,
		KindARP, KindSweep, KindBandwidth, KindSecurityAudit,
	}
}

// ParseKind accepts a kind name and a few common aliases.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ping":
		return KindPing, nil
	case "traceroute", "trace", "tracert":
		return KindTraceroute, nil
	case "dns", "dnslookup", "lookup":
		return KindDNS, nil
	case "portscan", "ports", "port-scan":
		return KindPortScan, nil
	case "nmap", "nmapscan":
		return KindNmap, nil
	case "arp", "arpscan", "arp-scan":
		return KindARP, nil
	case "sweep", "pingsweep", "ping-sweep":
		return KindSweep, nil
	case "bandwidth", "speed", "speedtest":
		return KindBandwidth, nil
	case "securityaudit", "security", "audit":
		return KindSecurityAudit, nil
	}
	return "", errors.New(errors.CodeValidation, fmt.Sprintf("unknown probe kind %q", s))
}

// Target is a resolved probe target. It is immutable once built.
type Target struct {
	// Input is what the operator typed.
	Input string `json:"input"`
	// Address is a literal IP or hostname ready to dial.
	Address string `json:"address"`
	// Prefix is set for CIDR targets.
	Prefix netip.Prefix `json:"-"`
	// Shortcut records the named shortcut used, if any.
	Shortcut string `json:"shortcut,omitempty"`
}

// IsCIDR reports whether the target names a block rather than a host.
func (t Target) IsCIDR() bool {
	return t.Prefix.IsValid()
}

func (t Target) String() string {
	if t.IsCIDR() {
		return t.Prefix.String()
	}
	return t.Address
}

// Options tune a single probe invocation.
type Options struct {
	Timeout    time.Duration     `json:"timeout"`
	MaxRetries int               `json:"max_retries"`
	Ports      []int             `json:"ports,omitempty"` // nil means the preset
	Preset     string            `json:"preset,omitempty"`
	Workers    int               `json:"workers,omitempty"`
	Count      int               `json:"count,omitempty"`
	Privileged bool              `json:"privileged,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Spec is one unit of work for the executor.
type Spec struct {
	Kind    Kind    `json:"kind"`
	Target  Target  `json:"target"`
	Options Options `json:"options"`
	// Key identifies the spec within a batch; results are sorted by it.
	Key string `json:"key"`
}

// NewSpec builds a spec with the default identity key.
func NewSpec(kind Kind, target Target, opts Options) Spec {
	return Spec{
		Kind:    kind,
		Target:  target,
		Options: opts,
		Key:     fmt.Sprintf("%s:%s", kind, target),
	}
}

// Result is the outcome of one spec. The executor produces exactly one per
// spec and never touches it again after returning it.
type Result struct {
	Spec      Spec               `json:"spec"`
	Status    Status             `json:"status"`
	Start     time.Time          `json:"start"`
	End       time.Time          `json:"end"`
	Duration  time.Duration      `json:"duration"`
	Metrics   Metrics            `json:"metrics"`
	RawOutput string             `json:"raw_output,omitempty"`
	Err       *errors.ProbeError `json:"error,omitempty"`
	Attempts  int                `json:"attempts"`
}

// Succeeded builds a result with the given status and metrics.
func Succeeded(status Status, metrics Metrics) *Result {
	return &Result{Status: status, Metrics: metrics}
}

// Failed builds a failure result from any error, classifying it.
func Failed(err error) *Result {
	return &Result{Status: Failure, Err: errors.Classify(err)}
}

// Probe is implemented by every variant. Execute must honour ctx (which
// carries the timeout), must not panic and must return a non-nil result
// whose Err is classified when Status is Failure.
type Probe interface {
	Kind() Kind
	Execute(ctx context.Context, target Target, opts Options) *Result
}

// Func adapts a function into a Probe.
type Func struct {
	K Kind
	F func(ctx context.Context, target Target, opts Options) *Result
}

// Kind implements Probe.
func (f Func) Kind() Kind { return f.K }

// Execute implements Probe.
func (f Func) Execute(ctx context.Context, target Target, opts Options) *Result {
	return f.F(ctx, target, opts)
}

// Registry maps kinds to probe implementations. It is built once at
// startup and read concurrently afterwards.
type Registry struct {
	probes map[Kind]Probe
}

// NewRegistry creates a registry holding the given probes.
func NewRegistry(probes ...Probe) *Registry {
	r := &Registry{probes: make(map[Kind]Probe, len(probes))}
	for _, p := range probes {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the probe for its kind.
func (r *Registry) Register(p Probe) {
	r.probes[p.Kind()] = p
}

// Lookup returns the probe registered for kind.
func (r *Registry) Lookup(kind Kind) (Probe, bool) {
	p, ok := r.probes[kind]
	return p, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.probes))
	for k := range r.probes {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
