// Package probes holds the built-in probe variants and the table that
// registers them. Each variant turns whatever goes wrong underneath into a
// classified error on its result; none of them retries on its own.
package probes

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/executor"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/probe"
)

// Deps carries shared collaborators into the probe constructors. Zero
// fields fall back to the real implementations.
type Deps struct {
	Runner    CommandRunner
	Dialer    Dialer
	NewPinger PingerFactory
	DNS       DNSExchanger
	HTTP      *http.Client
	NmapScan  NmapScanFunc
	SNMP      SNMPGetter
	Recorder  metrics.Recorder
	Logger    *logging.Logger
	// Limiter is the launch token bucket shared with the main executor.
	// When nil, one is built from the executor rate limit settings.
	Limiter   *rate.Limiter
}

// New builds every built-in probe from cfg.
func New(cfg *config.Config, deps Deps) []probe.Probe {
	pc := cfg.Probes

	ping := &PingProbe{
		Count:      pc.PingCount,
		Privileged: pc.PingPrivileged,
		Thresholds: cfg.Thresholds,
		NewPinger:  deps.NewPinger,
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = executor.NewLimiter(executor.ConfigFrom(cfg.Executor))
	}

	return []probe.Probe{
		ping,
		&TracerouteProbe{MaxHops: pc.TracerouteMaxHops, Runner: deps.Runner},
		&DNSProbe{Server: pc.DNSServer, Client: deps.DNS},
		&PortScanProbe{
			Preset:         pc.PortPreset,
			Concurrency:    pc.PortConcurrency,
			ConnectTimeout: 2 * time.Second,
			Dialer:         deps.Dialer,
		},
		&NmapProbe{Preset: pc.PortPreset, Timing: pc.NmapTiming, Scan: deps.NmapScan, Logger: deps.Logger},
		&ARPProbe{},
		&SweepProbe{
			Host:        ping,
			Workers:     pc.SweepWorkers,
			HostTimeout: pc.SweepHostTimeout,
			Slack:       cfg.Executor.Slack,
			Limiter:     limiter,
			Recorder:    deps.Recorder,
			Logger:      deps.Logger,
		},
		&BandwidthProbe{
			URL:        pc.BandwidthURL,
			Samples:    pc.BandwidthSamples,
			Thresholds: cfg.Thresholds,
			Client:     deps.HTTP,
			Dialer:     deps.Dialer,
		},
		&SecurityAuditProbe{
			Community:  pc.SNMPCommunity,
			DNSServer:  pc.DNSServer,
			DNS:        deps.DNS,
			Dialer:     deps.Dialer,
			SNMP:       deps.SNMP,
			Thresholds: cfg.Thresholds,
		},
	}
}

// NewRegistry builds the registry of every built-in probe.
func NewRegistry(cfg *config.Config, deps Deps) *probe.Registry {
	return probe.NewRegistry(New(cfg, deps)...)
}
