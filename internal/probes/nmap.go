package probes

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/probe"
)

// NmapScanFunc runs nmap with the given options.
type NmapScanFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error)

// NmapProbe runs an nmap connect scan with service detection.
type NmapProbe struct {
	Preset string
	// Timing is the nmap -T template, 0 through 5.
	Timing int
	Scan   NmapScanFunc
	Logger *logging.Logger
}

// Kind implements probe.Probe.
func (p *NmapProbe) Kind() probe.Kind { return probe.KindNmap }

// Execute implements probe.Probe.
func (p *NmapProbe) Execute(ctx context.Context, target probe.Target, opts probe.Options) *probe.Result {
	ports := opts.Ports
	if len(ports) == 0 {
		preset := opts.Preset
		if preset == "" {
			preset = p.Preset
		}
		var err error
		if ports, err = PresetPorts(preset); err != nil {
			return probe.Failed(err)
		}
	}

	options := []nmap.Option{
		nmap.WithTargets(target.String()),
		nmap.WithPorts(joinPorts(ports)),
		nmap.WithConnectScan(),
		nmap.WithServiceInfo(),
		nmap.WithTimingTemplate(nmap.Timing(p.Timing)),
	}

	scan := p.Scan
	if scan == nil {
		scan = p.runScanner
	}
	run, err := scan(ctx, options...)
	if err != nil {
		return probe.Failed(classifyNmap(ctx, err))
	}

	metrics, status := summarizeNmap(run)
	return probe.Succeeded(status, metrics)
}

func (p *NmapProbe) runScanner(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, err
	}
	run, warnings, err := scanner.Run()
	if warnings != nil && len(*warnings) > 0 && p.Logger != nil {
		p.Logger.Debug("Nmap reported warnings", "warnings", *warnings)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func classifyNmap(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case stderrors.Is(err, nmap.ErrNmapNotInstalled):
		return errors.ErrToolUnavailable("nmap", err)
	case stderrors.Is(err, nmap.ErrScanTimeout):
		return errors.Wrap(errors.CodeTimeout, "nmap scan timed out", err)
	case stderrors.Is(err, nmap.ErrParseOutput):
		return errors.ErrMalformedOutput("nmap", err)
	case stderrors.Is(err, nmap.ErrRequiresRoot):
		return errors.Wrap(errors.CodePermissionDenied, "nmap needs elevated privileges", err)
	case stderrors.Is(err, nmap.ErrResolveName):
		return errors.Wrap(errors.CodeInvalidTarget, "nmap could not resolve the target", err)
	}
	return err
}

// summarizeNmap turns a scan report into metrics. A scan that finds no
// host up is a warning.
func summarizeNmap(run *nmap.Run) (probe.Metrics, probe.Status) {
	var openPorts, services []string
	for _, host := range run.Hosts {
		if len(host.Addresses) == 0 {
			continue
		}
		addr := host.Addresses[0].Addr
		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			openPorts = append(openPorts, fmt.Sprintf("%s:%d/%s", addr, port.ID, port.Protocol))
			if port.Service.Name != "" {
				svc := fmt.Sprintf("%d/%s", port.ID, port.Service.Name)
				if detail := strings.TrimSpace(port.Service.Product + " " + port.Service.Version); detail != "" {
					svc += " (" + detail + ")"
				}
				services = append(services, svc)
			}
		}
	}
	sort.Strings(openPorts)

	up := run.Stats.Hosts.Up
	status := probe.Success
	if up == 0 {
		status = probe.Warning
	}
	return probe.Metrics{
		{Name: "hosts_up", Value: probe.Int(up)},
		{Name: "hosts_down", Value: probe.Int(run.Stats.Hosts.Down)},
		{Name: "open_ports", Value: probe.Strings(openPorts)},
		{Name: "services", Value: probe.Strings(services)},
	}, status
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, port := range ports {
		parts[i] = strconv.Itoa(port)
	}
	return strings.Join(parts, ",")
}
