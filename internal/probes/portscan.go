package probes

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

// Port presets.
var (
	PresetTop20 = []int{
		21, 22, 23, 25, 53, 80, 110, 111, 135, 139,
		143, 443, 445, 993, 995, 1723, 3306, 3389, 5900, 8080,
	}

	PresetTop100 = []int{
		7, 9, 13, 21, 22, 23, 25, 26, 37, 53, 79, 80, 81, 88,
		106, 110, 111, 113, 119, 135, 139, 143, 144, 179, 199,
		389, 427, 443, 444, 445, 465, 513, 514, 515, 543, 544,
		548, 554, 587, 631, 646, 873, 990, 993, 995, 1025, 1026,
		1027, 1028, 1029, 1110, 1433, 1720, 1723, 1755, 1900,
		2000, 2049, 2121, 2717, 3000, 3128, 3306, 3389, 3986,
		4899, 5000, 5009, 5051, 5060, 5101, 5190, 5357, 5432,
		5631, 5666, 5800, 5900, 6000, 6646, 7070, 8000, 8008,
		8009, 8080, 8443, 8888, 9100, 9999, 32768, 49152, 49153,
		49154, 49155, 49156,
	}
)

// PresetPorts returns the ports for a named preset.
func PresetPorts(name string) ([]int, error) {
	switch name {
	case "", "top20":
		return PresetTop20, nil
	case "top100":
		return PresetTop100, nil
	}
	return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown port preset %q", name))
}

// ParsePorts parses a list such as "22,80,8000-8010".
func ParsePorts(s string) ([]int, error) {
	seen := make(map[int]bool)
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.IndexByte(part, '-'); i > 0 {
			lo, hi = part[:i], part[i+1:]
		}
		start, err1 := strconv.Atoi(lo)
		end, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil || start < 1 || end > 65535 || start > end {
			return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid port range %q", part))
		}
		for port := start; port <= end; port++ {
			if !seen[port] {
				seen[port] = true
				ports = append(ports, port)
			}
		}
	}
	if len(ports) == 0 {
		return nil, errors.New(errors.CodeValidation, "no ports given")
	}
	sort.Ints(ports)
	return ports, nil
}

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// PortScanProbe checks TCP ports with plain connects.
type PortScanProbe struct {
	Preset         string
	Concurrency    int
	ConnectTimeout time.Duration
	Dialer         Dialer
}

// Kind implements probe.Probe.
func (p *PortScanProbe) Kind() probe.Kind { return probe.KindPortScan }

// Execute implements probe.Probe. Nil Options.Ports selects the preset; an
// empty non-nil list scans nothing and reports a Warning.
func (p *PortScanProbe) Execute(ctx context.Context, target probe.Target, opts probe.Options) *probe.Result {
	ports := opts.Ports
	if ports == nil {
		preset := opts.Preset
		if preset == "" {
			preset = p.Preset
		}
		var err error
		if ports, err = PresetPorts(preset); err != nil {
			return probe.Failed(err)
		}
	}

	workers := p.Concurrency
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	open, err := scanPorts(ctx, p.dialer(), target.Address, ports, workers, p.ConnectTimeout)
	if err != nil {
		return probe.Failed(err)
	}

	status := probe.Success
	if len(ports) == 0 {
		status = probe.Warning
	}
	openList := make([]string, len(open))
	for i, port := range open {
		openList[i] = strconv.Itoa(port)
	}
	return probe.Succeeded(status, probe.Metrics{
		{Name: "open_count", Value: probe.Int(len(open))},
		{Name: "open_ports", Value: probe.Strings(openList)},
		{Name: "closed_count", Value: probe.Int(len(ports) - len(open))},
		{Name: "total_ports", Value: probe.Int(len(ports))},
	})
}

func (p *PortScanProbe) dialer() Dialer {
	if p.Dialer != nil {
		return p.Dialer
	}
	return &net.Dialer{}
}

// scanPorts connects to every port and returns the open ones in ascending
// order. It fails only when ctx ends before the scan completes.
func scanPorts(ctx context.Context, dialer Dialer, host string, ports []int, workers int, perPort time.Duration) ([]int, error) {
	if workers <= 0 {
		workers = 50
	}
	if perPort <= 0 {
		perPort = 2 * time.Second
	}

	var (
		mu   sync.Mutex
		open []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, port := range ports {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			dialCtx, cancel := context.WithTimeout(gctx, perPort)
			defer cancel()

			conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err != nil {
				return nil
			}
			_ = conn.Close()
			mu.Lock()
			open = append(open, port)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Ints(open)
	return open, nil
}
