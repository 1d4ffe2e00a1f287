package probes

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

// Hop is one line of traceroute output.
type Hop struct {
	TTL   int
	Host  string
	RTTms float64
}

func (h Hop) String() string {
	if h.Host == "*" {
		return fmt.Sprintf("%d *", h.TTL)
	}
	return fmt.Sprintf("%d %s %.3fms", h.TTL, h.Host, h.RTTms)
}

var (
	hopLine     = regexp.MustCompile(`^\s*(\d+)\s+(\S+)\s+<?([\d.]+)\s*ms`)
	hopTimeout  = regexp.MustCompile(`^\s*(\d+)\s+(\*\s*)+$`)
	hopNumbered = regexp.MustCompile(`^\s*\d+\s`)
	traceHeader = regexp.MustCompile(`^traceroute to \S+ \(([^)]+)\)`)
)

// TraceDestination returns the address traceroute resolved the target to,
// taken from the "traceroute to NAME (IP)" header line.
func TraceDestination(out []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if m := traceHeader.FindStringSubmatch(strings.TrimSpace(scanner.Text())); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// ParseTraceroute extracts hops from `traceroute -n` output.
func ParseTraceroute(out []byte) ([]Hop, error) {
	var hops []Hop
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if m := hopLine.FindStringSubmatch(line); m != nil {
			ttl, _ := strconv.Atoi(m[1])
			rtt, _ := strconv.ParseFloat(m[3], 64)
			hops = append(hops, Hop{TTL: ttl, Host: m[2], RTTms: rtt})
			continue
		}
		if m := hopTimeout.FindStringSubmatch(line); m != nil {
			ttl, _ := strconv.Atoi(m[1])
			hops = append(hops, Hop{TTL: ttl, Host: "*"})
			continue
		}
		if hopNumbered.MatchString(line) {
			ttl, _ := strconv.Atoi(strings.Fields(line)[0])
			hops = append(hops, Hop{TTL: ttl, Host: "?"})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(hops) == 0 {
		return nil, fmt.Errorf("no hop lines in output")
	}
	return hops, nil
}

// TracerouteProbe traces the path to a host with the system traceroute.
type TracerouteProbe struct {
	MaxHops int
	Runner  CommandRunner
}

// Kind implements probe.Probe.
func (p *TracerouteProbe) Kind() probe.Kind { return probe.KindTraceroute }

// Execute implements probe.Probe.
func (p *TracerouteProbe) Execute(ctx context.Context, target probe.Target, _ probe.Options) *probe.Result {
	maxHops := p.MaxHops
	if maxHops <= 0 {
		maxHops = 15
	}
	runner := p.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	out, err := runner.Run(ctx, "traceroute", "-n", "-m", strconv.Itoa(maxHops), target.Address)
	if err != nil {
		r := probe.Failed(err)
		r.RawOutput = string(out)
		return r
	}

	hops, err := ParseTraceroute(out)
	if err != nil {
		r := probe.Failed(errors.ErrMalformedOutput("traceroute", err))
		r.RawOutput = string(out)
		return r
	}

	last := hops[len(hops)-1]
	reached := last.Host == target.Address
	if dest, ok := TraceDestination(out); ok && !reached {
		reached = last.Host == dest
	}
	path := make([]string, len(hops))
	for i, h := range hops {
		path[i] = h.String()
	}

	status := probe.Success
	if !reached && len(hops) >= maxHops {
		status = probe.Warning
	}

	r := probe.Succeeded(status, probe.Metrics{
		{Name: "hop_count", Value: probe.Int(len(hops))},
		{Name: "destination_reached", Value: probe.Bool(reached)},
		{Name: "hops", Value: probe.Strings(path)},
	})
	r.RawOutput = string(out)
	return r
}
