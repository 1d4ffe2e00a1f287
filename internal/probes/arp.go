package probes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

// Neighbor is one resolved entry of the kernel ARP table.
type Neighbor struct {
	IP     netip.Addr
	MAC    string
	Device string
}

func (n Neighbor) String() string {
	return fmt.Sprintf("%s %s %s", n.IP, n.MAC, n.Device)
}

// ParseARPTable reads /proc/net/arp. Incomplete entries are skipped.
func ParseARPTable(r io.Reader) ([]Neighbor, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty arp table")
	}
	if !strings.HasPrefix(scanner.Text(), "IP address") {
		return nil, fmt.Errorf("unexpected arp table header %q", scanner.Text())
	}

	var neighbors []Neighbor
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		ip, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		flags, mac := fields[2], strings.ToLower(fields[3])
		if flags == "0x0" || mac == "00:00:00:00:00:00" {
			continue
		}
		neighbors = append(neighbors, Neighbor{IP: ip, MAC: mac, Device: fields[5]})
	}
	return neighbors, scanner.Err()
}

// ARPProbe lists the hosts the kernel has recently resolved on the local
// link, optionally limited to a block or a single address.
type ARPProbe struct {
	// TablePath defaults to /proc/net/arp.
	TablePath string
}

// Kind implements probe.Probe.
func (p *ARPProbe) Kind() probe.Kind { return probe.KindARP }

// Execute implements probe.Probe.
func (p *ARPProbe) Execute(ctx context.Context, target probe.Target, _ probe.Options) *probe.Result {
	if err := ctx.Err(); err != nil {
		return probe.Failed(err)
	}

	path := p.TablePath
	if path == "" {
		path = "/proc/net/arp"
	}
	f, err := os.Open(path) // #nosec G304 -- fixed kernel table path
	if err != nil {
		if os.IsNotExist(err) {
			return probe.Failed(errors.Wrap(errors.CodeToolUnavailable, "kernel ARP table not available", err))
		}
		return probe.Failed(err)
	}
	defer f.Close()

	neighbors, err := ParseARPTable(f)
	if err != nil {
		return probe.Failed(errors.ErrMalformedOutput("arp table", err))
	}

	match := arpFilter(target)
	var devices []string
	for _, n := range neighbors {
		if match(n.IP) {
			devices = append(devices, n.String())
		}
	}

	status := probe.Success
	if len(devices) == 0 {
		status = probe.Warning
	}
	return probe.Succeeded(status, probe.Metrics{
		{Name: "device_count", Value: probe.Int(len(devices))},
		{Name: "devices", Value: probe.Strings(devices)},
	})
}

// arpFilter keeps entries inside a CIDR target or equal to a host target.
// Loopback and unspecified targets keep the whole table.
func arpFilter(target probe.Target) func(netip.Addr) bool {
	if target.IsCIDR() {
		return target.Prefix.Contains
	}
	addr, err := netip.ParseAddr(target.Address)
	if err != nil || addr.IsLoopback() || addr.IsUnspecified() {
		return func(netip.Addr) bool { return true }
	}
	return func(ip netip.Addr) bool { return ip == addr }
}
