// Package target turns operator input into resolved probe targets. It
// understands literal addresses, hostnames, CIDR blocks and a handful of
// shortcuts (localhost, gateway, dns) that save typing on the command line.
package target

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"

	"github.com/miekg/dns"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

const (
	// MaxSweepAddresses caps CIDR expansion.
	MaxSweepAddresses = 256

	fallbackGateway   = "192.168.1.1"
	fallbackDNSServer = "8.8.8.8"

	defaultRouteFile  = "/proc/net/route"
	defaultResolvConf = "/etc/resolv.conf"
)

var numericPattern = regexp.MustCompile(`^[0-9.]+$`)

var hostnamePattern = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*\.?$`)

// Resolver resolves shortcuts against the local system configuration.
type Resolver struct {
	RouteFile  string
	ResolvConf string
}

// NewResolver creates a resolver reading the standard Linux locations.
func NewResolver() *Resolver {
	return &Resolver{RouteFile: defaultRouteFile, ResolvConf: defaultResolvConf}
}

// Resolve parses input into a target. Invalid input yields an
// INVALID_TARGET error.
func (r *Resolver) Resolve(input string) (probe.Target, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return probe.Target{}, errors.ErrInvalidTarget(input, "target is empty")
	}

	switch strings.ToLower(raw) {
	case "localhost", "local":
		return probe.Target{Input: raw, Address: "127.0.0.1", Shortcut: "localhost"}, nil
	case "gateway", "router", "gw":
		return probe.Target{Input: raw, Address: r.DefaultGateway(), Shortcut: "gateway"}, nil
	case "dns", "dns-server", "nameserver":
		return probe.Target{Input: raw, Address: r.DNSServer(), Shortcut: "dns"}, nil
	}

	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return probe.Target{}, errors.ErrInvalidTarget(input, "malformed CIDR block")
		}
		prefix = prefix.Masked()
		return probe.Target{Input: raw, Address: prefix.Addr().String(), Prefix: prefix}, nil
	}

	if addr, err := netip.ParseAddr(raw); err == nil {
		return probe.Target{Input: raw, Address: addr.String()}, nil
	}

	if len(raw) > 253 || !hostnamePattern.MatchString(raw) || numericPattern.MatchString(raw) {
		return probe.Target{}, errors.ErrInvalidTarget(input, "not an IP address, CIDR block or hostname")
	}
	return probe.Target{Input: raw, Address: strings.TrimSuffix(raw, ".")}, nil
}

// ResolveHost is Resolve but rejects CIDR blocks.
func (r *Resolver) ResolveHost(input string) (probe.Target, error) {
	t, err := r.Resolve(input)
	if err != nil {
		return t, err
	}
	if t.IsCIDR() {
		return probe.Target{}, errors.ErrInvalidTarget(input, "expected a single host, got a CIDR block")
	}
	return t, nil
}

// ResolveBlock is Resolve but requires a CIDR block.
func (r *Resolver) ResolveBlock(input string) (probe.Target, error) {
	t, err := r.Resolve(input)
	if err != nil {
		return t, err
	}
	if !t.IsCIDR() {
		return probe.Target{}, errors.ErrInvalidTarget(input, "expected a CIDR block such as 192.168.1.0/24")
	}
	return t, nil
}

// DefaultGateway reads the default route from the kernel routing table.
func (r *Resolver) DefaultGateway() string {
	f, err := os.Open(r.RouteFile)
	if err != nil {
		return fallbackGateway
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// Iface Destination Gateway Flags ...
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		if gw, ok := parseHexIPv4(fields[2]); ok && !gw.IsUnspecified() {
			return gw.String()
		}
	}
	return fallbackGateway
}

// DNSServer returns the first configured nameserver.
func (r *Resolver) DNSServer() string {
	conf, err := dns.ClientConfigFromFile(r.ResolvConf)
	if err != nil || len(conf.Servers) == 0 {
		return fallbackDNSServer
	}
	return conf.Servers[0]
}

// /proc/net/route stores addresses as little-endian hex.
func parseHexIPv4(s string) (netip.Addr, bool) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 4 {
		return netip.Addr{}, false
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], binary.LittleEndian.Uint32(raw))
	return netip.AddrFrom4(b), true
}

// Expand lists every address in prefix, network and broadcast included.
// Blocks larger than limit are rejected.
func Expand(prefix netip.Prefix, limit int) ([]netip.Addr, error) {
	if !prefix.IsValid() {
		return nil, errors.ErrInvalidTarget(prefix.String(), "invalid CIDR block")
	}
	prefix = prefix.Masked()
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits >= 31 || 1<<hostBits > limit {
		return nil, errors.ErrInvalidTarget(prefix.String(),
			fmt.Sprintf("block has more than %d addresses", limit))
	}

	addrs := make([]netip.Addr, 0, 1<<hostBits)
	for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
		addrs = append(addrs, addr)
		if !addr.Next().IsValid() {
			break
		}
	}
	return addrs, nil
}
