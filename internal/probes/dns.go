package probes

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

// DNSExchanger sends one DNS message. *dns.Client satisfies it.
type DNSExchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// DNSProbe resolves a name to its A and AAAA records, or an address to its
// PTR names.
type DNSProbe struct {
	// Server is the resolver address; a bare IP gets port 53.
	Server string
	Client DNSExchanger
}

// Kind implements probe.Probe.
func (p *DNSProbe) Kind() probe.Kind { return probe.KindDNS }

func (p *DNSProbe) server() string {
	server := p.Server
	if server == "" {
		server = systemResolver()
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return server
}

func (p *DNSProbe) client() DNSExchanger {
	if p.Client != nil {
		return p.Client
	}
	return &dns.Client{Net: "udp"}
}

// Execute implements probe.Probe.
func (p *DNSProbe) Execute(ctx context.Context, target probe.Target, _ probe.Options) *probe.Result {
	if addr, err := netip.ParseAddr(target.Address); err == nil {
		return p.reverse(ctx, addr)
	}

	name := dns.Fqdn(target.Address)
	var (
		v4, v6 []string
		rtt    time.Duration
	)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		answer, took, err := p.query(ctx, name, qtype)
		if err != nil {
			return probe.Failed(err)
		}
		rtt += took
		for _, rr := range answer {
			switch rec := rr.(type) {
			case *dns.A:
				v4 = append(v4, rec.A.String())
			case *dns.AAAA:
				v6 = append(v6, rec.AAAA.String())
			}
		}
	}

	all := append(append([]string(nil), v4...), v6...)
	status := probe.Success
	if len(all) == 0 {
		status = probe.Warning
	}
	return probe.Succeeded(status, probe.Metrics{
		{Name: "ip_count", Value: probe.Int(len(all))},
		{Name: "ipv4_count", Value: probe.Int(len(v4))},
		{Name: "ipv6_count", Value: probe.Int(len(v6))},
		{Name: "ip_addresses", Value: probe.Strings(all)},
		{Name: "resolved", Value: probe.Bool(len(all) > 0)},
		{Name: "rtt_ms", Value: probe.Float(ms(rtt))},
	})
}

func (p *DNSProbe) reverse(ctx context.Context, addr netip.Addr) *probe.Result {
	arpa, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return probe.Failed(errors.ErrInvalidTarget(addr.String(), err.Error()))
	}
	answer, rtt, err := p.query(ctx, arpa, dns.TypePTR)
	if err != nil {
		return probe.Failed(err)
	}

	var names []string
	for _, rr := range answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			names = append(names, strings.TrimSuffix(ptr.Ptr, "."))
		}
	}
	status := probe.Success
	if len(names) == 0 {
		status = probe.Warning
	}
	return probe.Succeeded(status, probe.Metrics{
		{Name: "ptr_count", Value: probe.Int(len(names))},
		{Name: "names", Value: probe.Strings(names)},
		{Name: "resolved", Value: probe.Bool(len(names) > 0)},
		{Name: "rtt_ms", Value: probe.Float(ms(rtt))},
	})
}

// query returns the answer section. NXDOMAIN is an empty answer, not an error.
func (p *DNSProbe) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, time.Duration, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.RecursionDesired = true

	resp, rtt, err := p.client().ExchangeContext(ctx, msg, p.server())
	if err != nil {
		if ctx.Err() != nil {
			return nil, rtt, ctx.Err()
		}
		return nil, rtt, errors.Wrap(errors.CodeTransientNetwork,
			fmt.Sprintf("%s query for %s failed", dns.TypeToString[qtype], name), err)
	}

	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return resp.Answer, rtt, nil
	case dns.RcodeServerFailure, dns.RcodeRefused:
		return nil, rtt, errors.New(errors.CodeTransientNetwork,
			fmt.Sprintf("resolver answered %s", dns.RcodeToString[resp.Rcode]))
	default:
		return nil, rtt, errors.New(errors.CodeMalformedOutput,
			fmt.Sprintf("unexpected rcode %s", dns.RcodeToString[resp.Rcode]))
	}
}

// systemResolver returns the first nameserver in resolv.conf.
func systemResolver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return "8.8.8.8:53"
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}
