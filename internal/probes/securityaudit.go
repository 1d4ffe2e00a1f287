package probes

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

// Score penalties per finding.
const (
	penaltyCertExpired      = 30
	penaltyWeakCipher       = 15
	penaltyNoForwardSecrecy = 10
	penaltyOldProtocol      = 15
	penaltyDangerousPort    = 20
	penaltyNoDNSSEC         = 5
	penaltySNMPCommunity    = 20
)

const sysDescrOID = "1.3.6.1.2.1.1.1.0"

// DangerousPorts are services that should rarely face the network.
var DangerousPorts = map[int]string{
	20:    "FTP data (unencrypted)",
	21:    "FTP control (unencrypted)",
	23:    "Telnet (unencrypted)",
	25:    "SMTP (open relay risk)",
	53:    "DNS (amplification)",
	69:    "TFTP (no authentication)",
	135:   "MS RPC",
	137:   "NetBIOS name service",
	138:   "NetBIOS datagram",
	139:   "NetBIOS session (SMB)",
	161:   "SNMP",
	445:   "SMB",
	1433:  "MS SQL",
	1434:  "MS SQL monitor",
	3306:  "MySQL",
	3389:  "RDP",
	5432:  "PostgreSQL",
	5900:  "VNC",
	6379:  "Redis",
	27017: "MongoDB",
}

// SNMPGetter reads sysDescr from host with the given community.
type SNMPGetter func(ctx context.Context, host, community string, timeout time.Duration) (string, error)

// SecurityAuditProbe scores a host's exposure from TLS, open port, DNSSEC
// and SNMP checks.
type SecurityAuditProbe struct {
	TLSPort        int
	DangerousPorts map[int]string
	Community      string
	DNSServer      string
	DNS            DNSExchanger
	Dialer         Dialer
	SNMP           SNMPGetter
	Thresholds     config.ThresholdsConfig
	Now            func() time.Time
}

// Kind implements probe.Probe.
func (p *SecurityAuditProbe) Kind() probe.Kind { return probe.KindSecurityAudit }

type audit struct {
	score    int
	findings []string
	checks   int
}

func (a *audit) penalize(points int, format string, args ...any) {
	a.score -= points
	a.findings = append(a.findings, fmt.Sprintf(format, args...))
}

// Execute implements probe.Probe. Options.Extra may carry "tls_port".
func (p *SecurityAuditProbe) Execute(ctx context.Context, target probe.Target, opts probe.Options) *probe.Result {
	tlsPort := p.TLSPort
	if v := opts.Extra["tls_port"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 65535 {
			return probe.Failed(errors.New(errors.CodeValidation, fmt.Sprintf("invalid tls_port %q", v)))
		}
		tlsPort = n
	}
	if tlsPort == 0 {
		tlsPort = 443
	}

	a := &audit{score: 100}
	p.checkTLS(ctx, a, target.Address, tlsPort)
	if err := p.checkPorts(ctx, a, target.Address); err != nil {
		return probe.Failed(err)
	}
	p.checkDNSSEC(ctx, a, target.Address)
	p.checkSNMP(ctx, a, target.Address)
	if err := ctx.Err(); err != nil {
		return probe.Failed(err)
	}

	a.score = max(0, min(100, a.score))
	risk := RiskLevel(a.score)

	metrics := probe.Metrics{
		{Name: "score", Value: probe.Int(a.score)},
		{Name: "risk_level", Value: probe.String(risk)},
		{Name: "findings", Value: probe.Strings(a.findings)},
		{Name: "checks_run", Value: probe.Int(a.checks)},
	}

	switch {
	case a.score < p.Thresholds.SecurityFailBelow:
		r := probe.Succeeded(probe.Failure, metrics)
		r.Err = errors.New(errors.CodePolicyViolation,
			fmt.Sprintf("security score %d is below %d (%s risk)", a.score, p.Thresholds.SecurityFailBelow, risk))
		return r
	case a.score < p.Thresholds.SecurityWarnBelow:
		return probe.Succeeded(probe.Warning, metrics)
	}
	return probe.Succeeded(probe.Success, metrics)
}

// RiskLevel buckets a 0-100 score.
func RiskLevel(score int) string {
	switch {
	case score >= 90:
		return "low"
	case score >= 70:
		return "medium"
	case score >= 50:
		return "high"
	}
	return "critical"
}

func (p *SecurityAuditProbe) dialer() Dialer {
	if p.Dialer != nil {
		return p.Dialer
	}
	return &net.Dialer{}
}

func (p *SecurityAuditProbe) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *SecurityAuditProbe) checkTLS(ctx context.Context, a *audit, host string, port int) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := p.dialer().DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return
	}
	defer raw.Close()
	a.checks++

	// Verification is skipped so that expired or self-signed certificates
	// can still be inspected.
	conn := tls.Client(raw, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // #nosec G402 -- inspection only
		MinVersion:         tls.VersionTLS10,
	})
	if err := conn.HandshakeContext(dialCtx); err != nil {
		a.findings = append(a.findings, fmt.Sprintf("tls handshake on port %d failed: %v", port, err))
		return
	}
	state := conn.ConnectionState()

	if len(state.PeerCertificates) > 0 {
		if leaf := state.PeerCertificates[0]; p.now().After(leaf.NotAfter) {
			a.penalize(penaltyCertExpired, "certificate expired on %s", leaf.NotAfter.Format(time.DateOnly))
		}
	}
	if state.Version < tls.VersionTLS12 {
		a.penalize(penaltyOldProtocol, "negotiated obsolete protocol %s", tls.VersionName(state.Version))
	}
	for _, suite := range tls.InsecureCipherSuites() {
		if suite.ID == state.CipherSuite {
			a.penalize(penaltyWeakCipher, "weak cipher suite %s", suite.Name)
			break
		}
	}
	if state.Version < tls.VersionTLS13 && !strings.Contains(tls.CipherSuiteName(state.CipherSuite), "ECDHE") {
		a.penalize(penaltyNoForwardSecrecy, "cipher suite %s lacks forward secrecy", tls.CipherSuiteName(state.CipherSuite))
	}
}

func (p *SecurityAuditProbe) checkPorts(ctx context.Context, a *audit, host string) error {
	catalog := p.DangerousPorts
	if catalog == nil {
		catalog = DangerousPorts
	}
	ports := make([]int, 0, len(catalog))
	for port := range catalog {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	open, err := scanPorts(ctx, p.dialer(), host, ports, len(ports), 2*time.Second)
	if err != nil {
		return err
	}
	a.checks++
	for _, port := range open {
		a.penalize(penaltyDangerousPort, "dangerous port %d open: %s", port, catalog[port])
	}
	return nil
}

func (p *SecurityAuditProbe) checkDNSSEC(ctx context.Context, a *audit, host string) {
	if _, err := netip.ParseAddr(host); err == nil {
		return
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.SetEdns0(4096, true)

	client := p.DNS
	if client == nil {
		client = &dns.Client{Net: "udp"}
	}
	resolver := (&DNSProbe{Server: p.DNSServer}).server()
	resp, _, err := client.ExchangeContext(ctx, msg, resolver)
	if err != nil || resp == nil {
		return
	}
	a.checks++

	for _, rr := range resp.Answer {
		if _, ok := rr.(*dns.RRSIG); ok {
			return
		}
	}
	a.penalize(penaltyNoDNSSEC, "no DNSSEC signatures for %s", host)
}

func (p *SecurityAuditProbe) checkSNMP(ctx context.Context, a *audit, host string) {
	community := p.Community
	if community == "" {
		return
	}
	get := p.SNMP
	if get == nil {
		get = GetSysDescr
	}

	a.checks++
	descr, err := get(ctx, host, community, 2*time.Second)
	if err != nil {
		return
	}
	a.penalize(penaltySNMPCommunity, "SNMP answers community %q (%s)", community, descr)
}

// GetSysDescr queries sysDescr over SNMPv2c.
func GetSysDescr(ctx context.Context, host, community string, timeout time.Duration) (string, error) {
	g := &gosnmp.GoSNMP{
		Target:    host,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   0,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return "", err
	}
	defer g.Conn.Close()

	pkt, err := g.Get([]string{sysDescrOID})
	if err != nil {
		return "", err
	}
	for _, v := range pkt.Variables {
		if v.Type == gosnmp.OctetString {
			if b, ok := v.Value.([]byte); ok {
				return string(b), nil
			}
		}
	}
	return "", fmt.Errorf("sysDescr not returned")
}
