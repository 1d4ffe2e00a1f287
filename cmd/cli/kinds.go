package cli

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netscope/internal/probe"
)

var kindDescriptions = map[probe.Kind]string{
	probe.KindPing:          "ICMP echo: packet loss and latency",
	probe.KindTraceroute:    "hop-by-hop path via the traceroute tool",
	probe.KindDNS:           "A/AAAA lookup, or PTR for an IP address",
	probe.KindPortScan:      "TCP connect scan of a port list or preset",
	probe.KindNmap:          "nmap service scan (needs nmap)",
	probe.KindARP:           "neighbours from the kernel ARP table",
	probe.KindSweep:         "ping every address of a CIDR block",
	probe.KindBandwidth:     "download throughput plus latency jitter",
	probe.KindSecurityAudit: "open risky ports, TLS, SNMP and DNSSEC posture",
}

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the available probe kinds",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Kind", "Timeout", "Description")
		for _, kind := range probe.AllKinds() {
			_ = table.Append([]string{
				string(kind),
				cfg.TimeoutFor(string(kind)).String(),
				kindDescriptions[kind],
			})
		}
		return table.Render()
	},
}

func init() {
	rootCmd.AddCommand(kindsCmd)
}
