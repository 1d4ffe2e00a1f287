package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/netscope/internal/aggregate"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/probes"
)

var (
	probeTimeout time.Duration
	probeRetries int
	probePorts   string
	probePreset  string
	probeCount   int

	sweepTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe <kind> <target>",
	Short: "Run a single probe against a target",
	Long: `Run one probe kind against a host, IP address or CIDR block. Use
'netscope kinds' to list the available kinds. Timeouts and retries default to
the configured values for the kind.`,
	Example: `  netscope probe ping 1.1.1.1
  netscope probe dns example.com --timeout 3s
  netscope probe portscan 10.0.0.5 --ports 22,80,443,8000-8100
  netscope probe nmap gateway --preset top100
  netscope probe arp 192.168.1.0/24`,
	Args: exactArgs(2),
	RunE: runProbe,
}

var quickCmd = &cobra.Command{
	Use:   "quick <target>",
	Short: "Run ping, traceroute and DNS against a target in parallel",
	Example: `  netscope quick example.com
  netscope quick gateway --json`,
	Args: exactArgs(1),
	RunE: runQuick,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep <cidr>",
	Short: "Ping every address of a CIDR block",
	Long: `Ping every address of a block of at most 256 addresses. --workers sets
how many hosts are pinged at once and --timeout bounds each host.`,
	Example: `  netscope sweep 192.168.1.0/24
  netscope sweep local --workers 50 --timeout 500ms`,
	Args: exactArgs(1),
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(probeCmd, quickCmd, sweepCmd)

	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 0, "probe timeout (default from config)")
	probeCmd.Flags().IntVar(&probeRetries, "retries", -1, "retries for transient failures (default from config)")
	probeCmd.Flags().StringVar(&probePorts, "ports", "", "ports for portscan and nmap, e.g. '22,80,8000-8100'")
	probeCmd.Flags().StringVar(&probePreset, "preset", "", "port preset for portscan and nmap: top20, top100")
	probeCmd.Flags().IntVar(&probeCount, "count", 0, "echo requests for ping (default from config)")
	probeCmd.MarkFlagsMutuallyExclusive("ports", "preset")

	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 0, "per-host timeout (default from config)")
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func probeOptions() (probe.Options, error) {
	opts := probe.Options{
		Timeout:    probeTimeout,
		MaxRetries: probeRetries,
		Preset:     probePreset,
		Count:      probeCount,
	}
	if probeTimeout < 0 {
		return opts, usageError(errNegative("--timeout"))
	}
	if probePorts != "" {
		ports, err := probes.ParsePorts(probePorts)
		if err != nil {
			return opts, usageError(err)
		}
		opts.Ports = ports
	}
	if probePreset != "" {
		if _, err := probes.PresetPorts(probePreset); err != nil {
			return opts, usageError(err)
		}
	}
	return opts, nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	kind, err := probe.ParseKind(args[0])
	if err != nil {
		return usageError(err)
	}
	opts, err := probeOptions()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.runner.RunProbe(ctx, kind, args[1], opts)
	return a.report(cmd, rec, err)
}

func runQuick(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.runner.QuickCheck(ctx, args[0])
	return a.report(cmd, rec, err)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if sweepTimeout < 0 {
		return usageError(errNegative("--timeout"))
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.runner.Sweep(ctx, args[0], workers, sweepTimeout)
	return a.report(cmd, rec, err)
}

// report prints a finished run and turns its status into the exit code.
func (a *app) report(cmd *cobra.Command, rec *aggregate.RunRecord, err error) error {
	if rec != nil {
		if perr := printRecord(cmd.OutOrStdout(), rec, a.cfg.Output.JSON); perr != nil {
			a.logger.Error("Failed to print run", "error", perr)
		}
		if err == nil && a.cfg.Output.Persist && !a.cfg.Output.JSON {
			cmd.PrintErrf("Results written to %s\n", runDir(a.cfg.Output.Dir, rec.ID))
		}
	}
	if err != nil {
		return err
	}
	if aggregate.ExitCode(rec.Status) != ExitOK {
		return errRunFailed
	}
	return nil
}
