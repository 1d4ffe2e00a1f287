package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/netscope/internal/api"
	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/monitor"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/runner"
)

const systemMetricsInterval = 15 * time.Second

var (
	monInterval string
	monHistory  int
	monWarmup   int
	monSigma    float64
	monListen   string
	monDuration time.Duration
	monRuns     int
	monKinds    string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <target>",
	Short: "Repeat a probe batch on a fixed interval and flag anomalies",
	Long: `Run a batch of probes (ping, traceroute and DNS unless --kinds says
otherwise) against a target every --interval until interrupted. Each run is
stored like any other; numeric metrics feed a running baseline and values more
than --sigma standard deviations from it are reported as anomalies once
--warmup samples have been seen.

With --listen, a status server exposes /metrics, /api/v1/session,
/api/v1/history, /api/v1/baselines and a websocket feed at /api/v1/live.`,
	Example: `  netscope monitor gateway --interval 30s
  netscope monitor 1.1.1.1 --interval "@every 5m" --kinds ping,dns
  netscope monitor example.com --listen 127.0.0.1:9090 --duration 1h`,
	Args: exactArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	f := monitorCmd.Flags()
	f.StringVar(&monInterval, "interval", "", "interval between runs, e.g. 30s or '@every 5m' (default from config)")
	f.IntVar(&monHistory, "history", 0, "runs kept in memory (default from config)")
	f.IntVar(&monWarmup, "warmup", 0, "samples per metric before anomalies are flagged (default from config)")
	f.Float64Var(&monSigma, "sigma", 0, "anomaly threshold in standard deviations (default from config)")
	f.StringVar(&monListen, "listen", "", "address for the status server, e.g. 127.0.0.1:9090")
	f.DurationVar(&monDuration, "duration", 0, "stop after this long (default: until interrupted)")
	f.IntVar(&monRuns, "runs", 0, "stop after this many runs (default: unlimited)")
	f.StringVar(&monKinds, "kinds", strings.Join(kindNames(runner.QuickCheckKinds), ","), "comma-separated probe kinds in each run")
}

func kindNames(kinds []probe.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// monitorConfig applies the monitor flags over the configured values.
func monitorConfig(cmd *cobra.Command, mc config.MonitorConfig) (monitor.Config, error) {
	f := cmd.Flags()
	if f.Changed("interval") {
		mc.Interval = monInterval
	}
	if f.Changed("history") {
		mc.HistorySize = monHistory
	}
	if f.Changed("warmup") {
		mc.Warmup = monWarmup
	}
	if f.Changed("sigma") {
		mc.Sigma = monSigma
	}

	interval, err := monitor.ParseInterval(mc.Interval)
	if err != nil {
		return monitor.Config{}, usageError(err)
	}
	switch {
	case mc.HistorySize < 1:
		return monitor.Config{}, usageError(fmt.Errorf("--history must be at least 1"))
	case mc.Warmup < 2:
		return monitor.Config{}, usageError(fmt.Errorf("--warmup must be at least 2"))
	case mc.Sigma <= 0:
		return monitor.Config{}, usageError(fmt.Errorf("--sigma must be positive"))
	case monRuns < 0:
		return monitor.Config{}, usageError(errNegative("--runs"))
	case monDuration < 0:
		return monitor.Config{}, usageError(errNegative("--duration"))
	}
	return monitor.Config{
		Interval:    interval,
		HistorySize: mc.HistorySize,
		Warmup:      mc.Warmup,
		Sigma:       mc.Sigma,
		MaxRuns:     monRuns,
	}, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var kinds []probe.Kind
	for _, name := range strings.Split(monKinds, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		kind, err := probe.ParseKind(name)
		if err != nil {
			return usageError(err)
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return usageError(fmt.Errorf("--kinds must name at least one probe kind"))
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	if monDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monDuration)
		defer cancel()
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	mcfg, err := monitorConfig(cmd, a.cfg.Monitor)
	if err != nil {
		return err
	}
	tgt, err := a.runner.Resolver().ResolveHost(args[0])
	if err != nil {
		return err
	}

	listen := a.cfg.Server.ListenAddr
	if cmd.Flags().Changed("listen") {
		listen = monListen
	}

	out := cmd.OutOrStdout()
	var (
		outMu sync.Mutex
		live  *api.Hub
	)
	observer := func(e monitor.Entry) {
		outMu.Lock()
		defer outMu.Unlock()
		if err := printEntry(out, e, a.cfg.Output.JSON); err != nil {
			a.logger.Error("Failed to print monitor run", "error", err)
		}
		if live != nil {
			live.Broadcast(e)
		}
	}

	mon, err := monitor.New(mcfg, a.runner.MonitorBatch("monitor", tgt, kinds),
		monitor.WithObserver(observer),
		monitor.WithLogger(a.logger),
		monitor.WithRecorder(a.metrics))
	if err != nil {
		return usageError(err)
	}

	var srv *api.Server
	if listen != "" {
		srv = api.New(config.ServerConfig{ListenAddr: listen, AllowedOrigins: a.cfg.Server.AllowedOrigins},
			mon, a.metrics.GetRegistry(), a.logger)
		live = srv.Live()
	}

	if !a.cfg.Output.JSON {
		cmd.PrintErrf("Monitoring %s every %s (session %s)\n", tgt, mcfg.Interval, mon.Session().ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	a.metrics.StartPeriodicUpdates(gctx, systemMetricsInterval)
	g.Go(func() error {
		defer stopServer()
		return mon.Run(gctx)
	})
	if srv != nil {
		g.Go(func() error { return srv.Start(srvCtx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	history := mon.History()
	if len(history) == 0 {
		return nil
	}
	if last := history[len(history)-1]; last.Record.Status == probe.Failure {
		return errRunFailed
	}
	return nil
}
