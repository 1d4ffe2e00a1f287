// Package cli provides the netscope command-line interface: single probes,
// quick checks, ping sweeps and continuous monitor sessions.
package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/executor"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/probes"
	"github.com/anstrom/netscope/internal/runner"
	"github.com/anstrom/netscope/internal/sink"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

const envPrefix = "NETSCOPE"

var (
	cfgFile    string
	outputDir  string
	jsonOutput bool
	verbose    bool
	workers    int
	rate       float64
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// newRegistry builds the probe registry for a command.
var newRegistry = probes.NewRegistry

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netscope",
	Short: "Network probe orchestration",
	Long: `netscope runs network probes (ping, traceroute, DNS, port scans, nmap,
ARP, ping sweeps, bandwidth and security audits) against a target under a
bounded worker pool, aggregates the results into a single run status and
stores every run on disk.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(rootCmd.ErrOrStderr())
}

func execute(stderr io.Writer) int {
	err := rootCmd.Execute()
	code := exitCode(err)
	var ee *exitError
	if err != nil && !(stderrors.As(err, &ee) && ee.silent) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if code == ExitUsage {
			fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", rootCmd.Name())
		}
	}
	return code
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./netscope.yaml)")
	pf.StringVarP(&outputDir, "output", "o", "", "directory runs are written to")
	pf.BoolVar(&jsonOutput, "json", false, "print runs as JSON")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.IntVar(&workers, "workers", 0, "maximum probes in flight")
	pf.Float64Var(&rate, "rate", 0, "probe launches per second (0 keeps the configured limit)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
}

// exitError carries an exit code through cobra. Silent errors have already
// been reported by the command.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: ExitUsage, err: err}
}

// errRunFailed reports a run whose overall status is Failure.
var errRunFailed = &exitError{code: ExitFailure, silent: true}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if stderrors.As(err, &ee) {
		return ee.code
	}
	var cfgErr *errors.ConfigError
	if stderrors.As(err, &cfgErr) {
		return ExitUsage
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return ExitUsage
	}
	switch errors.GetCode(err) {
	case errors.CodeInvalidTarget, errors.CodeValidation, errors.CodeConfiguration:
		return ExitUsage
	}
	return ExitFailure
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// loadConfig layers defaults, the config file, NETSCOPE_* environment
// variables and command-line flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, usageError(fmt.Errorf("config file: %w", err))
		}
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("netscope")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "netscope"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, usageError(fmt.Errorf("failed to read config: %w", err))
		}
	}

	cfg, err := config.Load(v.ConfigFileUsed())
	if err != nil {
		return nil, usageError(err)
	}

	pf := cmd.Flags()
	bindings := [][2]string{
		{"output.dir", "output"},
		{"output.json", "json"},
		{"executor.workers", "workers"},
		{"executor.rate_limit.requests_per_second", "rate"},
	}
	for _, b := range bindings {
		if f := pf.Lookup(b[1]); f != nil {
			if err := v.BindPFlag(b[0], f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", b[1], err)
			}
		}
	}
	if v.IsSet("output.dir") {
		cfg.Output.Dir = v.GetString("output.dir")
	}
	if v.IsSet("output.json") {
		cfg.Output.JSON = v.GetBool("output.json")
	}
	if v.IsSet("executor.workers") {
		cfg.Executor.Workers = v.GetInt("executor.workers")
	}
	if v.IsSet("executor.rate_limit.requests_per_second") {
		if r := v.GetFloat64("executor.rate_limit.requests_per_second"); r > 0 {
			cfg.Executor.RateLimit.Enabled = true
			cfg.Executor.RateLimit.RequestsPerSecond = r
		}
	}
	if v.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(v.GetString("logging.level"))
	}
	if v.IsSet("database.enabled") {
		cfg.Database.Enabled = v.GetBool("database.enabled")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("server.listen_addr") {
		cfg.Server.ListenAddr = v.GetString("server.listen_addr")
	}
	if verbose {
		cfg.Logging.Level = logging.LevelDebug
	}
	if cfg.Output.LogToFiles && (cfg.Logging.Output == "" || cfg.Logging.Output == "stderr") {
		cfg.Logging.Output = filepath.Join(cfg.Output.Dir, "netscope.log")
	}

	if err := cfg.Validate(); err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

// app is everything a command needs to run.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
	runner  *runner.Runner
	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// newApp loads configuration and wires logging, metrics, probes and sinks.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, usageError(fmt.Errorf("failed to initialize logging: %w", err))
	}
	logging.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, metrics: metrics.GetGlobalMetrics()}
	a.closers = append(a.closers, logger)

	var sinks sink.MultiSink
	if cfg.Output.Persist {
		sinks = append(sinks, sink.NewFileSink(cfg.Output.Dir, cfg.Output.SaveRaw, cfg.Logging))
	}
	if cfg.Database.Enabled {
		pg, err := sink.OpenPostgres(ctx, cfg.Database, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, pg)
		a.closers = append(a.closers, pg)
	}

	limiter := executor.NewLimiter(executor.ConfigFrom(cfg.Executor))
	registry := newRegistry(cfg, probes.Deps{Recorder: a.metrics, Logger: logger, Limiter: limiter})
	a.runner = runner.New(cfg, registry,
		runner.WithLimiter(limiter),
		runner.WithSink(sinks),
		runner.WithRecorder(a.metrics),
		runner.WithLogger(logger))

	logger.Debug("Netscope initialized",
		"version", version,
		"workers", cfg.Executor.Workers,
		"output", cfg.Output.Dir,
		"persist", cfg.Output.Persist,
		"database", cfg.Database.Enabled)
	return a, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}
