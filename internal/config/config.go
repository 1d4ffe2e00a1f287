// Package config holds the explicit configuration object passed into every
// netscope component. Values come from defaults, an optional YAML file and
// command-line overrides applied by the CLI; nothing reads global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete netscope configuration.
type Config struct {
	Executor   ExecutorConfig   `yaml:"executor" json:"executor"`
	Probes     ProbesConfig     `yaml:"probes" json:"probes"`
	Thresholds ThresholdsConfig `yaml:"thresholds" json:"thresholds"`
	Monitor    MonitorConfig    `yaml:"monitor" json:"monitor"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    logging.Config   `yaml:"logging" json:"logging"`
}

// ExecutorConfig bounds how probes are scheduled.
type ExecutorConfig struct {
	// Maximum number of probes in flight.
	Workers int `yaml:"workers" json:"workers" validate:"min=1,max=1024"`

	// Budget for a probe when its spec carries none.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout" validate:"gt=0"`

	// Grace period past the timeout before the executor abandons a probe.
	Slack time.Duration `yaml:"slack" json:"slack" validate:"gte=0"`

	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RetryConfig holds retry settings for transient failures.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries" json:"max_retries" validate:"min=0,max=10"`
	BaseDelay         time.Duration `yaml:"base_delay" json:"base_delay" validate:"gt=0"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier" validate:"gt=1"`
}

// RateLimitConfig is the token bucket guarding probe launches.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size" validate:"min=1"`
}

// ProbesConfig holds per-variant defaults.
type ProbesConfig struct {
	// Per-kind timeout overrides keyed by probe kind name.
	Timeouts map[string]time.Duration `yaml:"timeouts" json:"timeouts"`

	PingCount         int           `yaml:"ping_count" json:"ping_count" validate:"min=1,max=100"`
	PingPrivileged    bool          `yaml:"ping_privileged" json:"ping_privileged"`
	TracerouteMaxHops int           `yaml:"traceroute_max_hops" json:"traceroute_max_hops" validate:"min=1,max=64"`
	DNSServer         string        `yaml:"dns_server" json:"dns_server"`
	PortPreset        string        `yaml:"port_preset" json:"port_preset" validate:"oneof=top20 top100"`
	PortConcurrency   int           `yaml:"port_concurrency" json:"port_concurrency" validate:"min=1"`
	SweepWorkers      int           `yaml:"sweep_workers" json:"sweep_workers" validate:"min=1,max=256"`
	SweepHostTimeout  time.Duration `yaml:"sweep_host_timeout" json:"sweep_host_timeout" validate:"gt=0"`
	NmapTiming        int           `yaml:"nmap_timing" json:"nmap_timing" validate:"min=0,max=5"`
	BandwidthURL      string        `yaml:"bandwidth_url" json:"bandwidth_url" validate:"omitempty,url"`
	BandwidthSamples  int           `yaml:"bandwidth_samples" json:"bandwidth_samples" validate:"min=1"`
	SNMPCommunity     string        `yaml:"snmp_community" json:"snmp_community"`
}

// ThresholdsConfig maps raw metrics to Success/Warning/Failure.
type ThresholdsConfig struct {
	// Packet loss percentage at or above which ping reports Warning.
	PingLossWarn float64 `yaml:"ping_loss_warn" json:"ping_loss_warn" validate:"gte=0,lte=100"`

	// Average latency in milliseconds above which ping reports Warning.
	PingLatencyWarn float64 `yaml:"ping_latency_warn" json:"ping_latency_warn" validate:"gte=0"`

	// Loss percentage at or above which the jitter samples report Warning.
	JitterLossWarn float64 `yaml:"jitter_loss_warn" json:"jitter_loss_warn" validate:"gte=0,lte=100"`

	// Security scores below these report Warning and Failure respectively.
	SecurityWarnBelow int `yaml:"security_warn_below" json:"security_warn_below" validate:"min=0,max=100"`
	SecurityFailBelow int `yaml:"security_fail_below" json:"security_fail_below" validate:"min=0,max=100"`
}

// MonitorConfig holds continuous monitor settings.
type MonitorConfig struct {
	// Interval as a Go duration ("30s") or a cron "@every" descriptor.
	Interval    string  `yaml:"interval" json:"interval" validate:"required"`
	HistorySize int     `yaml:"history_size" json:"history_size" validate:"min=1"`
	Warmup      int     `yaml:"warmup" json:"warmup" validate:"min=2"`
	Sigma       float64 `yaml:"sigma" json:"sigma" validate:"gt=0"`
}

// OutputConfig controls where runs are written.
type OutputConfig struct {
	Dir        string `yaml:"dir" json:"dir" validate:"required"`
	JSON       bool   `yaml:"json" json:"json"`
	SaveRaw    bool   `yaml:"save_raw" json:"save_raw"`
	Persist    bool   `yaml:"persist" json:"persist"`
	LogToFiles bool   `yaml:"log_to_files" json:"log_to_files"`
}

// DatabaseConfig configures the optional PostgreSQL result sink.
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Host            string        `yaml:"host" json:"host" validate:"required_if=Enabled true"`
	Port            int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	Database        string        `yaml:"database" json:"database" validate:"required_if=Enabled true"`
	Username        string        `yaml:"username" json:"username" validate:"required_if=Enabled true"`
	Password        string        `yaml:"password" json:"-"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// ServerConfig configures the monitor status server.
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr" json:"listen_addr" validate:"omitempty,hostname_port"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Executor: ExecutorConfig{
			Workers:        10,
			DefaultTimeout: 30 * time.Second,
			Slack:          250 * time.Millisecond,
			Retry: RetryConfig{
				MaxRetries:        2,
				BaseDelay:         500 * time.Millisecond,
				BackoffMultiplier: 2.0,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 50,
				BurstSize:         10,
			},
		},
		Probes: ProbesConfig{
			Timeouts: map[string]time.Duration{
				"ping":          10 * time.Second,
				"traceroute":    60 * time.Second,
				"dns":           5 * time.Second,
				"portscan":      30 * time.Second,
				"nmap":          5 * time.Minute,
				"arp":           10 * time.Second,
				"sweep":         2 * time.Minute,
				"bandwidth":     60 * time.Second,
				"securityaudit": 90 * time.Second,
			},
			PingCount:         4,
			TracerouteMaxHops: 15,
			PortPreset:        "top20",
			PortConcurrency:   50,
			SweepWorkers:      20,
			SweepHostTimeout:  2 * time.Second,
			NmapTiming:        4,
			BandwidthURL:      "https://speed.cloudflare.com/__down?bytes=10000000",
			BandwidthSamples:  10,
			SNMPCommunity:     "public",
		},
		Thresholds: ThresholdsConfig{
			PingLossWarn:      1,
			PingLatencyWarn:   200,
			JitterLossWarn:    5,
			SecurityWarnBelow: 90,
			SecurityFailBelow: 50,
		},
		Monitor: MonitorConfig{
			Interval:    "60s",
			HistorySize: 100,
			Warmup:      5,
			Sigma:       3,
		},
		Output: OutputConfig{
			Dir:     "output",
			SaveRaw: true,
			Persist: true,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML is a superset of JSON, so both extensions go through the same decoder.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed %q check", first.Tag()), first.Namespace(), first.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "configuration validation failed", err)
	}

	if c.Thresholds.SecurityFailBelow > c.Thresholds.SecurityWarnBelow {
		return errors.ErrConfigInvalid("thresholds.security_fail_below", c.Thresholds.SecurityFailBelow)
	}

	for kind, timeout := range c.Probes.Timeouts {
		if timeout <= 0 {
			return errors.ErrConfigInvalid("probes.timeouts."+kind, timeout)
		}
	}

	switch strings.ToLower(string(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

// TimeoutFor returns the configured budget for a probe kind.
func (c *Config) TimeoutFor(kind string) time.Duration {
	if t, ok := c.Probes.Timeouts[kind]; ok && t > 0 {
		return t
	}
	return c.Executor.DefaultTimeout
}

// DSN returns the lib/pq connection string for the database sink.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Database, d.Username, d.Password, d.SSLMode,
	)
}
