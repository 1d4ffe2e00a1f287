// Package logging provides structured logging built on Go's slog package.
// It supports text and JSON output, configurable levels, size-rotated log
// files and the probe-aware field helpers used throughout netscope.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDirPerm = 0750

	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 30
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the available log formats.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// RotationConfig controls size-based rotation of file outputs.
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool `yaml:"compress" json:"compress"`
}

// Config holds logging configuration.
type Config struct {
	Level     LogLevel       `yaml:"level" json:"level"`
	Format    LogFormat      `yaml:"format" json:"format"`
	Output    string         `yaml:"output" json:"output"`
	AddSource bool           `yaml:"add_source" json:"add_source"`
	Rotation  RotationConfig `yaml:"rotation" json:"rotation"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: "stderr",
		Rotation: RotationConfig{
			MaxSizeMB:  defaultMaxSizeMB,
			MaxBackups: defaultMaxBackups,
			MaxAgeDays: defaultMaxAgeDays,
		},
	}
}

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	config Config
	closer io.Closer
}

// ParseLevel converts a level name into a slog level, defaulting to info.
func ParseLevel(level LogLevel) slog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new structured logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	var (
		writer io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		// Anything else is a file path, rotated by size.
		if err := os.MkdirAll(filepath.Dir(cfg.Output), logDirPerm); err != nil {
			return nil, err
		}
		rotator := newRotator(cfg.Output, cfg.Rotation)
		writer, closer = rotator, rotator
	}

	return &Logger{
		Logger: slog.New(newHandler(writer, cfg)),
		config: cfg,
		closer: closer,
	}, nil
}

// NewWithWriter creates a logger that writes to w. Useful for tests and for
// teeing run logs.
func NewWithWriter(w io.Writer, cfg Config) *Logger {
	return &Logger{Logger: slog.New(newHandler(w, cfg)), config: cfg}
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	logger, _ := New(DefaultConfig())
	return logger
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard, DefaultConfig())
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	if cfg.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func newRotator(path string, rot RotationConfig) *lumberjack.Logger {
	if rot.MaxSizeMB <= 0 {
		rot.MaxSizeMB = defaultMaxSizeMB
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}
}

// Close releases the file output, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Tee returns a logger that writes to both l and a second handler.
func (l *Logger) Tee(w io.Writer) *Logger {
	return &Logger{
		Logger: slog.New(teeHandler{l.Handler(), newHandler(w, l.config)}),
		config: l.config,
		closer: l.closer,
	}
}

// WithFields adds structured fields to the logger.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.With(fields...),
		config: l.config,
		closer: l.closer,
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithRunID adds a run ID field to the logger.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.WithFields("run_id", runID)
}

// WithTarget adds a target field to the logger.
func (l *Logger) WithTarget(target string) *Logger {
	return l.WithFields("target", target)
}

// WithProbe adds the probe key field to the logger.
func (l *Logger) WithProbe(key string) *Logger {
	return l.WithFields("probe", key)
}

// WithError adds an error field to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

// InfoProbe logs probe-related information.
func (l *Logger) InfoProbe(msg, key string, fields ...any) {
	allFields := append([]any{"probe", key}, fields...)
	l.Info(msg, allFields...)
}

// ErrorProbe logs probe-related errors.
func (l *Logger) ErrorProbe(msg, key string, err error, fields ...any) {
	allFields := append([]any{"probe", key, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// Global logger instance - can be replaced for testing.
var defaultLogger = NewDefault()

// SetDefault sets the default logger instance.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the default logger instance.
func Default() *Logger {
	return defaultLogger
}

// Debug logs at debug level using the default logger.
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs at info level using the default logger.
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs at error level using the default logger.
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}
