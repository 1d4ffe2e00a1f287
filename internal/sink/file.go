package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"

	"github.com/anstrom/netscope/internal/aggregate"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/probe"
)

const (
	dirPerm  = 0750
	filePerm = 0600

	metadataFile = "metadata.json"
	resultsFile  = "results.csv"
	logFile      = "netscope.log"
	rawDir       = "raw_output"
	lockFile     = ".lock"

	lockRetry = 50 * time.Millisecond
)

// CSVHeader is the first row of every results.csv.
var CSVHeader = []string{"timestamp", "test_name", "target", "metric", "value", "status", "details"}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileSink writes each run under Root/<run id>/.
type FileSink struct {
	Root    string
	SaveRaw bool
	// Log configures the per-run netscope.log; Output is ignored.
	Log logging.Config
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string, saveRaw bool, logCfg logging.Config) *FileSink {
	return &FileSink{Root: dir, SaveRaw: saveRaw, Log: logCfg}
}

// Dir returns the directory a run is written to.
func (s *FileSink) Dir(id string) string {
	return filepath.Join(s.Root, id)
}

// Write implements Sink. Files in the run directory are only ever created
// or appended to, under an exclusive lock.
func (s *FileSink) Write(ctx context.Context, record *aggregate.RunRecord) error {
	dir := s.Dir(record.ID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to create run directory", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to lock run directory", err)
	}
	if !locked {
		return errors.New(errors.CodeStorage, "run directory is locked: "+dir)
	}
	defer func() { _ = lock.Unlock() }()

	if err := writeMetadata(filepath.Join(dir, metadataFile), record); err != nil {
		return err
	}
	if err := appendResults(filepath.Join(dir, resultsFile), record); err != nil {
		return err
	}
	if err := s.writeLog(filepath.Join(dir, logFile), record); err != nil {
		return err
	}
	if s.SaveRaw {
		if err := writeRaw(filepath.Join(dir, rawDir), record); err != nil {
			return err
		}
	}
	return nil
}

type probeMeta struct {
	Key        string        `json:"key"`
	Kind       probe.Kind    `json:"kind"`
	Target     string        `json:"target"`
	Status     probe.Status  `json:"status"`
	Attempts   int           `json:"attempts"`
	DurationMS int64         `json:"duration_ms"`
	Metrics    probe.Metrics `json:"metrics"`
	Error      string        `json:"error,omitempty"`
}

type metadata struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Target     string         `json:"target"`
	Seq        int            `json:"seq"`
	Started    time.Time      `json:"started"`
	Finished   time.Time      `json:"finished"`
	DurationMS int64          `json:"duration_ms"`
	Status     probe.Status   `json:"status"`
	Counts     map[string]int `json:"counts"`
	Summary    string         `json:"summary"`
	Probes     []probeMeta    `json:"probes"`
}

func newMetadata(record *aggregate.RunRecord) metadata {
	counts := map[string]int{}
	for status, n := range record.Counts() {
		counts[status.String()] = n
	}
	probes := make([]probeMeta, 0, len(record.Results))
	for _, r := range record.Results {
		pm := probeMeta{
			Key:        r.Spec.Key,
			Kind:       r.Spec.Kind,
			Target:     r.Spec.Target.String(),
			Status:     r.Status,
			Attempts:   r.Attempts,
			DurationMS: r.Duration.Milliseconds(),
			Metrics:    r.Metrics,
		}
		if r.Err != nil {
			pm.Error = r.Err.Error()
		}
		probes = append(probes, pm)
	}
	return metadata{
		ID:         record.ID,
		Name:       record.Name,
		Target:     record.Target,
		Seq:        record.Seq,
		Started:    record.Started,
		Finished:   record.Finished,
		DurationMS: record.Duration().Milliseconds(),
		Status:     record.Status,
		Counts:     counts,
		Summary:    record.Summary,
		Probes:     probes,
	}
}

func writeMetadata(path string, record *aggregate.RunRecord) error {
	data, err := json.MarshalIndent(newMetadata(record), "", "  ")
	if err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to encode run metadata", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), filePerm); err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to write run metadata", err)
	}
	return nil
}

// CSVRows flattens a record into results.csv rows, one per metric. A result
// without metrics still gets a row so that failures are visible.
func CSVRows(record *aggregate.RunRecord) [][]string {
	var rows [][]string
	for _, r := range record.Results {
		ts := r.End.Format(time.RFC3339)
		details := ""
		if r.Err != nil {
			details = r.Err.Error()
		}
		base := func(metric, value string) []string {
			return []string{ts, r.Spec.Key, r.Spec.Target.String(), metric, value, r.Status.String(), details}
		}
		if len(r.Metrics) == 0 {
			rows = append(rows, base("", ""))
			continue
		}
		for _, m := range r.Metrics {
			rows = append(rows, base(m.Name, m.Value.String()))
		}
	}
	return rows
}

func appendResults(path string, record *aggregate.RunRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePerm) // #nosec G304 -- path built from run id
	if err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to open results file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to stat results file", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			return errors.Wrap(errors.CodeStorage, "failed to write results header", err)
		}
	}
	if err := w.WriteAll(CSVRows(record)); err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to write results", err)
	}
	return nil
}

func (s *FileSink) writeLog(path string, record *aggregate.RunRecord) error {
	cfg := s.Log
	if cfg.Level == "" {
		cfg = logging.DefaultConfig()
	}
	cfg.Output = path

	logger, err := logging.New(cfg)
	if err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to open run log", err)
	}
	defer func() { _ = logger.Close() }()

	log := logger.WithRunID(record.ID)
	log.Info("Run started", "name", record.Name, "target", record.Target, "seq", record.Seq,
		"started", record.Started)
	for _, r := range record.Results {
		fields := []any{
			"status", r.Status.String(),
			"attempts", r.Attempts,
			"duration", r.Duration,
		}
		if key, ok := r.Metrics.Key(); ok {
			fields = append(fields, key.Name, key.Value.String())
		}
		if r.Err != nil {
			log.ErrorProbe("Probe failed", r.Spec.Key, r.Err, fields...)
			continue
		}
		log.InfoProbe("Probe finished", r.Spec.Key, fields...)
	}
	log.Info("Run finished", "status", record.Status.String(), "duration", record.Duration())
	return nil
}

func writeRaw(dir string, record *aggregate.RunRecord) error {
	for _, r := range record.Results {
		if r.RawOutput == "" {
			continue
		}
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return errors.Wrap(errors.CodeStorage, "failed to create raw output directory", err)
		}
		path := filepath.Join(dir, RawFileName(r.Spec.Key))
		if err := os.WriteFile(path, []byte(r.RawOutput), filePerm); err != nil {
			return errors.Wrap(errors.CodeStorage, fmt.Sprintf("failed to write raw output for %s", r.Spec.Key), err)
		}
	}
	return nil
}

// RawFileName maps a spec key to its file under raw_output/.
func RawFileName(key string) string {
	name := unsafeName.ReplaceAllString(key, "_")
	if name == "" {
		name = "probe"
	}
	return name + ".txt"
}
