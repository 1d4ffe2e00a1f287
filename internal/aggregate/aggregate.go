// Package aggregate folds the results of one logical run into a RunRecord.
// Everything here is a pure function of its input.
package aggregate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

// IDLayout is the timestamp prefix of run IDs and run directory names.
const IDLayout = "2006-01-02_150405"

// ErrEmptyRun is returned when a run has no results to aggregate.
var ErrEmptyRun = errors.New(errors.CodeValidation, "run has no probe results")

// RunRecord is the aggregated outcome of one logical check.
type RunRecord struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Target   string          `json:"target"`
	Seq      int             `json:"seq"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Results  []*probe.Result `json:"results"`
	Status   probe.Status    `json:"status"`
	Summary  string          `json:"summary"`
}

// Duration is the wall time from the first probe start to the last probe end.
func (r *RunRecord) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Counts tallies results per status.
func (r *RunRecord) Counts() map[probe.Status]int {
	counts := make(map[probe.Status]int, 3)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Input describes the run being aggregated.
type Input struct {
	Name    string
	Target  string
	Seq     int
	Results []*probe.Result
	// At stamps the run ID; zero means the earliest result start.
	At time.Time
}

// Aggregate builds a RunRecord. Results are sorted by spec key and the
// overall status is the most severe constituent status.
func Aggregate(in Input) (*RunRecord, error) {
	results := make([]*probe.Result, 0, len(in.Results))
	for _, r := range in.Results {
		if r != nil {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		return nil, ErrEmptyRun
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Spec.Key < results[j].Spec.Key
	})

	started, finished := results[0].Start, results[0].End
	for _, r := range results[1:] {
		if r.Start.Before(started) {
			started = r.Start
		}
		if r.End.After(finished) {
			finished = r.End
		}
	}

	at := in.At
	if at.IsZero() {
		at = started
	}

	return &RunRecord{
		ID:       RunID(at, in.Name),
		Name:     in.Name,
		Target:   in.Target,
		Seq:      in.Seq,
		Started:  started,
		Finished: finished,
		Results:  results,
		Status:   Worst(results),
		Summary:  Summarize(results),
	}, nil
}

// Worst returns the most severe status among results. It returns Success
// for an empty slice; callers that must reject empty runs use Aggregate.
func Worst(results []*probe.Result) probe.Status {
	status := probe.Success
	for _, r := range results {
		if r != nil {
			status = probe.Worse(status, r.Status)
		}
	}
	return status
}

// Summarize renders one line per result: "<key>: <status> (<metric>=<value>)".
// Results without metrics show their error code instead.
func Summarize(results []*probe.Result) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, summaryLine(r))
	}
	return strings.Join(lines, "\n")
}

func summaryLine(r *probe.Result) string {
	line := fmt.Sprintf("%s: %s", r.Spec.Key, r.Status)
	if m, ok := r.Metrics.Key(); ok {
		return fmt.Sprintf("%s (%s=%s)", line, m.Name, m.Value)
	}
	if r.Err != nil {
		return fmt.Sprintf("%s (%s)", line, r.Err.Code)
	}
	return line
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// RunID formats a run identifier "YYYY-MM-DD_HHMMSS_<name>" in local time.
func RunID(at time.Time, name string) string {
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	if name == "" {
		name = "run"
	}
	return at.Local().Format(IDLayout) + "_" + name
}

// ExitCode maps a run status to the CLI exit code contract.
func ExitCode(status probe.Status) int {
	if status == probe.Failure {
		return 1
	}
	return 0
}
