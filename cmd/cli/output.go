package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/netscope/internal/aggregate"
	"github.com/anstrom/netscope/internal/monitor"
	"github.com/anstrom/netscope/internal/probe"
	"github.com/anstrom/netscope/internal/sink"
)

const timeLayout = "2006-01-02 15:04:05"

func errNegative(flag string) error {
	return fmt.Errorf("%s must not be negative", flag)
}

func runDir(root, id string) string {
	return filepath.Join(root, id)
}

// printRecord writes a run as indented JSON or as a results table.
func printRecord(w io.Writer, rec *aggregate.RunRecord, asJSON bool) error {
	if asJSON {
		return sink.EncodeJSON(w, rec)
	}

	fmt.Fprintf(w, "Run %s  target %s  status %s  duration %s\n",
		rec.ID, rec.Target, strings.ToUpper(rec.Status.String()), formatDuration(rec.Duration()))

	table := tablewriter.NewWriter(w)
	table.Header("Probe", "Status", "Attempts", "Duration", "Metrics", "Error")
	for _, r := range rec.Results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		_ = table.Append([]string{
			r.Spec.Key,
			r.Status.String(),
			fmt.Sprintf("%d", r.Attempts),
			formatDuration(r.Duration),
			formatMetrics(r.Metrics),
			errText,
		})
	}
	return table.Render()
}

// printEntry writes one monitor run: a JSON object per line, or a status
// line followed by any anomalies.
func printEntry(w io.Writer, e monitor.Entry, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(e)
	}

	rec := e.Record
	counts := rec.Counts()
	_, err := fmt.Fprintf(w, "[%s] run %d  %-7s  ok=%d warn=%d fail=%d  %s\n",
		e.Due.Local().Format(timeLayout), rec.Seq, strings.ToUpper(rec.Status.String()),
		counts[probe.Success], counts[probe.Warning], counts[probe.Failure],
		formatDuration(rec.Duration()))
	if err != nil {
		return err
	}
	for _, a := range e.Anomalies {
		if _, err := fmt.Fprintf(w, "    anomaly %s = %.3g (mean %.3g, stddev %.3g)\n",
			a.Series, a.Value, a.Mean, a.StdDev); err != nil {
			return err
		}
	}
	return nil
}

func formatMetrics(m probe.Metrics) string {
	parts := make([]string, 0, len(m))
	for _, metric := range m {
		parts = append(parts, metric.Name+"="+metric.Value.String())
	}
	return strings.Join(parts, ", ")
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}
