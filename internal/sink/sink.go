// Package sink persists aggregated runs. The file sink writes one directory
// per run; the PostgreSQL sink stores runs and their probe results in two
// tables. Both are safe to call from the monitor loop.
package sink

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"

	"github.com/anstrom/netscope/internal/aggregate"
)

// Sink receives every finished run.
type Sink interface {
	Write(ctx context.Context, record *aggregate.RunRecord) error
}

// MultiSink writes to each sink in order. Every sink is attempted; the
// errors are joined.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(ctx context.Context, record *aggregate.RunRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Discard drops every run.
type Discard struct{}

// Write implements Sink.
func (Discard) Write(context.Context, *aggregate.RunRecord) error { return nil }

// EncodeJSON writes the record as one indented JSON object.
func EncodeJSON(w io.Writer, record *aggregate.RunRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(record)
}
