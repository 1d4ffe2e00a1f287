package sink

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/aggregate"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

var started = time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

func sampleRecord(t *testing.T) *aggregate.RunRecord {
	t.Helper()
	target := probe.Target{Input: "10.0.0.1", Address: "10.0.0.1"}
	results := []*probe.Result{
		{
			Spec:   probe.NewSpec(probe.KindPing, target, probe.Options{}),
			Status: probe.Success, Start: started, End: started.Add(3 * time.Second),
			Duration: 3 * time.Second, Attempts: 1,
			Metrics: probe.Metrics{
				{Name: "packet_loss", Value: probe.Float(0)},
				{Name: "avg_latency", Value: probe.Float(1.25)},
			},
		},
		{
			Spec:   probe.NewSpec(probe.KindTraceroute, target, probe.Options{}),
			Status: probe.Success, Start: started, End: started.Add(4 * time.Second),
			Duration: 4 * time.Second, Attempts: 1,
			Metrics:   probe.Metrics{{Name: "hop_count", Value: probe.Int(1)}},
			RawOutput: " 1  10.0.0.1  0.321 ms\n",
		},
		{
			Spec:   probe.NewSpec(probe.KindDNS, target, probe.Options{}),
			Status: probe.Failure, Start: started, End: started.Add(time.Second),
			Duration: time.Second, Attempts: 3,
			Err: errors.New(errors.CodeTransientNetwork, "server failure"),
		},
	}
	rec, err := aggregate.Aggregate(aggregate.Input{Name: "quick_check", Target: "10.0.0.1", Results: results})
	require.NoError(t, err)
	return rec
}

type recordingSink struct {
	got []string
	err error
}

func (s *recordingSink) Write(_ context.Context, rec *aggregate.RunRecord) error {
	s.got = append(s.got, rec.ID)
	return s.err
}

func TestMultiSink(t *testing.T) {
	rec := sampleRecord(t)
	boom := stderrors.New("disk full")
	first, second := &recordingSink{err: boom}, &recordingSink{}

	err := MultiSink{first, nil, second, Discard{}}.Write(context.Background(), rec)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{rec.ID}, first.got)
	assert.Equal(t, []string{rec.ID}, second.got)

	assert.NoError(t, MultiSink{}.Write(context.Background(), rec))
}

func TestEncodeJSON(t *testing.T) {
	rec := sampleRecord(t)

	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, rec))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, rec.ID, decoded["id"])
	assert.Equal(t, "failure", decoded["status"])

	results := decoded["results"].([]any)
	require.Len(t, results, 3)
	first := results[0].(map[string]any)
	assert.Equal(t, "dns:10.0.0.1", first["spec"].(map[string]any)["key"])
	assert.Equal(t, "TRANSIENT_NETWORK", first["error"].(map[string]any)["code"])
	assert.Contains(t, buf.String(), `"packet_loss": 0`)
}
