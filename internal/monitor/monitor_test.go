package monitor

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/netscope/internal/aggregate"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics/mocks"
	"github.com/anstrom/netscope/internal/probe"
)

func record(seq int, latency float64) *aggregate.RunRecord {
	spec := probe.NewSpec(probe.KindPing, probe.Target{Input: "10.0.0.1", Address: "10.0.0.1"}, probe.Options{})
	now := time.Now()
	rec, _ := aggregate.Aggregate(aggregate.Input{
		Name: "monitor",
		Seq:  seq,
		Results: []*probe.Result{{
			Spec:   spec,
			Status: probe.Success,
			Start:  now,
			End:    now,
			Metrics: probe.Metrics{
				{Name: "avg_latency", Value: probe.Float(latency)},
				{Name: "reachable", Value: probe.Bool(true)},
			},
		}},
	})
	return rec
}

func TestMonitor_TicksAreDriftFree(t *testing.T) {
	const (
		interval  = 60 * time.Millisecond
		runs      = 6
		tolerance = 25 * time.Millisecond
	)

	var (
		mu    sync.Mutex
		fired []time.Time
	)
	batch := func(_ context.Context, seq int) (*aggregate.RunRecord, error) {
		mu.Lock()
		fired = append(fired, time.Now())
		mu.Unlock()
		// Each run eats a chunk of its slot; the next tick must not slide.
		time.Sleep(20 * time.Millisecond)
		return record(seq, 10), nil
	}

	m, err := New(Config{Interval: interval, HistorySize: 10, MaxRuns: runs}, batch, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	start := m.Session().Started
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, runs)
	for k, at := range fired {
		want := start.Add(time.Duration(k) * interval)
		assert.InDelta(t, 0, float64(at.Sub(want)), float64(tolerance), "tick %d off schedule", k)
	}

	history := m.History()
	require.Len(t, history, runs)
	for i, e := range history {
		assert.Equal(t, i, e.Tick)
		assert.Equal(t, i+1, e.Record.Seq)
	}
}

func TestMonitor_OverrunFiresImmediatelyAndSkipsMissedTicks(t *testing.T) {
	const interval = 40 * time.Millisecond

	var (
		inFlight atomic.Int32
		maxSeen  atomic.Int32
		mu       sync.Mutex
		fired    []time.Time
	)
	batch := func(_ context.Context, seq int) (*aggregate.RunRecord, error) {
		n := inFlight.Add(1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		mu.Lock()
		fired = append(fired, time.Now())
		mu.Unlock()
		if seq == 1 {
			time.Sleep(3*interval + interval/2)
		}
		inFlight.Add(-1)
		return record(seq, 10), nil
	}

	m, err := New(Config{Interval: interval, MaxRuns: 3}, batch, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, int32(1), maxSeen.Load())

	history := m.History()
	require.Len(t, history, 3)
	// Run 1 covered ticks 1-3, so run 2 takes tick 3 right away and run 3
	// returns to the grid at tick 4.
	assert.Equal(t, []int{0, 3, 4}, []int{history[0].Tick, history[1].Tick, history[2].Tick})

	start := m.Session().Started
	mu.Lock()
	defer mu.Unlock()
	assert.InDelta(t, 0, float64(fired[1].Sub(start.Add(3*interval+interval/2))), float64(25*time.Millisecond))
	assert.InDelta(t, 0, float64(fired[2].Sub(start.Add(4*interval))), float64(25*time.Millisecond))
}

func TestMonitor_StopCancelsInFlightAndKeepsHistory(t *testing.T) {
	started := make(chan struct{}, 10)
	var canceled atomic.Bool
	batch := func(ctx context.Context, seq int) (*aggregate.RunRecord, error) {
		if seq == 1 {
			return record(seq, 10), nil
		}
		started <- struct{}{}
		<-ctx.Done()
		canceled.Store(true)
		return record(seq, 10), nil
	}

	m, err := New(Config{Interval: 20 * time.Millisecond}, batch, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))

	<-started
	m.Stop()

	assert.True(t, canceled.Load())
	assert.False(t, m.Session().Running)
	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Record.Seq)

	m.Stop()
}

func TestMonitor_FlagsAnomaliesAfterWarmup(t *testing.T) {
	ctrl := gomock.NewController(t)
	recorder := mocks.NewMockRecorder(ctrl)
	recorder.EXPECT().AnomalyDetected("ping:10.0.0.1/avg_latency").Times(1)

	values := []float64{10, 11, 10, 9, 10, 250}
	batch := func(_ context.Context, seq int) (*aggregate.RunRecord, error) {
		return record(seq, values[seq-1]), nil
	}

	var observed []Entry
	m, err := New(Config{Interval: 5 * time.Millisecond, Warmup: 5, Sigma: 3, MaxRuns: len(values)}, batch,
		WithLogger(logging.Discard()),
		WithRecorder(recorder),
		WithObserver(func(e Entry) { observed = append(observed, e) }))
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	require.Len(t, observed, len(values))
	for _, e := range observed[:5] {
		assert.Empty(t, e.Anomalies)
	}
	require.Len(t, observed[5].Anomalies, 1)
	assert.Equal(t, 250.0, observed[5].Anomalies[0].Value)
	assert.InDelta(t, 10.0, observed[5].Anomalies[0].Mean, 1e-9)

	stats, ok := m.Baseline("ping:10.0.0.1/avg_latency")
	require.True(t, ok)
	assert.Equal(t, 6, stats.Count)
	assert.Equal(t, []string{"ping:10.0.0.1/avg_latency"}, m.Series())
}

func TestMonitor_BatchErrorsDoNotStopSession(t *testing.T) {
	batch := func(_ context.Context, seq int) (*aggregate.RunRecord, error) {
		if seq%2 == 0 {
			return nil, aggregate.ErrEmptyRun
		}
		return record(seq, 1), nil
	}
	m, err := New(Config{Interval: 5 * time.Millisecond, MaxRuns: 4}, batch, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))
	assert.Len(t, m.History(), 2)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, func(context.Context, int) (*aggregate.RunRecord, error) { return nil, nil })
	assert.Error(t, err)
	_, err = New(Config{Interval: time.Second}, nil)
	assert.Error(t, err)
}

func TestHistory_EvictsOldestFirst(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 7; i++ {
		h.Add(Entry{Tick: i})
		assert.LessOrEqual(t, h.Len(), 3)
	}
	got := h.Snapshot()
	assert.Equal(t, []int{4, 5, 6}, []int{got[0].Tick, got[1].Tick, got[2].Tick})

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 6, last.Tick)
	assert.Equal(t, 3, h.Cap())

	_, ok = NewHistory(0).Last()
	assert.False(t, ok)
}

func TestBaseline_Welford(t *testing.T) {
	b := NewBaseline(100, 3)
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		_, flagged := b.Observe("s", x)
		assert.False(t, flagged)
	}
	stats, ok := b.Stats("s")
	require.True(t, ok)
	assert.Equal(t, 8, stats.Count)
	assert.InDelta(t, 5.0, stats.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(32.0/7.0), stats.StdDev, 1e-9)
	assert.Equal(t, 2.0, stats.Min)
	assert.Equal(t, 9.0, stats.Max)

	_, ok = b.Stats("missing")
	assert.False(t, ok)
}

func TestBaseline_ZeroSpreadFlagsAnyChange(t *testing.T) {
	b := NewBaseline(2, 3)
	b.Observe("s", 0)
	b.Observe("s", 0)
	_, flagged := b.Observe("s", 0)
	assert.False(t, flagged)

	a, flagged := b.Observe("s", 1)
	assert.True(t, flagged)
	assert.Zero(t, a.Score)
	assert.Zero(t, a.StdDev)

	_, flagged = b.Observe("s", math.NaN())
	assert.False(t, flagged)
}

func TestEntry_ZeroSpreadAnomalyEncodes(t *testing.T) {
	b := NewBaseline(2, 3)
	b.Observe("ping:10.0.0.1/packet_loss", 0)
	b.Observe("ping:10.0.0.1/packet_loss", 0)
	a, flagged := b.Observe("ping:10.0.0.1/packet_loss", 25)
	require.True(t, flagged)

	data, err := json.Marshal(Entry{Tick: 2, Record: record(3, 12), Anomalies: []Anomaly{a}})
	require.NoError(t, err)

	var decoded Entry
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Anomalies, 1)
	assert.Equal(t, "ping:10.0.0.1/packet_loss", decoded.Anomalies[0].Series)
	assert.Equal(t, 25.0, decoded.Anomalies[0].Value)
	assert.NotContains(t, string(data), `"score"`)
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{" 2m ", 2 * time.Minute, false},
		{"@every 45s", 45 * time.Second, false},
		{"@hourly", time.Hour, false},
		{"@daily", 24 * time.Hour, false},
		{"@monthly", 0, true},
		{"0s", 0, true},
		{"-5s", 0, true},
		{"often", 0, true},
		{"@sometimes", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
