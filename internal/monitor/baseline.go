package monitor

import (
	"math"
	"sort"
	"sync"
)

// Stats is a running summary of one metric series.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// welford accumulates mean and variance online.
type welford struct {
	count    int
	mean, m2 float64
	min, max float64
}

func (w *welford) add(x float64) {
	w.count++
	if w.count == 1 {
		w.min, w.max = x, x
	} else {
		w.min = math.Min(w.min, x)
		w.max = math.Max(w.max, x)
	}
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (x - w.mean)
}

// stddev is the sample standard deviation.
func (w *welford) stddev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count-1))
}

func (w *welford) stats() Stats {
	return Stats{Count: w.count, Mean: w.mean, StdDev: w.stddev(), Min: w.min, Max: w.max}
}

// Anomaly is a metric value that strayed from its baseline.
type Anomaly struct {
	Series string  `json:"series"`
	Value  float64 `json:"value"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	// Score is the deviation in standard deviations. It is left at zero when
	// the baseline has no spread, since any change is then unbounded.
	Score float64 `json:"score,omitempty"`
}

// Baseline tracks per-series statistics and flags outliers. A series is
// checked against its history before the new value is folded in.
type Baseline struct {
	warmup int
	sigma  float64

	mu     sync.RWMutex
	series map[string]*welford
}

// NewBaseline creates a baseline that stays silent until a series has
// warmup samples and then flags values more than sigma deviations out.
func NewBaseline(warmup int, sigma float64) *Baseline {
	if warmup < 2 {
		warmup = 2
	}
	if sigma <= 0 {
		sigma = 3
	}
	return &Baseline{warmup: warmup, sigma: sigma, series: make(map[string]*welford)}
}

// Observe checks x against the series baseline and then updates it.
func (b *Baseline) Observe(series string, x float64) (Anomaly, bool) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return Anomaly{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.series[series]
	if !ok {
		w = &welford{}
		b.series[series] = w
	}

	var (
		anomaly Anomaly
		flagged bool
	)
	if w.count >= b.warmup {
		sd := w.stddev()
		dev := math.Abs(x - w.mean)
		switch {
		case sd == 0 && dev > 0:
			anomaly, flagged = Anomaly{Series: series, Value: x, Mean: w.mean}, true
		case sd > 0 && dev > b.sigma*sd:
			anomaly, flagged = Anomaly{Series: series, Value: x, Mean: w.mean, StdDev: sd, Score: dev / sd}, true
		}
	}

	w.add(x)
	return anomaly, flagged
}

// Stats returns the current summary of a series.
func (b *Baseline) Stats(series string) (Stats, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	w, ok := b.series[series]
	if !ok {
		return Stats{}, false
	}
	return w.stats(), true
}

// Series lists tracked series names in sorted order.
func (b *Baseline) Series() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.series))
	for name := range b.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
