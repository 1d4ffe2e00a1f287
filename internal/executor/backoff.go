package executor

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays. The nth retry waits Base*Multiplier^n plus
// a jitter smaller than the gap to the next step, so successive delays are
// strictly increasing.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Delay returns the wait before retry number n (zero-based).
func (b Backoff) Delay(n int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	mult := b.Multiplier
	if mult <= 1 {
		mult = 2
	}
	random := b.Rand
	if random == nil {
		random = rand.Float64
	}

	step := float64(base) * math.Pow(mult, float64(n))
	spread := math.Min(0.5, mult-1)
	return time.Duration(step + step*spread*random())
}
