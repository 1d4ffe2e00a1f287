package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGate(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		expected int
	}{
		{"positive capacity", 5, 5},
		{"zero capacity defaults to 1", 0, 1},
		{"negative capacity defaults to 1", -3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(tt.capacity)
			assert.Equal(t, tt.expected, g.Available())
			assert.Equal(t, 0, g.Active())
		})
	}
}

func TestGate_AcquireRelease(t *testing.T) {
	g := NewGate(2)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "a"))
	require.NoError(t, g.Acquire(ctx, "b"))
	assert.Equal(t, 2, g.Active())
	assert.Equal(t, 0, g.Available())

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Acquire(blocked, "c"), context.DeadlineExceeded)

	g.Release("a")
	g.Release("unknown")
	assert.Equal(t, 1, g.Active())
	require.NoError(t, g.Acquire(ctx, "c"))
	assert.Equal(t, 2, g.Peak())

	id, age := g.Oldest()
	assert.Equal(t, "b", id)
	assert.GreaterOrEqual(t, age, time.Duration(0))
}

func TestGate_PeakUnderContention(t *testing.T) {
	g := NewGate(3)
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := string(rune('a' + id))
			assert.NoError(t, g.Acquire(context.Background(), key))
			time.Sleep(2 * time.Millisecond)
			g.Release(key)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, g.Peak(), 3)
	assert.Equal(t, 0, g.Active())
}

func TestGate_Close(t *testing.T) {
	g := NewGate(1)
	require.NoError(t, g.Acquire(context.Background(), "a"))
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	assert.Error(t, g.Acquire(context.Background(), "b"))
	stats := g.Stats()
	assert.Equal(t, true, stats["closed"])
	assert.Equal(t, 0, stats["active"])
}

func TestBackoff_StrictlyIncreasing(t *testing.T) {
	for _, r := range []float64{0, 0.5, 0.999999} {
		b := Backoff{Base: 10 * time.Millisecond, Multiplier: 2, Rand: func() float64 { return r }}
		prev := time.Duration(0)
		for n := 0; n < 6; n++ {
			d := b.Delay(n)
			assert.Greater(t, d, prev)
			prev = d
		}
	}

	// The worst case is maximal jitter followed by none.
	high := Backoff{Base: 10 * time.Millisecond, Multiplier: 1.2, Rand: func() float64 { return 0.999999 }}
	low := Backoff{Base: 10 * time.Millisecond, Multiplier: 1.2, Rand: func() float64 { return 0 }}
	for n := 0; n < 5; n++ {
		assert.Less(t, high.Delay(n), low.Delay(n+1))
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := Backoff{Rand: func() float64 { return 0 }}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
}
