package executor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Gate bounds the number of probes in flight. Each slot is tracked by ID so
// that the executor can report what is running and how long it has been.
type Gate struct {
	capacity  int
	semaphore chan struct{}
	active    map[string]time.Time
	peak      int
	mutex     sync.RWMutex
	closed    bool
}

// NewGate creates a gate with the specified capacity.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}

	return &Gate{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
		active:    make(map[string]time.Time),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context, id string) error {
	g.mutex.RLock()
	closed := g.closed
	g.mutex.RUnlock()
	if closed {
		return fmt.Errorf("gate is closed")
	}

	select {
	case g.semaphore <- struct{}{}:
		g.mutex.Lock()
		g.active[id] = time.Now()
		if len(g.active) > g.peak {
			g.peak = len(g.active)
		}
		g.mutex.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot held by id. Unknown IDs are ignored.
func (g *Gate) Release(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, exists := g.active[id]; exists {
		delete(g.active, id)
		select {
		case <-g.semaphore:
		default:
		}
	}
}

// Active returns the number of held slots.
func (g *Gate) Active() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.active)
}

// Available returns the number of free slots.
func (g *Gate) Available() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.capacity - len(g.active)
}

// Peak returns the highest number of slots ever held at once.
func (g *Gate) Peak() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.peak
}

// Oldest returns the ID and age of the longest-held slot.
func (g *Gate) Oldest() (string, time.Duration) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var (
		oldestID string
		oldestAt time.Time
	)
	for id, at := range g.active {
		if oldestID == "" || at.Before(oldestAt) {
			oldestID, oldestAt = id, at
		}
	}
	if oldestID == "" {
		return "", 0
	}
	return oldestID, time.Since(oldestAt)
}

// Close rejects further acquisitions and drops all held slots.
func (g *Gate) Close() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.active = make(map[string]time.Time)

	for {
		select {
		case <-g.semaphore:
		default:
			return nil
		}
	}
}

// Stats returns a snapshot for status output.
func (g *Gate) Stats() map[string]interface{} {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	return map[string]interface{}{
		"capacity":        g.capacity,
		"active":          len(g.active),
		"available_slots": g.capacity - len(g.active),
		"peak":            g.peak,
		"closed":          g.closed,
	}
}
