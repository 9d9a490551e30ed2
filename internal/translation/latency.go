package translation

import (
	"sync"
	"time"
)

// LatencyTracker measures per-sentence processing time.
//
// All methods are safe for concurrent use.
type LatencyTracker struct {
	mu     sync.Mutex
	starts map[uint64]time.Time
	now    func() time.Time
}

// NewLatencyTracker returns an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{starts: make(map[uint64]time.Time), now: time.Now}
}

// Start records the start time for id.
func (t *LatencyTracker) Start(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts[id] = t.now()
}

// Elapsed returns the milliseconds since Start(id) without stopping the
// timer, or 0 for an unknown id.
func (t *LatencyTracker) Elapsed(id uint64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.starts[id]
	if !ok {
		return 0
	}
	return ms(t.now().Sub(start))
}

// Stop removes id and returns the milliseconds since Start(id), or 0 for an
// unknown id.
func (t *LatencyTracker) Stop(id uint64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.starts[id]
	if !ok {
		return 0
	}
	delete(t.starts, id)
	return ms(t.now().Sub(start))
}

// Discard removes id without measuring.
func (t *LatencyTracker) Discard(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.starts, id)
}

// Pending returns the number of running timers.
func (t *LatencyTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.starts)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
