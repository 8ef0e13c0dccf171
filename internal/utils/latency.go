package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of healing cycle durations and
// reports percentiles over it. Once the window fills, new cycles overwrite
// the oldest, so long simulation runs track recent behaviour instead of the
// lifetime mix.
type LatencyTracker struct {
	mu     sync.RWMutex
	window []time.Duration
	next   int
	filled bool
}

// NewLatencyTracker creates a tracker over a window of windowSize cycles.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 256
	}
	return &LatencyTracker{window: make([]time.Duration, windowSize)}
}

// Observe records one completed cycle duration.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.window[l.next] = d
	l.next++
	if l.next == len(l.window) {
		l.next = 0
		l.filled = true
	}
}

// P95 is the percentile the cycle log reports.
func (l *LatencyTracker) P95() time.Duration {
	return l.Percentile(95)
}

// Percentile returns the p-th percentile (0-100) over the current window, or
// zero when no cycle has been observed yet.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.countLocked()
	if n == 0 {
		return 0
	}

	sorted := append([]time.Duration(nil), l.window[:n]...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}
	return sorted[int((p/100.0)*float64(n-1))]
}

// Count reports how many cycles the window currently holds.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.countLocked()
}

func (l *LatencyTracker) countLocked() int {
	if l.filled {
		return len(l.window)
	}
	return l.next
}
