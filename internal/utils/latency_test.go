package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerP95OfHealingCycles(t *testing.T) {
	tracker := NewLatencyTracker(32)
	// Typical cycle durations: mostly quick local dispatches, one slow
	// reasoning-backed cycle.
	for i := 0; i < 19; i++ {
		tracker.Observe(40 * time.Millisecond)
	}
	tracker.Observe(3 * time.Second)

	if tracker.Count() != 20 {
		t.Fatalf("expected 20 cycles in the window, got %d", tracker.Count())
	}
	if p95 := tracker.P95(); p95 != 3*time.Second {
		t.Fatalf("the slow cycle must dominate p95, got %v", p95)
	}
	if p50 := tracker.Percentile(50); p50 != 40*time.Millisecond {
		t.Fatalf("expected median 40ms, got %v", p50)
	}
}

func TestLatencyTrackerEmptyWindow(t *testing.T) {
	tracker := NewLatencyTracker(8)
	if p95 := tracker.P95(); p95 != 0 {
		t.Fatalf("no observed cycles must report zero, got %v", p95)
	}
	if tracker.Count() != 0 {
		t.Fatalf("expected empty window, got %d", tracker.Count())
	}
}

func TestLatencyTrackerWindowEvictsOldestCycles(t *testing.T) {
	tracker := NewLatencyTracker(4)
	for i := 0; i < 4; i++ {
		tracker.Observe(10 * time.Second)
	}
	for i := 0; i < 4; i++ {
		tracker.Observe(50 * time.Millisecond)
	}

	if tracker.Count() != 4 {
		t.Fatalf("window must stay at 4 cycles, got %d", tracker.Count())
	}
	if max := tracker.Percentile(100); max != 50*time.Millisecond {
		t.Fatalf("old slow cycles must be evicted, got max %v", max)
	}
}

func TestLatencyTrackerPercentileBounds(t *testing.T) {
	tracker := NewLatencyTracker(8)
	tracker.Observe(1 * time.Second)
	tracker.Observe(2 * time.Second)
	tracker.Observe(3 * time.Second)

	if min := tracker.Percentile(0); min != 1*time.Second {
		t.Fatalf("expected fastest cycle at p0, got %v", min)
	}
	if max := tracker.Percentile(100); max != 3*time.Second {
		t.Fatalf("expected slowest cycle at p100, got %v", max)
	}
}
