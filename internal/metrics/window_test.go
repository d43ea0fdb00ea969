package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(54, 20*time.Millisecond, 10*time.Millisecond, 1.2)
	w.Record(54, 10*time.Millisecond, 20*time.Millisecond, 0.8)
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-1800) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if snap.Steps != 2 || math.Abs(snap.AvgDataMS-15) > 1e-9 {
		t.Fatalf("unexpected step stats %+v", snap)
	}
	if snap.LastLoss != 0.8 || math.Abs(snap.MeanLoss-1.0) > 1e-9 {
		t.Fatalf("unexpected loss stats last=%.2f mean=%.2f", snap.LastLoss, snap.MeanLoss)
	}
	if w.samples != 0 || w.Steps() != 0 {
		t.Fatalf("window was not reset")
	}
	if empty := w.Snapshot(); empty.Steps != 0 || empty.ImagesPerSec != 0 {
		t.Fatalf("empty window reported %+v", empty)
	}
}
