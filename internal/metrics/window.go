package metrics

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Window accumulates timing and loss across the steps between two log lines.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	losses  []float64
}

// Record adds one training step to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.losses = append(w.losses, loss)
}

// Steps returns the number of steps recorded since the last Snapshot.
func (w *Window) Steps() int {
	return len(w.losses)
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: len(w.losses)}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if snap.Steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(snap.Steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(snap.Steps)
		snap.LastLoss = w.losses[snap.Steps-1]
		snap.MeanLoss = stat.Mean(w.losses, nil)
	}

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.losses = w.losses[:0]
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	LastLoss     float64
	MeanLoss     float64
}
