package metrics

import "time"

// Window accumulates timing stats across multiple steps.
type Window struct {
	samples      int
	data         time.Duration
	compute      time.Duration
	steps        int
	lastLoss     float64
	lastAccuracy float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(samples int, dataTime, computeTime time.Duration, loss, accuracy float64) {
	w.samples += samples
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lastLoss = loss
	w.lastAccuracy = accuracy
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.SamplesPerSec = float64(w.samples) / total.Seconds()
		snap.StepsPerSec = float64(w.steps) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss
	snap.LastAccuracy = w.lastAccuracy

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	SamplesPerSec float64
	StepsPerSec   float64
	AvgDataMS     float64
	AvgComputeMS  float64
	LastLoss      float64
	LastAccuracy  float64
}
