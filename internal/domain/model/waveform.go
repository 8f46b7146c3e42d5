// Package model contains domain records passed between layers.
package model

import "math"

// Waveform is one oscilloscope capture: paired time and voltage samples.
// Callers treat it as immutable once loaded.
type Waveform struct {
	ID      int       // capture index, e.g. 12 for DS0012.CSV
	Time    []float64 // seconds, strictly increasing
	Voltage []float64 // volts
}

// Len returns the number of samples.
func (w Waveform) Len() int { return len(w.Time) }

// Validate checks the structural invariants of a capture: equal lengths,
// at least minSamples points, finite values and strictly increasing time.
func (w Waveform) Validate(minSamples int) error {
	if len(w.Time) != len(w.Voltage) {
		return Mismatch("waveform voltage samples", len(w.Time), len(w.Voltage))
	}
	if len(w.Time) < minSamples {
		return Invalid("waveform %d has %d samples, need at least %d", w.ID, len(w.Time), minSamples)
	}
	for i := range w.Time {
		if !isFinite(w.Time[i]) || !isFinite(w.Voltage[i]) {
			return Invalid("waveform %d has a non-finite sample at %d", w.ID, i)
		}
		if i > 0 && w.Time[i] <= w.Time[i-1] {
			return Invalid("waveform %d time is not strictly increasing at %d", w.ID, i)
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
