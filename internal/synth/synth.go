// Package synth generates synthetic calibration sweeps: one noisy pulse
// capture per injected voltage, with the amplitude proportional to the
// injected charge.
package synth

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/okian/pulsecal/internal/adapters/scope"
	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/internal/domain/pulse"
	"github.com/okian/pulsecal/internal/domain/units"
	"github.com/okian/pulsecal/pkg/logger"
)

// Default sweep shape.
const (
	DefaultGain     = 2e12 // V/C
	DefaultMu       = 1.2e-7
	DefaultStd      = 0.9e-7
	DefaultBaseline = 0.95
	DefaultSamples  = 201
	DefaultDuration = 1e-6
	DefaultNoise    = 2e-3
	DefaultSeed     = 1
)

// Config describes a sweep.
type Config struct {
	Dir        string
	Pattern    string // fmt pattern of file names, scope.DefaultPattern when empty
	Extension  string // optional compression suffix, e.g. ".gz"
	HeaderRows int
	FirstID    int

	VoltagesMV []float64
	Constants  units.Constants

	Gain      float64 // amplitude per coulomb of injected charge
	Intercept float64 // amplitude at zero charge
	Mu        float64
	Std       float64
	Baseline  float64
	Samples   int
	Duration  float64
	Noise     float64 // standard deviation of additive gaussian noise, volts
	Seed      uint64
}

// DefaultConfig returns a sweep of five points at the default shape.
func DefaultConfig() Config {
	return Config{
		Pattern:    scope.DefaultPattern,
		HeaderRows: scope.DefaultHeaderRows,
		VoltagesMV: []float64{50, 100, 150, 200, 250},
		Constants:  units.DefaultConstants(),
		Gain:       DefaultGain,
		Mu:         DefaultMu,
		Std:        DefaultStd,
		Baseline:   DefaultBaseline,
		Samples:    DefaultSamples,
		Duration:   DefaultDuration,
		Noise:      DefaultNoise,
		Seed:       DefaultSeed,
	}
}

func (c Config) validate() error {
	switch {
	case len(c.VoltagesMV) == 0:
		return model.Invalid("sweep has no voltages")
	case c.Samples < pulse.NumParams:
		return model.Invalid("sweep needs at least %d samples per capture, got %d", pulse.NumParams, c.Samples)
	case !(c.Duration > 0):
		return model.Invalid("capture duration must be > 0")
	case c.Std == 0:
		return model.Invalid("pulse width must be non-zero")
	case c.Noise < 0:
		return model.Invalid("noise must be >= 0")
	}
	return nil
}

// Amplitude returns the pulse amplitude generated for an injected voltage.
func (c Config) Amplitude(mv float64) float64 {
	return c.Gain*units.NewConverter(c.Constants).MillivoltsToCharge(mv) + c.Intercept
}

// Sweep generates the captures in memory. The same seed yields the same
// samples.
func Sweep(c Config) ([]model.Waveform, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15))

	t := make([]float64, c.Samples)
	dt := c.Duration / float64(c.Samples-1)
	for i := range t {
		t[i] = float64(i) * dt
	}

	out := make([]model.Waveform, len(c.VoltagesMV))
	for k, mv := range c.VoltagesMV {
		p := pulse.Params{Mu: c.Mu, Std: c.Std, A: c.Amplitude(mv), C: c.Baseline}
		v := pulse.EvalAll(nil, t, p)
		if c.Noise > 0 {
			for i := range v {
				v[i] += c.Noise * rng.NormFloat64()
			}
		}
		out[k] = model.Waveform{ID: c.FirstID + k, Time: append([]float64(nil), t...), Voltage: v}
	}
	return out, nil
}

// Write generates the sweep and writes one export per capture into Dir,
// creating it if needed.
// It returns the written paths in capture order.
func Write(ctx context.Context, c Config) ([]string, error) {
	sweep, err := Sweep(c)
	if err != nil {
		return nil, err
	}
	pattern := c.Pattern
	if pattern == "" {
		pattern = scope.DefaultPattern
	}

	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sweep dir: %w", err)
		}
	}

	log := logger.Get().Named("synth")
	paths := make([]string, 0, len(sweep))
	for _, wf := range sweep {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		path := filepath.Join(c.Dir, fmt.Sprintf(pattern, wf.ID)+c.Extension)
		if err := scope.WriteFile(path, wf, c.HeaderRows); err != nil {
			return paths, fmt.Errorf("write capture %d: %w", wf.ID, err)
		}
		paths = append(paths, path)
		log.Debug(ctx, "capture written", logger.Int("id", wf.ID), logger.String("path", path))
	}
	log.Info(ctx, "sweep written", logger.Int("captures", len(paths)), logger.String("dir", c.Dir))
	return paths, nil
}
