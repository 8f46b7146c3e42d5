package fitting

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/internal/domain/pulse"
	"github.com/okian/pulsecal/pkg/logger"
	"github.com/okian/pulsecal/pkg/metrics"
)

// MinSamples is the fewest samples that can constrain the pulse model.
const MinSamples = pulse.NumParams

// DefaultInitialGuess is the starting point of every waveform fit.
var DefaultInitialGuess = pulse.Params{Mu: 1e-7, Std: 1e-7, A: 0, C: 1} //nolint:gochecknoglobals // read-only default

// WaveformFitter fits the pulse model to one capture at a time.
type WaveformFitter struct {
	solver  Solver
	initial pulse.Params
	logger  logger.Logger
}

// WaveformOption configures a WaveformFitter.
type WaveformOption func(*WaveformFitter)

// WithInitialGuess overrides the starting parameters.
func WithInitialGuess(p pulse.Params) WaveformOption {
	return func(f *WaveformFitter) {
		f.initial = p
	}
}

// WithWaveformLogger sets the logger used by the fitter.
func WithWaveformLogger(l logger.Logger) WaveformOption {
	return func(f *WaveformFitter) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewWaveformFitter creates a fitter backed by solver.
func NewWaveformFitter(solver Solver, opts ...WaveformOption) *WaveformFitter {
	f := &WaveformFitter{
		solver:  solver,
		initial: DefaultInitialGuess,
		logger:  logger.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// InitialGuess returns the starting parameters of every fit.
func (f *WaveformFitter) InitialGuess() pulse.Params { return f.initial }

func evalPulse(x float64, p []float64) float64 { return pulse.Eval(x, pulse.FromSlice(p)) }

func gradPulse(dst []float64, x float64, p []float64) { pulse.Gradient(dst, x, pulse.FromSlice(p)) }

// Fit minimizes the unweighted residual sum of squares between the capture
// and the pulse model. Solver failures are returned as they are.
func (f *WaveformFitter) Fit(ctx context.Context, wf model.Waveform) (model.PulseFitResult, error) {
	start := time.Now()

	if err := wf.Validate(MinSamples); err != nil {
		metrics.RecordFit(metrics.OutcomeRejected, msSince(start), 0)
		return model.PulseFitResult{}, fmt.Errorf("waveform %d: %w", wf.ID, err)
	}
	if f.initial.Std == 0 || math.IsNaN(f.initial.Std) {
		metrics.RecordFit(metrics.OutcomeRejected, msSince(start), 0)
		return model.PulseFitResult{}, model.Invalid("waveform %d: initial width must be non-zero", wf.ID)
	}

	sol, err := f.solver.Solve(ctx, Problem{
		Label:   fmt.Sprintf("waveform %d", wf.ID),
		X:       wf.Time,
		Y:       wf.Voltage,
		Initial: f.initial.Slice(),
		Model:   evalPulse,
		Grad:    gradPulse,
		Scale:   f.scale(wf),
	})
	if err != nil {
		metrics.RecordFit(metrics.OutcomeNotConverged, msSince(start), 0)
		f.logger.Warn(ctx, "waveform fit failed", logger.Int("id", wf.ID), logger.Error(err))
		return model.PulseFitResult{}, err
	}

	p := pulse.FromSlice(sol.Params)
	se := sol.StdErrors()
	res := model.PulseFitResult{
		ID:         wf.ID,
		Mu:         p.Mu,
		Std:        math.Abs(p.Std),
		A:          p.A,
		C:          p.C,
		MuErr:      se[pulse.IdxMu],
		StdErr:     se[pulse.IdxStd],
		AErr:       se[pulse.IdxAmplitude],
		CErr:       se[pulse.IdxOffset],
		ChiSquared: sol.ChiSquared,
		Iterations: sol.Iterations,
	}

	metrics.RecordFit(metrics.OutcomeConverged, msSince(start), sol.Iterations)
	metrics.RecordFitResidual(sol.ChiSquared)
	f.logger.Debug(ctx, "waveform fitted",
		logger.Int("id", wf.ID),
		logger.Float64("amplitude", res.A),
		logger.Float64("amplitude_err", res.AErr),
		logger.Int("iterations", res.Iterations),
	)
	return res, nil
}

// scale sizes the pulse parameters from the capture: times by the record
// length and voltages by the largest sample. A flat capture then fails the
// fit instead of reporting the width of a vanished pulse.
func (f *WaveformFitter) scale(wf model.Waveform) []float64 {
	n := wf.Len()
	ts := max(math.Abs(f.initial.Mu), math.Abs(f.initial.Std), wf.Time[n-1]-wf.Time[0])
	vs := max(math.Abs(f.initial.A), math.Abs(f.initial.C))
	for _, v := range wf.Voltage {
		vs = max(vs, math.Abs(v))
	}
	return []float64{ts, ts, vs, vs}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
