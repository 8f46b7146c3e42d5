package fitting

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/internal/domain/stats"
	"github.com/okian/pulsecal/pkg/logger"
	"github.com/okian/pulsecal/pkg/metrics"
)

// DefaultInitialSlope is the starting slope of the response fit in volts
// per coulomb, close to the gain of the charge amplifier in use.
const DefaultInitialSlope = 1e12

// LinearFit is the outcome of a weighted amplitude vs charge fit.
type LinearFit struct {
	Slope        float64
	SlopeErr     float64
	Intercept    float64
	InterceptErr float64
	ChiSquared   float64
	ReducedChiSq float64
	Iterations   int
}

// Result drops the intercept.
func (l LinearFit) Result() model.LinearFitResult {
	return model.LinearFitResult{Slope: l.Slope, SlopeErr: l.SlopeErr}
}

// LinearFitter fits amplitude = m*charge + b weighted by the amplitude
// errors.
type LinearFitter struct {
	solver        Solver
	initialSlope  float64
	throughOrigin bool
	absoluteSigma bool
	logger        logger.Logger
}

// LinearOption configures a LinearFitter.
type LinearOption func(*LinearFitter)

// WithInitialSlope sets the starting slope.
func WithInitialSlope(m float64) LinearOption {
	return func(f *LinearFitter) {
		if m != 0 && !math.IsNaN(m) && !math.IsInf(m, 0) {
			f.initialSlope = m
		}
	}
}

// WithThroughOrigin fits amplitude = m*charge with no intercept.
func WithThroughOrigin(enabled bool) LinearOption {
	return func(f *LinearFitter) {
		f.throughOrigin = enabled
	}
}

// WithAbsoluteSigma takes the amplitude errors as absolute uncertainties.
func WithAbsoluteSigma(enabled bool) LinearOption {
	return func(f *LinearFitter) {
		f.absoluteSigma = enabled
	}
}

// WithLinearLogger sets the logger used by the fitter.
func WithLinearLogger(l logger.Logger) LinearOption {
	return func(f *LinearFitter) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewLinearFitter creates a fitter backed by solver.
func NewLinearFitter(solver Solver, opts ...LinearOption) *LinearFitter {
	f := &LinearFitter{
		solver:       solver,
		initialSlope: DefaultInitialSlope,
		logger:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ThroughOrigin reports whether the intercept is fixed at zero.
func (f *LinearFitter) ThroughOrigin() bool { return f.throughOrigin }

func evalLine(x float64, p []float64) float64 { return p[0]*x + p[1] }

func gradLine(dst []float64, x float64, _ []float64) {
	dst[0] = x
	dst[1] = 1
}

func evalProportional(x float64, p []float64) float64 { return p[0] * x }

func gradProportional(dst []float64, x float64, _ []float64) { dst[0] = x }

// Fit fits the samples against charge. Every amplitude error must be finite
// and strictly positive.
func (f *LinearFitter) Fit(ctx context.Context, charge []float64, samples []model.AmplitudeSample) (LinearFit, error) {
	if len(samples) != len(charge) {
		metrics.RecordLinearFit(metrics.OutcomeRejected)
		return LinearFit{}, model.Mismatch("amplitude samples vs charges", len(charge), len(samples))
	}

	y := make([]float64, len(samples))
	sigma := make([]float64, len(samples))
	for i, s := range samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) || math.IsNaN(charge[i]) || math.IsInf(charge[i], 0) {
			metrics.RecordLinearFit(metrics.OutcomeRejected)
			return LinearFit{}, model.Invalid("calibration point %d is not finite", i)
		}
		if !(s.Err > 0) || math.IsInf(s.Err, 0) {
			metrics.RecordLinearFit(metrics.OutcomeRejected)
			return LinearFit{}, model.Invalid("amplitude error of point %d is %g, must be finite and > 0", i, s.Err)
		}
		y[i] = s.Value
		sigma[i] = s.Err
	}

	prob := Problem{
		Label:         "amplitude vs charge",
		X:             charge,
		Y:             y,
		Sigma:         sigma,
		Initial:       []float64{f.initialSlope, 0},
		Model:         evalLine,
		Grad:          gradLine,
		AbsoluteSigma: f.absoluteSigma,
	}
	if f.throughOrigin {
		prob.Initial = []float64{f.initialSlope}
		prob.Model = evalProportional
		prob.Grad = gradProportional
	}
	if err := prob.Validate(); err != nil {
		metrics.RecordLinearFit(metrics.OutcomeRejected)
		return LinearFit{}, err
	}

	sol, err := f.solver.Solve(ctx, prob)
	if err != nil {
		metrics.RecordLinearFit(metrics.OutcomeNotConverged)
		return LinearFit{}, fmt.Errorf("calibration slope: %w", err)
	}

	se := sol.StdErrors()
	out := LinearFit{
		Slope:      sol.Params[0],
		SlopeErr:   se[0],
		ChiSquared: sol.ChiSquared,
		Iterations: sol.Iterations,
	}
	if !f.throughOrigin {
		out.Intercept = sol.Params[1]
		out.InterceptErr = se[1]
	}

	fitted := make([]float64, len(charge))
	for i, x := range charge {
		fitted[i] = prob.Model(x, sol.Params)
	}
	red, err := stats.ReducedChiSquared(y, fitted, sigma, len(sol.Params))
	if err != nil {
		metrics.RecordLinearFit(metrics.OutcomeRejected)
		return LinearFit{}, err
	}
	out.ReducedChiSq = red

	metrics.RecordLinearFit(metrics.OutcomeConverged)
	f.logger.Debug(ctx, "calibration slope fitted",
		logger.Float64("slope", out.Slope),
		logger.Float64("slope_err", out.SlopeErr),
		logger.Float64("reduced_chi_squared", out.ReducedChiSq),
	)
	return out, nil
}
