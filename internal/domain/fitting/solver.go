// Package fitting fits the pulse model to single captures and the linear
// response model to a calibration sweep. The numerical optimizer is an
// injected Solver so the fitters do not depend on a concrete algorithm.
package fitting

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/pulsecal/internal/domain/model"
)

// ModelFunc evaluates a model at x for the parameter vector p.
type ModelFunc func(x float64, p []float64) float64

// GradFunc writes the partial derivatives of a model at x with respect to
// every parameter into dst.
type GradFunc func(dst []float64, x float64, p []float64)

// Problem is a weighted least-squares problem:
// minimize sum(((Y[i] - Model(X[i], p)) / Sigma[i])^2) over p.
type Problem struct {
	// Label names the problem in errors, e.g. "waveform 12".
	Label string

	X     []float64
	Y     []float64
	Sigma []float64 // nil means unit weights

	Initial []float64
	Model   ModelFunc
	Grad    GradFunc // nil means forward differences

	// Scale is the typical magnitude of every parameter. When set, the
	// solver fails a fit in which some parameter no longer affects the
	// model, such as a pulse width once the amplitude has collapsed to
	// zero. Nil skips the check.
	Scale []float64

	// AbsoluteSigma takes Sigma as absolute uncertainties. Otherwise the
	// covariance is scaled by the reduced chi-squared of the fit.
	AbsoluteSigma bool
}

// Validate checks the problem shape before any numerical work.
func (p Problem) Validate() error {
	if len(p.Y) != len(p.X) {
		return model.Mismatch("y values", len(p.X), len(p.Y))
	}
	if p.Sigma != nil && len(p.Sigma) != len(p.X) {
		return model.Mismatch("sigma values", len(p.X), len(p.Sigma))
	}
	if p.Model == nil {
		return model.Invalid("%s: no model function", p.Label)
	}
	if len(p.Initial) == 0 {
		return model.Invalid("%s: empty initial guess", p.Label)
	}
	if len(p.X) < len(p.Initial) {
		return model.Invalid("%s: %d points cannot constrain %d parameters", p.Label, len(p.X), len(p.Initial))
	}
	for i, s := range p.Sigma {
		if !(s > 0) || math.IsInf(s, 0) {
			return model.Invalid("%s: sigma[%d] = %g, must be finite and > 0", p.Label, i, s)
		}
	}
	for i, v := range p.Initial {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Invalid("%s: initial[%d] is not finite", p.Label, i)
		}
	}
	if p.Scale != nil && len(p.Scale) != len(p.Initial) {
		return model.Mismatch("parameter scales", len(p.Initial), len(p.Scale))
	}
	for i, v := range p.Scale {
		if !(v >= 0) || math.IsInf(v, 0) {
			return model.Invalid("%s: scale[%d] = %g, must be finite and >= 0", p.Label, i, v)
		}
	}
	return nil
}

// ColumnScale returns max(|params[j]|, Scale[j]) for every parameter, or
// nil when the problem has no Scale.
func (p Problem) ColumnScale(params []float64) []float64 {
	if p.Scale == nil {
		return nil
	}
	out := make([]float64, len(params))
	for j, v := range params {
		out[j] = max(math.Abs(v), p.Scale[j])
	}
	return out
}

// Solution is a converged least-squares fit.
type Solution struct {
	Params     []float64
	Covariance *mat.SymDense
	// ChiSquared is the weighted residual sum of squares at Params.
	ChiSquared float64
	Iterations int
}

// StdErrors returns the square roots of the covariance diagonal.
func (s Solution) StdErrors() []float64 {
	n := len(s.Params)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Sqrt(s.Covariance.At(i, i))
	}
	return out
}

// Solver minimizes a Problem. Implementations return an error matching
// model.ErrFitDidNotConverge when no stable solution is found, including
// when the covariance matrix is singular.
type Solver interface {
	Solve(ctx context.Context, p Problem) (Solution, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, p Problem) (Solution, error)

// Solve calls f(ctx, p).
func (f SolverFunc) Solve(ctx context.Context, p Problem) (Solution, error) { return f(ctx, p) }
