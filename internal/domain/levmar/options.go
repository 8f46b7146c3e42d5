package levmar

import "github.com/okian/pulsecal/pkg/logger"

// Option configures a Solver.
type Option func(*Solver)

// WithMaxIterations caps the number of Jacobian evaluations. Zero keeps the
// default of 200*(n+1) for n parameters.
func WithMaxIterations(n int) Option {
	return func(s *Solver) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithStepTolerance sets the relative parameter step below which the fit
// is considered converged.
func WithStepTolerance(tol float64) Option {
	return func(s *Solver) {
		if tol > 0 {
			s.xtol = tol
		}
	}
}

// WithCostTolerance sets the relative cost reduction below which the fit
// is considered converged.
func WithCostTolerance(tol float64) Option {
	return func(s *Solver) {
		if tol > 0 {
			s.ftol = tol
		}
	}
}

// WithLogger sets the logger used for per-iteration debug output.
func WithLogger(l logger.Logger) Option {
	return func(s *Solver) {
		if l != nil {
			s.logger = l
		}
	}
}
