package fitting

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/pulsecal/internal/domain/model"
)

// maxCondition bounds the condition number of the scaled normal matrix
// before the covariance is treated as singular.
const maxCondition = 1e15

// minContribution is the smallest share, relative to the largest, a
// parameter may contribute to the model before it counts as unconstrained.
const minContribution = 1.49012e-8

// Covariance returns the parameter covariance (JᵀJ)⁻¹ for the weighted
// m×n Jacobian jac. Unless absoluteSigma is set the result is scaled by
// chi2/(m-n); with m == n the scaled covariance is +Inf everywhere.
//
// scale holds the typical magnitude of every parameter, as returned by
// Problem.ColumnScale. When set, a parameter whose column norm times its
// scale is negligible against the largest such product is unconstrained.
// Nil skips that check.
//
// A singular normal matrix yields an error matching
// model.ErrFitDidNotConverge.
func Covariance(label string, jac mat.Matrix, scale []float64, chi2 float64, absoluteSigma bool) (*mat.SymDense, error) {
	m, n := jac.Dims()

	jtj := mat.NewSymDense(n, nil)
	jtj.SymOuterK(1, jac.T())

	// Jacobi scaling; parameters range from seconds to volts.
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		v := jtj.At(i, i)
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, model.NotConverged(label, "singular covariance: parameter %d is unconstrained", i)
		}
		d[i] = math.Sqrt(v)
	}
	if scale != nil {
		if err := checkContributions(label, d, scale); err != nil {
			return nil, err
		}
	}
	scaled := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			scaled.SetSym(i, j, jtj.At(i, j)/(d[i]*d[j]))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(scaled); !ok {
		return nil, model.NotConverged(label, "singular covariance: normal matrix is not positive definite")
	}
	if c := chol.Cond(); c > maxCondition || math.IsNaN(c) {
		return nil, model.NotConverged(label, "singular covariance: condition number %.3g", c)
	}
	inv := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, model.NotConverged(label, "singular covariance: %v", err)
	}

	factor := 1.0
	if !absoluteSigma {
		if m > n {
			factor = chi2 / float64(m-n)
		} else {
			factor = math.Inf(1)
		}
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if math.IsInf(factor, 1) {
				cov.SetSym(i, j, factor)
				continue
			}
			cov.SetSym(i, j, factor*inv.At(i, j)/(d[i]*d[j]))
		}
	}
	return cov, nil
}

// checkContributions rejects parameters whose effect on the model, column
// norm times typical magnitude, vanishes next to the largest one. The
// Jacobi scaling below hides such columns from the condition number.
func checkContributions(label string, norms, scale []float64) error {
	if len(scale) != len(norms) {
		return model.Mismatch("parameter scales", len(norms), len(scale))
	}
	contrib := make([]float64, len(norms))
	largest := 0.0
	for i, n := range norms {
		contrib[i] = n * scale[i]
		largest = max(largest, contrib[i])
	}
	if !(largest > 0) || math.IsInf(largest, 0) {
		return model.NotConverged(label, "singular covariance: no parameter affects the model")
	}
	for i, c := range contrib {
		if c < minContribution*largest {
			return model.NotConverged(label, "singular covariance: parameter %d is unconstrained (relative contribution %.3g)", i, c/largest)
		}
	}
	return nil
}
