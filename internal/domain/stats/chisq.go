// Package stats holds goodness-of-fit statistics.
package stats

import (
	"github.com/okian/pulsecal/internal/domain/model"
)

// ChiSquared returns sum(((data[i]-fit[i])/sigma[i])^2).
// All three slices must have the same length and every sigma must be
// strictly positive.
func ChiSquared(data, fit, sigma []float64) (float64, error) {
	if len(fit) != len(data) {
		return 0, model.Mismatch("model values", len(data), len(fit))
	}
	if len(sigma) != len(data) {
		return 0, model.Mismatch("sigma values", len(data), len(sigma))
	}
	var chi float64
	for i := range data {
		if !(sigma[i] > 0) {
			return 0, model.Invalid("sigma[%d] = %g, must be > 0", i, sigma[i])
		}
		r := (data[i] - fit[i]) / sigma[i]
		chi += r * r
	}
	return chi, nil
}

// ReducedChiSquared divides ChiSquared by len(data)-dof. When len(data) <=
// dof the result is not finite; that is left to the caller.
func ReducedChiSquared(data, fit, sigma []float64, dof int) (float64, error) {
	chi, err := ChiSquared(data, fit, sigma)
	if err != nil {
		return 0, err
	}
	nu := float64(len(data) - dof)
	return chi / nu, nil
}
