// Package pulse implements the Gaussian-plus-offset pulse shape fitted to
// every capture.
package pulse

import "math"

// NumParams is the number of free parameters of the model.
const NumParams = 4

// Parameter positions in a parameter vector.
const (
	IdxMu = iota
	IdxStd
	IdxAmplitude
	IdxOffset
)

// Params are the model parameters. Std must be non-zero.
type Params struct {
	Mu  float64
	Std float64
	A   float64
	C   float64
}

// FromSlice reads params from a vector in model order.
func FromSlice(p []float64) Params {
	return Params{Mu: p[IdxMu], Std: p[IdxStd], A: p[IdxAmplitude], C: p[IdxOffset]}
}

// Slice returns the params as a vector in model order.
func (p Params) Slice() []float64 {
	return []float64{p.Mu, p.Std, p.A, p.C}
}

// Eval returns A*exp(-0.5*((x-mu)/std)^2) + c.
func Eval(x float64, p Params) float64 {
	z := (x - p.Mu) / p.Std
	return p.A*math.Exp(-0.5*z*z) + p.C
}

// EvalAll evaluates the model at every x into dst, allocating when dst is
// too short. It returns the filled slice.
func EvalAll(dst, xs []float64, p Params) []float64 {
	if cap(dst) < len(xs) {
		dst = make([]float64, len(xs))
	}
	dst = dst[:len(xs)]
	for i, x := range xs {
		dst[i] = Eval(x, p)
	}
	return dst
}

// Gradient writes the partial derivatives of the model at x with respect to
// (mu, std, A, c) into dst, which must have length NumParams.
func Gradient(dst []float64, x float64, p Params) {
	z := (x - p.Mu) / p.Std
	g := math.Exp(-0.5 * z * z)
	dst[IdxMu] = p.A * g * z / p.Std
	dst[IdxStd] = p.A * g * z * z / p.Std
	dst[IdxAmplitude] = g
	dst[IdxOffset] = 1
}
