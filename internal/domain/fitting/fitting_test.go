package fitting_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/pulsecal/internal/domain/fitting"
	"github.com/okian/pulsecal/internal/domain/levmar"
	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/internal/domain/pulse"
	"github.com/smartystreets/goconvey/convey"
)

func syntheticWaveform(id int, truth pulse.Params) model.Waveform {
	t := make([]float64, 201)
	for i := range t {
		t[i] = float64(i) * 5e-9
	}
	return model.Waveform{ID: id, Time: t, Voltage: pulse.EvalAll(nil, t, truth)}
}

func identitySolution(params []float64) fitting.Solution {
	n := len(params)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, float64(i+1)*float64(i+1))
	}
	return fitting.Solution{Params: params, Covariance: cov, ChiSquared: 0.5, Iterations: 3}
}

func TestWaveformFitter(t *testing.T) {
	convey.Convey("Given a waveform fitter backed by Levenberg-Marquardt", t, func() {
		fitter := fitting.NewWaveformFitter(levmar.New())
		ctx := context.Background()

		convey.Convey("When fitting a noiseless synthetic pulse", func() {
			truth := pulse.Params{Mu: 1.2e-7, Std: 0.9e-7, A: 0.5, C: 0.95}
			res, err := fitter.Fit(ctx, syntheticWaveform(7, truth))

			convey.Convey("Then the parameters should be recovered", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.ID, convey.ShouldEqual, 7)
				convey.So(res.Mu, convey.ShouldAlmostEqual, truth.Mu, 1e-13)
				convey.So(res.Std, convey.ShouldAlmostEqual, truth.Std, 1e-13)
				convey.So(res.A, convey.ShouldAlmostEqual, truth.A, 1e-6)
				convey.So(res.C, convey.ShouldAlmostEqual, truth.C, 1e-6)
			})

			convey.Convey("Then the standard errors should be near zero and non-negative", func() {
				convey.So(err, convey.ShouldBeNil)
				for _, e := range res.Errors() {
					convey.So(e, convey.ShouldBeGreaterThanOrEqualTo, 0)
					convey.So(e, convey.ShouldBeLessThan, 1e-6)
				}
			})
		})

		convey.Convey("When the capture is flat", func() {
			for _, level := range []float64{1, 0, 0.7, -0.3, 1.0000001, 2.5} {
				convey.Convey(fmt.Sprintf("Then the fit at %g V should not converge", level), func() {
					wf := syntheticWaveform(3, pulse.Params{Mu: 1e-7, Std: 1e-7, A: 0, C: level})
					_, err := fitter.Fit(ctx, wf)
					convey.So(errors.Is(err, model.ErrFitDidNotConverge), convey.ShouldBeTrue)
					convey.So(err.Error(), convey.ShouldContainSubstring, "waveform 3")
				})
			}
		})

		convey.Convey("When the pulse is small against its baseline", func() {
			truth := pulse.Params{Mu: 1.2e-7, Std: 0.9e-7, A: 0.01, C: 0.95}
			res, err := fitter.Fit(ctx, syntheticWaveform(4, truth))

			convey.Convey("Then it should still be fitted", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.A, convey.ShouldAlmostEqual, truth.A, 1e-9)
				convey.So(res.Std, convey.ShouldAlmostEqual, truth.Std, 1e-12)
			})
		})
	})

	convey.Convey("Given a waveform fitter with a stub solver", t, func() {
		calls := 0
		var got fitting.Problem
		solveErr := errors.New("boom")
		var result fitting.Solution
		stub := fitting.SolverFunc(func(_ context.Context, p fitting.Problem) (fitting.Solution, error) {
			calls++
			got = p
			if result.Params == nil {
				return fitting.Solution{}, solveErr
			}
			return result, nil
		})
		fitter := fitting.NewWaveformFitter(stub)
		wf := model.Waveform{ID: 9, Time: []float64{0, 1, 2, 3, 4}, Voltage: []float64{1, 1, 2, 1, 1}}

		convey.Convey("When the capture is empty", func() {
			_, err := fitter.Fit(context.Background(), model.Waveform{ID: 1})

			convey.Convey("Then it should be rejected before solving", func() {
				convey.So(errors.Is(err, model.ErrInvalidParameter), convey.ShouldBeTrue)
				convey.So(calls, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When time and voltage lengths differ", func() {
			_, err := fitter.Fit(context.Background(), model.Waveform{Time: []float64{0, 1, 2, 3}, Voltage: []float64{1, 1, 1}})

			convey.Convey("Then a dimension mismatch should be returned before solving", func() {
				convey.So(errors.Is(err, model.ErrDimensionMismatch), convey.ShouldBeTrue)
				convey.So(calls, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the initial width is zero", func() {
			fitter := fitting.NewWaveformFitter(stub, fitting.WithInitialGuess(pulse.Params{Mu: 1e-7}))
			_, err := fitter.Fit(context.Background(), wf)

			convey.Convey("Then it should be rejected before solving", func() {
				convey.So(errors.Is(err, model.ErrInvalidParameter), convey.ShouldBeTrue)
				convey.So(calls, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the solver fails", func() {
			_, err := fitter.Fit(context.Background(), wf)

			convey.Convey("Then the error should propagate unmodified", func() {
				convey.So(err, convey.ShouldEqual, solveErr)
				convey.So(calls, convey.ShouldEqual, 1)
			})

			convey.Convey("And the default initial guess should be used", func() {
				convey.So(got.Initial, convey.ShouldResemble, []float64{1e-7, 1e-7, 0, 1})
				convey.So(got.Sigma, convey.ShouldBeNil)
				convey.So(got.Label, convey.ShouldEqual, "waveform 9")
				convey.So(got.Scale, convey.ShouldResemble, []float64{4, 4, 2, 2})
			})
		})

		convey.Convey("When the solver returns a negative width", func() {
			result = identitySolution([]float64{2, -3, 0.4, 1})
			res, err := fitter.Fit(context.Background(), wf)

			convey.Convey("Then the width should be reported by magnitude", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Std, convey.ShouldEqual, 3)
				convey.So(res.Errors(), convey.ShouldResemble, []float64{1, 2, 3, 4})
				convey.So(res.ChiSquared, convey.ShouldEqual, 0.5)
				convey.So(res.Iterations, convey.ShouldEqual, 3)
			})
		})
	})
}

func TestLinearFitter(t *testing.T) {
	convey.Convey("Given amplitudes scattered around a known line", t, func() {
		charge := []float64{1, 2, 3, 4}
		scatter := []float64{0.01, -0.01, -0.01, 0.01}
		samples := make([]model.AmplitudeSample, len(charge))
		for i, q := range charge {
			samples[i] = model.AmplitudeSample{Value: 2*q + 1 + scatter[i], Err: 0.01}
		}

		convey.Convey("When fitted with a slope and intercept", func() {
			fitter := fitting.NewLinearFitter(levmar.New(), fitting.WithInitialSlope(1.5))
			out, err := fitter.Fit(context.Background(), charge, samples)

			convey.Convey("Then the slope should be recovered with its standard error", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out.Slope, convey.ShouldAlmostEqual, 2, 1e-6)
				convey.So(out.SlopeErr, convey.ShouldAlmostEqual, math.Sqrt(4e-5), 1e-6)
				convey.So(out.Intercept, convey.ShouldAlmostEqual, 1, 1e-6)
				convey.So(out.ChiSquared, convey.ShouldAlmostEqual, 4, 1e-6)
				convey.So(out.ReducedChiSq, convey.ShouldAlmostEqual, 2, 1e-6)
				convey.So(out.Result(), convey.ShouldResemble, model.LinearFitResult{Slope: out.Slope, SlopeErr: out.SlopeErr})
			})
		})

		convey.Convey("When fitted from the default hardware-gain slope", func() {
			out, err := fitting.NewLinearFitter(levmar.New()).Fit(context.Background(), charge, samples)

			convey.Convey("Then the slope should still be recovered", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(math.Abs(out.Slope-2), convey.ShouldBeLessThan, 3*out.SlopeErr)
			})
		})

		convey.Convey("When an amplitude error is zero", func() {
			samples[2].Err = 0
			_, err := fitting.NewLinearFitter(levmar.New()).Fit(context.Background(), charge, samples)

			convey.Convey("Then an invalid parameter error should be returned", func() {
				convey.So(errors.Is(err, model.ErrInvalidParameter), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When there are fewer samples than charges", func() {
			_, err := fitting.NewLinearFitter(levmar.New()).Fit(context.Background(), charge, samples[:3])

			convey.Convey("Then a dimension mismatch should be returned", func() {
				convey.So(errors.Is(err, model.ErrDimensionMismatch), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When only one point is given", func() {
			_, err := fitting.NewLinearFitter(levmar.New()).Fit(context.Background(), charge[:1], samples[:1])

			convey.Convey("Then the line should be rejected as unconstrained", func() {
				convey.So(errors.Is(err, model.ErrInvalidParameter), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given amplitudes proportional to charge", t, func() {
		charge := []float64{1e-13, 2e-13, 3e-13}
		samples := []model.AmplitudeSample{
			{Value: 0.3, Err: 0.01},
			{Value: 0.6, Err: 0.01},
			{Value: 0.9, Err: 0.01},
		}

		convey.Convey("When fitted through the origin", func() {
			fitter := fitting.NewLinearFitter(levmar.New(), fitting.WithThroughOrigin(true))
			out, err := fitter.Fit(context.Background(), charge, samples)

			convey.Convey("Then only the slope should be fitted", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out.Slope, convey.ShouldAlmostEqual, 3e12, 1e3)
				convey.So(out.Intercept, convey.ShouldEqual, 0)
				convey.So(out.InterceptErr, convey.ShouldEqual, 0)
			})
		})
	})
}

func TestCovariance(t *testing.T) {
	convey.Convey("Given a weighted Jacobian", t, func() {
		jac := mat.NewDense(3, 2, []float64{
			1, 0,
			0, 2,
			0, 0,
		})

		convey.Convey("When the sigmas are absolute", func() {
			cov, err := fitting.Covariance("test", jac, nil, 2, true)

			convey.Convey("Then the covariance should be the inverse normal matrix", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cov.At(0, 0), convey.ShouldAlmostEqual, 1, 1e-12)
				convey.So(cov.At(1, 1), convey.ShouldAlmostEqual, 0.25, 1e-12)
				convey.So(cov.At(0, 1), convey.ShouldAlmostEqual, 0, 1e-12)
			})
		})

		convey.Convey("When the sigmas are relative", func() {
			cov, err := fitting.Covariance("test", jac, nil, 2, false)

			convey.Convey("Then it should be scaled by the reduced chi-squared", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cov.At(0, 0), convey.ShouldAlmostEqual, 2, 1e-12)
				convey.So(cov.At(1, 1), convey.ShouldAlmostEqual, 0.5, 1e-12)
			})
		})

		convey.Convey("When there are no degrees of freedom", func() {
			cov, err := fitting.Covariance("test", mat.NewDense(2, 2, []float64{1, 0, 0, 2}), nil, 1, false)

			convey.Convey("Then the covariance should be infinite", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(math.IsInf(cov.At(0, 0), 1), convey.ShouldBeTrue)
				convey.So(math.IsInf(cov.At(0, 1), 1), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a parameter does not affect the model", func() {
			_, err := fitting.Covariance("test", mat.NewDense(3, 2, []float64{1, 0, 1, 0, 1, 0}), nil, 1, false)

			convey.Convey("Then the covariance should be singular", func() {
				convey.So(errors.Is(err, model.ErrFitDidNotConverge), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a column is negligible against its parameter scale", func() {
			tiny := mat.NewDense(3, 2, []float64{
				1, 1e-12,
				0, -1e-12,
				1, 2e-12,
			})

			convey.Convey("Then Jacobi scaling alone should accept it", func() {
				_, err := fitting.Covariance("test", tiny, nil, 1, false)
				convey.So(err, convey.ShouldBeNil)
			})

			convey.Convey("Then the scaled check should reject it", func() {
				_, err := fitting.Covariance("test", tiny, []float64{1, 1}, 1, false)
				convey.So(errors.Is(err, model.ErrFitDidNotConverge), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "parameter 1")
			})

			convey.Convey("Then a matching parameter scale should keep it", func() {
				_, err := fitting.Covariance("test", tiny, []float64{1, 1e12}, 1, false)
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When two columns are identical", func() {
			_, err := fitting.Covariance("test", mat.NewDense(3, 2, []float64{1, 1, 2, 2, 3, 3}), nil, 1, false)

			convey.Convey("Then the covariance should be singular", func() {
				convey.So(errors.Is(err, model.ErrFitDidNotConverge), convey.ShouldBeTrue)
			})
		})
	})
}
