package stats_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/internal/domain/stats"
	. "github.com/smartystreets/goconvey/convey"
)

func TestChiSquared(t *testing.T) {
	Convey("Given observed data", t, func() {
		data := []float64{1.0, 2.0, 3.0, 4.0}
		sigma := []float64{0.5, 0.5, 1.0, 2.0}

		Convey("When the model equals the data", func() {
			chi, err := stats.ChiSquared(data, data, sigma)

			Convey("Then chi-squared is zero", func() {
				So(err, ShouldBeNil)
				So(chi, ShouldEqual, 0)
			})
		})

		Convey("When the model is offset", func() {
			fit := []float64{1.5, 2.5, 2.0, 6.0}
			chi, err := stats.ChiSquared(data, fit, sigma)

			Convey("Then each residual is scaled by its sigma", func() {
				So(err, ShouldBeNil)
				// 1 + 1 + 1 + 1
				So(chi, ShouldAlmostEqual, 4.0, 1e-12)
			})

			Convey("And the reduced value divides by the degrees of freedom", func() {
				red, err := stats.ReducedChiSquared(data, fit, sigma, 2)
				So(err, ShouldBeNil)
				So(red, ShouldAlmostEqual, 2.0, 1e-12)
			})

			Convey("And no degrees of freedom gives a non-finite value", func() {
				red, err := stats.ReducedChiSquared(data, fit, sigma, 4)
				So(err, ShouldBeNil)
				So(math.IsInf(red, 1), ShouldBeTrue)
			})
		})

		Convey("When a sigma is not positive", func() {
			_, err := stats.ChiSquared(data, data, []float64{1, 0, 1, 1})

			Convey("Then an invalid parameter error is returned", func() {
				So(errors.Is(err, model.ErrInvalidParameter), ShouldBeTrue)
			})
		})

		Convey("When lengths differ", func() {
			_, err := stats.ChiSquared(data, data[:3], sigma)

			Convey("Then a dimension mismatch is returned", func() {
				So(errors.Is(err, model.ErrDimensionMismatch), ShouldBeTrue)
			})
		})
	})
}
