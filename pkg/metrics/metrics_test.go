package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given metrics options", t, func() {
		Convey("When creating a manager with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithMetricPrefix("prefix"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options should be applied", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.customLabels["env"], ShouldEqual, "test")
			})

			Convey("And metrics should be registered on the custom registry", func() {
				manager.RecordFit(OutcomeConverged, 1.5, 7)
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_namespace_test_subsystem_prefix_waveform_fits_total")
			})
		})

		Convey("When empty values are passed", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "pulsecal")
				So(manager.subsystem, ShouldEqual, "calibration")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording fit outcomes", func() {
			before := testutil.ToFloat64(globalManager.fitsTotal.WithLabelValues(OutcomeNotConverged))
			RecordFit(OutcomeNotConverged, 2, 0)

			Convey("Then the labelled counter should increase", func() {
				after := testutil.ToFloat64(globalManager.fitsTotal.WithLabelValues(OutcomeNotConverged))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When recording loader and renderer events", func() {
			loaded := testutil.ToFloat64(globalManager.waveformsLoaded)
			renderErrs := testutil.ToFloat64(globalManager.renderErrors)
			dupes := testutil.ToFloat64(globalManager.duplicateCaptures)

			RecordWaveformLoaded()
			RecordRenderError()
			RecordDuplicateCapture()
			RecordLoadError()

			Convey("Then each counter should increase", func() {
				So(testutil.ToFloat64(globalManager.waveformsLoaded)-loaded, ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.renderErrors)-renderErrs, ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.duplicateCaptures)-dupes, ShouldEqual, 1)
			})
		})

		Convey("When publishing a calibration result", func() {
			UpdateCalibrationResult(2.5e12, 1e10, 0.9, 8, 1700000000)

			Convey("Then the gauges should hold the values", func() {
				So(testutil.ToFloat64(globalManager.lastSlope), ShouldEqual, 2.5e12)
				So(testutil.ToFloat64(globalManager.lastSlopeErr), ShouldEqual, 1e10)
				So(testutil.ToFloat64(globalManager.lastReducedChiSq), ShouldEqual, 0.9)
				So(testutil.ToFloat64(globalManager.lastCalibrationCount), ShouldEqual, 8)
			})
		})

		Convey("When recording the remaining metrics", func() {
			Convey("Then nothing should panic", func() {
				So(func() {
					RecordFitResidual(1e-6)
					RecordLinearFit(OutcomeConverged)
					RecordCalibrationRun(OutcomeConverged)
					UpdateWorkerActiveCount(4)
					RecordWorkerProcessingLatency(12)
					RecordWorkerError()
				}, ShouldNotPanic)
			})
		})
	})
}

func TestWriteTextfile(t *testing.T) {
	Convey("Given a metrics textfile path", t, func() {
		path := filepath.Join(t.TempDir(), "pulsecal.prom")
		RecordCalibrationRun(OutcomeConverged)

		Convey("When writing the registry", func() {
			err := WriteTextfile(path)

			Convey("Then the file should contain the exposition text", func() {
				So(err, ShouldBeNil)
				data, readErr := os.ReadFile(path)
				So(readErr, ShouldBeNil)
				So(string(data), ShouldContainSubstring, "pulsecal_calibration_runs_total")
			})
		})

		Convey("When the directory does not exist", func() {
			err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))

			Convey("Then an export error should be returned", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, ErrExportFailed), ShouldBeTrue)
			})
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the metrics package", t, func() {
		Convey("Then the custom registry should be exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}

func TestConfigure(t *testing.T) {
	Convey("Given a reconfigured global manager", t, func() {
		Configure(WithNamespace("lab"), WithMetricPrefix("b2"))
		Reset(func() { Configure() })

		Convey("When a load error is recorded", func() {
			RecordLoadError()

			Convey("Then the exported registry should use the new names", func() {
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)

				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "lab_calibration_b2_waveform_load_errors_total")
				So(testutil.ToFloat64(globalManager.loadErrors), ShouldEqual, 1)
			})
		})

		Convey("When metrics are disabled", func() {
			Configure(WithMetricsEnabled(false))
			RecordWaveformLoaded()

			Convey("Then nothing should be counted", func() {
				So(testutil.ToFloat64(globalManager.waveformsLoaded), ShouldEqual, 0)
			})
		})
	})
}
