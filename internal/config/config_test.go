package config_test

import (
	"errors"
	"testing"

	"github.com/okian/pulsecal/internal/config"
	"github.com/okian/pulsecal/internal/domain/fitting"
	"github.com/okian/pulsecal/internal/domain/units"
	"github.com/okian/pulsecal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			convey.So(cfg.FilePattern, convey.ShouldEqual, "DS%04d.CSV")
			convey.So(cfg.HeaderRows, convey.ShouldEqual, 17)
			convey.So(cfg.Constants(), convey.ShouldResemble, units.DefaultConstants())
			convey.So(cfg.InitialGuess.Params(), convey.ShouldResemble, fitting.DefaultInitialGuess)
			convey.So(cfg.InitialSlope, convey.ShouldEqual, 1e12)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 1)
			convey.So(cfg.Plot, convey.ShouldBeFalse)
			convey.So(cfg.VoltagesMV, convey.ShouldBeEmpty)
			convey.So(cfg.MetricsEnabled, convey.ShouldBeTrue)
		})

		convey.Convey("Then the defaults should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one bad value", t, func() {
		cases := map[string]func(*config.Config){
			"empty data dir":       func(c *config.Config) { c.DataDir = "" },
			"negative header rows": func(c *config.Config) { c.HeaderRows = -1 },
			"zero capacitance":     func(c *config.Config) { c.Capacitance = 0 },
			"zero charge":          func(c *config.Config) { c.ElementaryCharge = 0 },
			"zero width guess":     func(c *config.Config) { c.InitialGuess.Std = 0 },
			"negative workers":     func(c *config.Config) { c.WorkerCount = -2 },
			"plot without dir":     func(c *config.Config) { c.Plot, c.FiguresDir = true, "" },
			"reversed range":       func(c *config.Config) { c.RangeLo, c.RangeHi = 5, 3 },
			"voltage count":        func(c *config.Config) { c.RangeLo, c.RangeHi, c.VoltagesMV = 1, 3, []float64{1, 2} },
			"unsorted buckets":     func(c *config.Config) { c.MetricsBuckets = []float64{1, 10, 5} },
			"repeated bucket":      func(c *config.Config) { c.MetricsBuckets = []float64{1, 1} },
			"bad label name":       func(c *config.Config) { c.MetricsLabels = map[string]string{"bench-id": "2"} },
			"reserved label name":  func(c *config.Config) { c.MetricsLabels = map[string]string{"__name": "2"} },
		}

		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)

			convey.Convey("Then "+name+" should be rejected", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}

func TestConfig_MetricsOptions(t *testing.T) {
	convey.Convey("Given a config naming its metrics", t, func() {
		cfg := config.New()
		cfg.MetricsNamespace = "lab"
		cfg.MetricsSubsystem = "bench"
		cfg.MetricsPrefix = "b2"
		cfg.MetricsBuckets = []float64{1, 10, 100}
		cfg.MetricsLabels = map[string]string{"setup": "cold"}
		convey.So(cfg.Validate(), convey.ShouldBeNil)

		convey.Convey("When a manager is built from its options", func() {
			registry := prometheus.NewRegistry()
			opts := append(cfg.MetricsOptions(), metrics.WithPrometheusRegistry(registry))
			manager := metrics.NewManager(opts...)
			manager.RecordFit(metrics.OutcomeConverged, 3, 4)

			convey.Convey("Then the metrics should carry the configured names and labels", func() {
				families, err := registry.Gather()
				convey.So(err, convey.ShouldBeNil)

				var found bool
				for _, f := range families {
					if f.GetName() != "lab_bench_b2_waveform_fits_total" {
						continue
					}
					found = true
					pairs := f.GetMetric()[0].GetLabel()
					labels := make(map[string]string, len(pairs))
					for _, p := range pairs {
						labels[p.GetName()] = p.GetValue()
					}
					convey.So(labels["setup"], convey.ShouldEqual, "cold")
				}
				convey.So(found, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When metrics are disabled", func() {
			cfg.MetricsEnabled = false
			registry := prometheus.NewRegistry()
			opts := append(cfg.MetricsOptions(), metrics.WithPrometheusRegistry(registry))
			manager := metrics.NewManager(opts...)
			manager.RecordFit(metrics.OutcomeConverged, 3, 4)

			convey.Convey("Then nothing should be counted", func() {
				families, err := registry.Gather()
				convey.So(err, convey.ShouldBeNil)
				for _, f := range families {
					convey.So(f.GetName(), convey.ShouldNotEqual, "lab_bench_b2_waveform_fits_total")
				}
			})
		})
	})
}
