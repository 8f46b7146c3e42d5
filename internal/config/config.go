// Package config defines the calibration run configuration and its loading
// hooks.
//
// Conventions:
// - New() returns a Config holding every default.
// - Load layers a YAML file and PULSECAL_* environment variables on top.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/okian/pulsecal/internal/adapters/scope"
	"github.com/okian/pulsecal/internal/domain/fitting"
	"github.com/okian/pulsecal/internal/domain/pulse"
	"github.com/okian/pulsecal/internal/domain/units"
	"github.com/okian/pulsecal/pkg/metrics"
)

// InitialGuess is the starting point of every pulse fit.
type InitialGuess struct {
	Mu        float64 `koanf:"mu"`
	Std       float64 `koanf:"std"`
	Amplitude float64 `koanf:"amplitude"`
	Offset    float64 `koanf:"offset"`
}

// Params returns the guess as pulse parameters.
func (g InitialGuess) Params() pulse.Params {
	return pulse.Params{Mu: g.Mu, Std: g.Std, A: g.Amplitude, C: g.Offset}
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// DataDir holds the oscilloscope exports.
	DataDir string `koanf:"data_dir"`

	// FilePattern is the fmt pattern of capture file names, e.g. "DS%04d.CSV".
	FilePattern string `koanf:"file_pattern"`

	// HeaderRows is the number of metadata lines before the samples.
	HeaderRows int `koanf:"header_rows"`

	// Capacitance of the injection capacitor in farads.
	Capacitance float64 `koanf:"capacitance"`

	// ElementaryCharge in coulombs.
	ElementaryCharge float64 `koanf:"elementary_charge"`

	InitialGuess InitialGuess `koanf:"initial_guess"`

	// InitialSlope seeds the amplitude vs charge fit, in V/C.
	InitialSlope float64 `koanf:"initial_slope"`

	// ThroughOrigin drops the intercept from the amplitude vs charge fit.
	ThroughOrigin bool `koanf:"through_origin"`

	// AbsoluteSigma keeps the covariance unscaled by the reduced chi-squared.
	AbsoluteSigma bool `koanf:"absolute_sigma"`

	// Solver limits. Zero keeps the solver default.
	MaxIterations int     `koanf:"max_iterations"`
	StepTolerance float64 `koanf:"step_tolerance"`
	CostTolerance float64 `koanf:"cost_tolerance"`

	// WorkerCount sets the number of concurrent fits; 1 fits sequentially.
	WorkerCount int `koanf:"worker_count"`

	// Plot renders one PNG per fitted capture into FiguresDir.
	Plot       bool   `koanf:"plot"`
	FiguresDir string `koanf:"figures_dir"`

	// ReportPath, when set, receives the YAML calibration report.
	ReportPath string `koanf:"report_path"`

	// MetricsFile, when set, receives the Prometheus textfile export.
	MetricsFile string `koanf:"metrics_file"`

	// Metric naming. Empty values keep the pulsecal_calibration_ names.
	MetricsEnabled   bool              `koanf:"metrics_enabled"`
	MetricsNamespace string            `koanf:"metrics_namespace"`
	MetricsSubsystem string            `koanf:"metrics_subsystem"`
	MetricsPrefix    string            `koanf:"metrics_prefix"`
	MetricsBuckets   []float64         `koanf:"metrics_buckets"`
	MetricsLabels    map[string]string `koanf:"metrics_labels"`

	// RangeLo and RangeHi bound the capture indices of the sweep, inclusive.
	RangeLo int `koanf:"range_lo"`
	RangeHi int `koanf:"range_hi"`

	// VoltagesMV are the injected voltages, one per capture of the range.
	VoltagesMV []float64 `koanf:"voltages_mv"`
}

// New creates a Config holding the defaults.
func New() *Config {
	guess := fitting.DefaultInitialGuess
	consts := units.DefaultConstants()
	return &Config{
		LogLevel:         "info",
		DataDir:          ".",
		FilePattern:      scope.DefaultPattern,
		HeaderRows:       scope.DefaultHeaderRows,
		Capacitance:      consts.Capacitance,
		ElementaryCharge: consts.ElementaryCharge,
		InitialGuess: InitialGuess{
			Mu:        guess.Mu,
			Std:       guess.Std,
			Amplitude: guess.A,
			Offset:    guess.C,
		},
		InitialSlope:   fitting.DefaultInitialSlope,
		WorkerCount:    1,
		FiguresDir:     "figures",
		MetricsEnabled: true,
	}
}

// Constants returns the physical constants of the run.
func (c *Config) Constants() units.Constants {
	return units.Constants{Capacitance: c.Capacitance, ElementaryCharge: c.ElementaryCharge}
}

// MetricsOptions returns the metrics manager options of the run.
func (c *Config) MetricsOptions() []metrics.Option {
	return []metrics.Option{
		metrics.WithMetricsEnabled(c.MetricsEnabled),
		metrics.WithNamespace(c.MetricsNamespace),
		metrics.WithSubsystem(c.MetricsSubsystem),
		metrics.WithMetricPrefix(c.MetricsPrefix),
		metrics.WithHistogramBuckets(c.MetricsBuckets),
		metrics.WithCustomLabels(c.MetricsLabels),
	}
}

// Validate checks the values Load cannot type-check.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return invalid("data_dir must not be empty")
	case c.FilePattern == "":
		return invalid("file_pattern must not be empty")
	case c.HeaderRows < 0:
		return invalid("header_rows must be >= 0, got %d", c.HeaderRows)
	case !(c.Capacitance > 0):
		return invalid("capacitance must be > 0, got %g", c.Capacitance)
	case !(c.ElementaryCharge > 0):
		return invalid("elementary_charge must be > 0, got %g", c.ElementaryCharge)
	case c.InitialGuess.Std == 0:
		return invalid("initial_guess.std must not be zero")
	case math.IsNaN(c.InitialSlope) || math.IsInf(c.InitialSlope, 0):
		return invalid("initial_slope must be finite")
	case c.MaxIterations < 0:
		return invalid("max_iterations must be >= 0, got %d", c.MaxIterations)
	case c.StepTolerance < 0 || c.CostTolerance < 0:
		return invalid("solver tolerances must be >= 0")
	case c.WorkerCount < 0:
		return invalid("worker_count must be >= 0, got %d", c.WorkerCount)
	case c.Plot && c.FiguresDir == "":
		return invalid("figures_dir must be set when plot is enabled")
	case c.RangeLo > c.RangeHi:
		return invalid("range_lo %d is above range_hi %d", c.RangeLo, c.RangeHi)
	}
	for i, g := range c.InitialGuess.Params().Slice() {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return invalid("initial_guess[%d] must be finite", i)
		}
	}
	for i, b := range c.MetricsBuckets {
		if math.IsNaN(b) || (i > 0 && b <= c.MetricsBuckets[i-1]) {
			return invalid("metrics_buckets must be increasing, got %v", c.MetricsBuckets)
		}
	}
	for name := range c.MetricsLabels {
		if !labelName(name) {
			return invalid("metrics_labels key %q is not a valid label name", name)
		}
	}
	if n := c.RangeHi - c.RangeLo + 1; len(c.VoltagesMV) > 0 && len(c.VoltagesMV) != n {
		return invalid("voltages_mv has %d values for %d captures", len(c.VoltagesMV), n)
	}
	return nil
}

// labelName reports whether n is a Prometheus label name outside the
// reserved __ space.
func labelName(n string) bool {
	if n == "" || strings.HasPrefix(n, "__") {
		return false
	}
	for i, r := range n {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
