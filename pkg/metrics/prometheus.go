// Package metrics provides Prometheus metrics for the pulse calibration pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fit outcome label values.
const (
	OutcomeConverged    = "converged"
	OutcomeNotConverged = "not_converged"
	OutcomeRejected     = "rejected"
)

// Manager manages all Prometheus metrics for the calibration pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Fitting
	fitsTotal      *prometheus.CounterVec
	fitDuration    prometheus.Histogram
	fitIterations  prometheus.Histogram
	fitChiSquared  prometheus.Histogram
	linearFitTotal *prometheus.CounterVec

	// Loading and rendering
	waveformsLoaded   prometheus.Counter
	loadErrors        prometheus.Counter
	renderErrors      prometheus.Counter
	duplicateCaptures prometheus.Counter

	// Calibration results
	calibrationRuns      *prometheus.CounterVec
	lastSlope            prometheus.Gauge
	lastSlopeErr         prometheus.Gauge
	lastReducedChiSq     prometheus.Gauge
	lastCalibrationUnix  prometheus.Gauge
	lastCalibrationCount prometheus.Gauge

	// Worker pool
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pulsecal",
		subsystem:        "calibration",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.fitsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("waveform_fits_total"),
		Help:        "Total number of waveform pulse fits by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.fitDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("waveform_fit_duration_milliseconds"),
		Help:        "Wall time of a single waveform fit in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.fitIterations = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("solver_iterations"),
		Help:        "Levenberg-Marquardt iterations used per fit",
		Buckets:     []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		ConstLabels: labels,
	})

	m.fitChiSquared = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("waveform_fit_residual_sum_squares"),
		Help:        "Residual sum of squares of converged waveform fits",
		Buckets:     prometheus.ExponentialBuckets(1e-9, 10, 12),
		ConstLabels: labels,
	})

	m.linearFitTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("linear_fits_total"),
		Help:        "Total number of amplitude vs charge fits by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.waveformsLoaded = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("waveforms_loaded_total"),
		Help:        "Total number of waveform captures loaded",
		ConstLabels: labels,
	})

	m.loadErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("waveform_load_errors_total"),
		Help:        "Total number of waveform captures that failed to load",
		ConstLabels: labels,
	})

	m.renderErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("render_errors_total"),
		Help:        "Total number of fit plots that failed to render",
		ConstLabels: labels,
	})

	m.duplicateCaptures = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("duplicate_captures_total"),
		Help:        "Captures whose samples repeat an earlier capture of the same batch",
		ConstLabels: labels,
	})

	m.calibrationRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("runs_total"),
		Help:        "Total number of calibration runs by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.lastSlope = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("last_slope_volts_per_coulomb"),
		Help:        "Slope of the most recent calibration",
		ConstLabels: labels,
	})

	m.lastSlopeErr = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("last_slope_stderr_volts_per_coulomb"),
		Help:        "Standard error of the most recent calibration slope",
		ConstLabels: labels,
	})

	m.lastReducedChiSq = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("last_reduced_chi_squared"),
		Help:        "Reduced chi-squared of the most recent amplitude vs charge fit",
		ConstLabels: labels,
	})

	m.lastCalibrationUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("last_success_unix"),
		Help:        "Unix timestamp of the most recent successful calibration",
		ConstLabels: labels,
	})

	m.lastCalibrationCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("last_point_count"),
		Help:        "Number of sweep points in the most recent calibration",
		ConstLabels: labels,
	})

	m.workerActiveCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_active_count"),
		Help:        "Number of fit workers currently running",
		ConstLabels: labels,
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_job_latency_milliseconds"),
		Help:        "Latency of one load-and-fit job in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_errors_total"),
		Help:        "Total number of failed worker jobs",
		ConstLabels: labels,
	})
}

// RecordFit records the outcome of one waveform fit.
func (m *Manager) RecordFit(outcome string, durationMs float64, iterations int) {
	if !m.enabled {
		return
	}
	m.fitsTotal.WithLabelValues(outcome).Inc()
	m.fitDuration.Observe(durationMs)
	if iterations > 0 {
		m.fitIterations.Observe(float64(iterations))
	}
}

// RecordFit records the outcome of one waveform fit.
func RecordFit(outcome string, durationMs float64, iterations int) {
	globalManager.RecordFit(outcome, durationMs, iterations)
}

// RecordFitResidual records the residual sum of squares of a converged fit.
func RecordFitResidual(chiSquared float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.fitChiSquared.Observe(chiSquared)
}

// RecordLinearFit records the outcome of an amplitude vs charge fit.
func RecordLinearFit(outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.linearFitTotal.WithLabelValues(outcome).Inc()
}

// RecordWaveformLoaded increments the loaded waveform counter.
func RecordWaveformLoaded() {
	if !globalManager.enabled {
		return
	}
	globalManager.waveformsLoaded.Inc()
}

// RecordLoadError increments the load error counter.
func RecordLoadError() {
	if !globalManager.enabled {
		return
	}
	globalManager.loadErrors.Inc()
}

// RecordRenderError increments the render error counter.
func RecordRenderError() {
	if !globalManager.enabled {
		return
	}
	globalManager.renderErrors.Inc()
}

// RecordDuplicateCapture increments the duplicate capture counter.
func RecordDuplicateCapture() {
	if !globalManager.enabled {
		return
	}
	globalManager.duplicateCaptures.Inc()
}

// RecordCalibrationRun increments the calibration run counter.
func RecordCalibrationRun(outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.calibrationRuns.WithLabelValues(outcome).Inc()
}

// UpdateCalibrationResult publishes the most recent calibration result.
func UpdateCalibrationResult(slope, slopeErr, reducedChiSq float64, points int, unix int64) {
	if !globalManager.enabled {
		return
	}
	globalManager.lastSlope.Set(slope)
	globalManager.lastSlopeErr.Set(slopeErr)
	globalManager.lastReducedChiSq.Set(reducedChiSq)
	globalManager.lastCalibrationCount.Set(float64(points))
	globalManager.lastCalibrationUnix.Set(float64(unix))
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker job latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if !globalManager.enabled {
		return
	}
	globalManager.workerErrors.Inc()
}

// Configure replaces the global manager with one built from opts on a fresh
// registry. Values recorded before the call are dropped. Call it before any
// work starts.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	all := make([]Option, 0, len(opts)+1)
	all = append(all, opts...)
	all = append(all, WithPrometheusRegistry(registry))
	globalManager = NewManager(all...)
	customRegistry = registry
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// WriteTextfile writes the current metrics to path in the text exposition
// format, for collection by a node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, customRegistry); err != nil {
		return fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return nil
}
