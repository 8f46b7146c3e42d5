// Package service wires the calibration pipeline: it loads captures, fits
// every pulse, and fits the amplitude vs charge response of a sweep.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/pulsecal/internal/adapters/worker"
	"github.com/okian/pulsecal/internal/domain/dedupe"
	"github.com/okian/pulsecal/internal/domain/fitting"
	"github.com/okian/pulsecal/internal/domain/levmar"
	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/internal/domain/units"
	"github.com/okian/pulsecal/pkg/logger"
	"github.com/okian/pulsecal/pkg/metrics"
)

// Loader reads the capture with the given index.
type Loader interface {
	Load(ctx context.Context, id int) (model.Waveform, error)
}

// Renderer draws a fitted capture. Its failures never fail a batch.
type Renderer interface {
	Render(ctx context.Context, fit model.PulseFitResult, wf model.Waveform) error
}

// WaveformFitter fits the pulse model to one capture.
type WaveformFitter interface {
	Fit(ctx context.Context, wf model.Waveform) (model.PulseFitResult, error)
}

// LinearFitter fits amplitude against charge.
type LinearFitter interface {
	Fit(ctx context.Context, charge []float64, samples []model.AmplitudeSample) (fitting.LinearFit, error)
	ThroughOrigin() bool
}

// Service runs batch fits and calibrations.
type Service struct {
	loader         Loader
	renderer       Renderer
	plot           *bool
	waveformFitter WaveformFitter
	linearFitter   LinearFitter
	converter      units.Converter
	workerCount    int

	now    func() time.Time
	newID  func() string
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithRenderer sets the plotting collaborator. Plotting is on unless
// WithPlotting turns it off.
func WithRenderer(r Renderer) Option {
	return func(s *Service) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithPlotting turns rendering on or off whatever the option order. It has
// no effect without a renderer.
func WithPlotting(enabled bool) Option {
	return func(s *Service) {
		s.plot = &enabled
	}
}

// WithWaveformFitter replaces the per-capture fitter.
func WithWaveformFitter(f WaveformFitter) Option {
	return func(s *Service) {
		if f != nil {
			s.waveformFitter = f
		}
	}
}

// WithLinearFitter replaces the response fitter.
func WithLinearFitter(f LinearFitter) Option {
	return func(s *Service) {
		if f != nil {
			s.linearFitter = f
		}
	}
}

// WithConstants sets the physical constants used to convert voltages.
func WithConstants(c units.Constants) Option {
	return func(s *Service) {
		s.converter = units.NewConverter(c)
	}
}

// WithWorkerCount sets the number of concurrent fits. One or less fits
// sequentially.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		s.workerCount = count
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source of report timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service reading captures through loader.
func New(loader Loader, opts ...Option) *Service {
	solver := levmar.New()
	s := &Service{
		loader:         loader,
		waveformFitter: fitting.NewWaveformFitter(solver),
		linearFitter:   fitting.NewLinearFitter(solver),
		converter:      units.NewConverter(units.DefaultConstants()),
		workerCount:    1,
		now:            time.Now,
		newID:          uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.plot == nil {
		enabled := s.renderer != nil
		s.plot = &enabled
	}
	return s
}

// Constants returns the physical constants in use.
func (s *Service) Constants() units.Constants { return s.converter.Constants() }

// FitRange loads and fits captures lo..hi inclusive and returns the results
// in ascending index order. The first fit failure aborts the batch.
func (s *Service) FitRange(ctx context.Context, lo, hi int) ([]model.PulseFitResult, error) {
	if lo > hi {
		return nil, model.Invalid("capture range [%d, %d] is empty", lo, hi)
	}
	n := hi - lo + 1
	results := make([]model.PulseFitResult, n)
	seen := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))

	job := func(ctx context.Context, i int) error {
		res, err := s.fitOne(ctx, lo+i, seen)
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	}

	start := time.Now()
	var err error
	if s.workerCount > 1 {
		err = worker.NewPool(s.workerCount, worker.WithLogger(s.logger)).Run(ctx, n, job)
	} else {
		for i := 0; i < n && err == nil; i++ {
			if err = ctx.Err(); err == nil {
				err = job(ctx, i)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "batch fitted",
		logger.Int("lo", lo),
		logger.Int("hi", hi),
		logger.Int("workers", max(s.workerCount, 1)),
		logger.Int("distinct_captures", int(seen.Size())),
		logger.String("elapsed", time.Since(start).String()),
	)
	return results, nil
}

func (s *Service) fitOne(ctx context.Context, id int, seen dedupe.Deduper) (model.PulseFitResult, error) {
	wf, err := s.loader.Load(ctx, id)
	if err != nil {
		return model.PulseFitResult{}, fmt.Errorf("load capture %d: %w", id, err)
	}
	wf.ID = id

	if first, dup := seen.SeenAndRecord(ctx, wf); dup {
		metrics.RecordDuplicateCapture()
		s.logger.Warn(ctx, "capture repeats an earlier capture",
			logger.Int("id", id),
			logger.Int("first_id", first),
		)
	}

	res, err := s.waveformFitter.Fit(ctx, wf)
	if err != nil {
		return model.PulseFitResult{}, err
	}

	if *s.plot && s.renderer != nil {
		if rerr := s.renderer.Render(ctx, res, wf); rerr != nil {
			metrics.RecordRenderError()
			s.logger.Warn(ctx, "fit plot failed", logger.Int("id", id), logger.Error(rerr))
		}
	}
	return res, nil
}

// Calibrate fits the response slope of a sweep and returns it with its
// standard error.
func (s *Service) Calibrate(ctx context.Context, in model.CalibrationInput) (model.LinearFitResult, error) {
	rep, err := s.CalibrateReport(ctx, in)
	if err != nil {
		return model.LinearFitResult{}, err
	}
	return rep.Result, nil
}

// CalibrateReport is Calibrate returning the full report. The voltage count
// is checked against the range before any capture is loaded.
func (s *Service) CalibrateReport(ctx context.Context, in model.CalibrationInput) (model.CalibrationReport, error) {
	if err := in.Validate(); err != nil {
		metrics.RecordCalibrationRun(metrics.OutcomeRejected)
		return model.CalibrationReport{}, err
	}

	runID, ok := logger.RunID(ctx)
	if !ok {
		runID = s.newID()
		ctx = logger.WithRunID(ctx, runID)
	}

	charge := make([]float64, len(in.VoltagesMV))
	for i, mv := range in.VoltagesMV {
		charge[i] = s.converter.MillivoltsToCharge(mv)
	}

	results, err := s.FitRange(ctx, in.Lo, in.Hi)
	if err != nil {
		metrics.RecordCalibrationRun(metrics.OutcomeNotConverged)
		return model.CalibrationReport{}, err
	}

	line, err := s.linearFitter.Fit(ctx, charge, model.Amplitudes(results))
	if err != nil {
		metrics.RecordCalibrationRun(metrics.OutcomeNotConverged)
		return model.CalibrationReport{}, err
	}

	consts := s.converter.Constants()
	rep := model.CalibrationReport{
		RunID:            runID,
		CreatedAt:        s.now().UTC(),
		Result:           line.Result(),
		Intercept:        line.Intercept,
		InterceptErr:     line.InterceptErr,
		ThroughOrigin:    s.linearFitter.ThroughOrigin(),
		ReducedChiSq:     line.ReducedChiSq,
		VoltsPerElectron: line.Slope * consts.ElementaryCharge,
		Capacitance:      consts.Capacitance,
		ElementaryCharge: consts.ElementaryCharge,
		Points:           make([]model.CalibrationPoint, len(results)),
	}
	for i, r := range results {
		rep.Points[i] = model.CalibrationPoint{
			VoltageMV: in.VoltagesMV[i],
			Charge:    charge[i],
			Electrons: s.converter.ChargeToElectronCount(charge[i]),
			Fit:       r,
		}
	}

	metrics.RecordCalibrationRun(metrics.OutcomeConverged)
	metrics.UpdateCalibrationResult(rep.Result.Slope, rep.Result.SlopeErr, rep.ReducedChiSq, len(rep.Points), rep.CreatedAt.Unix())
	s.logger.Info(ctx, "calibration complete",
		logger.Float64("slope", rep.Result.Slope),
		logger.Float64("slope_err", rep.Result.SlopeErr),
		logger.Float64("reduced_chi_squared", rep.ReducedChiSq),
		logger.Float64("volts_per_electron", rep.VoltsPerElectron),
	)
	return rep, nil
}
