package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/okian/pulsecal/internal/adapters/plot"
	"github.com/okian/pulsecal/internal/adapters/report"
	"github.com/okian/pulsecal/internal/adapters/scope"
	app "github.com/okian/pulsecal/internal/app"
	"github.com/okian/pulsecal/internal/config"
	"github.com/okian/pulsecal/internal/domain/fitting"
	"github.com/okian/pulsecal/internal/domain/levmar"
	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/pkg/logger"
	"github.com/okian/pulsecal/pkg/metrics"
)

// Name of the calibration curve written next to the per-capture plots.
const calibrationPlotName = "calibration.png"

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}

	code := 0
	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "calibration failed", logger.Error(err))
		code = 1
	}
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

// run performs one calibration described by cfg.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Configure(cfg.MetricsOptions()...)

	// The metrics file is written whatever the outcome.
	if cfg.MetricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
				log.Warn(ctx, "metrics export failed", logger.String("path", cfg.MetricsFile), logger.Error(err))
			}
		}()
	}

	svc, renderer := newService(cfg, log)
	in := model.CalibrationInput{VoltagesMV: cfg.VoltagesMV, Lo: cfg.RangeLo, Hi: cfg.RangeHi}

	log.Info(ctx, "starting calibration",
		logger.String("data_dir", cfg.DataDir),
		logger.Int("range_lo", cfg.RangeLo),
		logger.Int("range_hi", cfg.RangeHi),
		logger.Int("workers", cfg.WorkerCount),
	)
	rep, err := svc.CalibrateReport(ctx, in)
	if err != nil {
		return err
	}

	log.Info(ctx, "calibration result",
		logger.Float64("slope", rep.Result.Slope),
		logger.Float64("slope_err", rep.Result.SlopeErr),
		logger.Float64("volts_per_electron", rep.VoltsPerElectron),
		logger.String("run_id", rep.RunID),
	)

	if cfg.ReportPath != "" {
		if err := report.WriteYAML(cfg.ReportPath, rep); err != nil {
			return err
		}
		log.Info(ctx, "report written", logger.String("path", cfg.ReportPath))
	}

	if renderer != nil {
		path := filepath.Join(cfg.FiguresDir, calibrationPlotName)
		if err := renderer.RenderCalibration(ctx, rep, path); err != nil {
			metrics.RecordRenderError()
			log.Warn(ctx, "calibration plot failed", logger.String("path", path), logger.Error(err))
		}
	}
	return nil
}

// newService wires the loader, the fitters and the optional renderer from cfg.
func newService(cfg *config.Config, log logger.Logger) (*app.Service, *plot.PNGRenderer) {
	solver := levmar.New(
		levmar.WithMaxIterations(cfg.MaxIterations),
		levmar.WithStepTolerance(cfg.StepTolerance),
		levmar.WithCostTolerance(cfg.CostTolerance),
		levmar.WithLogger(log.Named("levmar")),
	)

	loader := scope.NewCSVLoader(cfg.DataDir,
		scope.WithPattern(cfg.FilePattern),
		scope.WithHeaderRows(cfg.HeaderRows),
		scope.WithLogger(log.Named("scope")),
	)

	opts := []app.Option{
		app.WithLogger(log.Named("service")),
		app.WithConstants(cfg.Constants()),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithWaveformFitter(fitting.NewWaveformFitter(solver,
			fitting.WithInitialGuess(cfg.InitialGuess.Params()),
			fitting.WithWaveformLogger(log.Named("fitting")),
		)),
		app.WithLinearFitter(fitting.NewLinearFitter(solver,
			fitting.WithInitialSlope(cfg.InitialSlope),
			fitting.WithThroughOrigin(cfg.ThroughOrigin),
			fitting.WithAbsoluteSigma(cfg.AbsoluteSigma),
			fitting.WithLinearLogger(log.Named("fitting")),
		)),
	}

	var renderer *plot.PNGRenderer
	if cfg.Plot {
		renderer = plot.NewPNGRenderer(cfg.FiguresDir, plot.WithLogger(log.Named("plot")))
		opts = append(opts, app.WithRenderer(renderer))
	}
	return app.New(loader, opts...), renderer
}
