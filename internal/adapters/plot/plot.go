// Package plot renders fit overlays and calibration curves as PNG files.
package plot

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/internal/domain/pulse"
	"github.com/okian/pulsecal/pkg/logger"
)

const (
	defaultPattern = "DS%04d_fit.png"
	curvePoints    = 500
)

var (
	dataColor = color.RGBA{R: 31, G: 119, B: 180, A: 255} //nolint:gochecknoglobals // palette
	fitColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}  //nolint:gochecknoglobals // palette
)

// PNGRenderer writes one PNG per fitted capture.
type PNGRenderer struct {
	dir     string
	pattern string
	width   vg.Length
	height  vg.Length
	logger  logger.Logger
}

// Option configures a PNGRenderer.
type Option func(*PNGRenderer)

// WithPattern sets the fmt pattern mapping a capture id to a file name.
func WithPattern(pattern string) Option {
	return func(r *PNGRenderer) {
		if pattern != "" {
			r.pattern = pattern
		}
	}
}

// WithSize sets the image size.
func WithSize(width, height vg.Length) Option {
	return func(r *PNGRenderer) {
		if width > 0 && height > 0 {
			r.width = width
			r.height = height
		}
	}
}

// WithLogger sets the renderer logger.
func WithLogger(l logger.Logger) Option {
	return func(r *PNGRenderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewPNGRenderer creates a renderer writing into dir.
func NewPNGRenderer(dir string, opts ...Option) *PNGRenderer {
	r := &PNGRenderer{
		dir:     dir,
		pattern: defaultPattern,
		width:   6 * vg.Inch,
		height:  4 * vg.Inch,
		logger:  logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the image path for capture id.
func (r *PNGRenderer) Path(id int) string {
	return filepath.Join(r.dir, fmt.Sprintf(r.pattern, id))
}

// Render draws the capture and its fitted pulse.
func (r *PNGRenderer) Render(ctx context.Context, fit model.PulseFitResult, wf model.Waveform) error {
	if wf.Len() == 0 {
		return fmt.Errorf("render capture %d: no samples", wf.ID)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Capture %d  A = %.4g ± %.1g V", wf.ID, fit.A, fit.AErr)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Voltage (V)"
	p.Add(plotter.NewGrid())

	data, err := plotter.NewLine(xys(wf.Time, wf.Voltage))
	if err != nil {
		return fmt.Errorf("render capture %d: %w", wf.ID, err)
	}
	data.Color = dataColor

	params := pulse.Params{Mu: fit.Mu, Std: fit.Std, A: fit.A, C: fit.C}
	t0, t1 := wf.Time[0], wf.Time[wf.Len()-1]
	curve := make(plotter.XYs, curvePoints)
	for i := range curve {
		x := t0 + (t1-t0)*float64(i)/float64(curvePoints-1)
		curve[i].X = x
		curve[i].Y = pulse.Eval(x, params)
	}
	fitted, err := plotter.NewLine(curve)
	if err != nil {
		return fmt.Errorf("render capture %d: %w", wf.ID, err)
	}
	fitted.Color = fitColor
	fitted.Width = vg.Points(1.5)

	p.Add(data, fitted)
	p.Legend.Add("data", data)
	p.Legend.Add("fit", fitted)
	p.Legend.Top = true

	path := r.Path(wf.ID)
	if err := save(p, r.width, r.height, path); err != nil {
		return fmt.Errorf("render capture %d: %w", wf.ID, err)
	}
	r.logger.Debug(ctx, "fit plot written", logger.Int("id", wf.ID), logger.String("path", path))
	return nil
}

// errorPoints pairs points with symmetric y error bars.
type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// RenderCalibration draws the fitted amplitudes against charge with their
// error bars and the fitted response line.
func (r *PNGRenderer) RenderCalibration(ctx context.Context, report model.CalibrationReport, path string) error {
	if len(report.Points) == 0 {
		return fmt.Errorf("render calibration: no points")
	}

	pts := make(plotter.XYs, len(report.Points))
	errs := make(plotter.YErrors, len(report.Points))
	minQ, maxQ := report.Points[0].Charge, report.Points[0].Charge
	for i, pt := range report.Points {
		pts[i].X = pt.Charge
		pts[i].Y = pt.Fit.A
		errs[i].Low = pt.Fit.AErr
		errs[i].High = pt.Fit.AErr
		minQ = min(minQ, pt.Charge)
		maxQ = max(maxQ, pt.Charge)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("m = %.4g ± %.2g V/C", report.Result.Slope, report.Result.SlopeErr)
	p.X.Label.Text = "Charge (C)"
	p.Y.Label.Text = "Amplitude (V)"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("render calibration: %w", err)
	}
	scatter.GlyphStyle.Color = dataColor
	bars, err := plotter.NewYErrorBars(errorPoints{XYs: pts, YErrors: errs})
	if err != nil {
		return fmt.Errorf("render calibration: %w", err)
	}
	bars.LineStyle.Color = dataColor

	line := plotter.XYs{
		{X: minQ, Y: report.Result.Slope*minQ + report.Intercept},
		{X: maxQ, Y: report.Result.Slope*maxQ + report.Intercept},
	}
	fitted, err := plotter.NewLine(line)
	if err != nil {
		return fmt.Errorf("render calibration: %w", err)
	}
	fitted.Color = fitColor

	p.Add(bars, scatter, fitted)
	p.Legend.Add("fitted amplitude", scatter)
	p.Legend.Add("linear fit", fitted)
	p.Legend.Top = true
	p.Legend.Left = true

	if err := save(p, r.width, r.height, path); err != nil {
		return fmt.Errorf("render calibration: %w", err)
	}
	r.logger.Debug(ctx, "calibration plot written", logger.String("path", path))
	return nil
}

func xys(x, y []float64) plotter.XYs {
	out := make(plotter.XYs, len(x))
	for i := range x {
		out[i].X = x[i]
		out[i].Y = y[i]
	}
	return out
}

func save(p *plot.Plot, w, h vg.Length, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(w, h, path)
}
