package model

import "fmt"

// PulseFitResult holds the fitted Gaussian-plus-offset parameters of one
// waveform and their standard errors. It is only produced from a converged
// fit and is not modified afterwards.
type PulseFitResult struct {
	ID int `yaml:"id"`

	Mu  float64 `yaml:"mu"`  // pulse center (s)
	Std float64 `yaml:"std"` // pulse width (s), > 0
	A   float64 `yaml:"amplitude"`
	C   float64 `yaml:"offset"`

	MuErr  float64 `yaml:"mu_err"`
	StdErr float64 `yaml:"std_err"`
	AErr   float64 `yaml:"amplitude_err"`
	CErr   float64 `yaml:"offset_err"`

	ChiSquared float64 `yaml:"residual_sum_squares"`
	Iterations int     `yaml:"iterations"`
}

// Params returns the parameter vector in model order: mu, std, A, c.
func (r PulseFitResult) Params() []float64 {
	return []float64{r.Mu, r.Std, r.A, r.C}
}

// Errors returns the standard errors in the same order as Params.
func (r PulseFitResult) Errors() []float64 {
	return []float64{r.MuErr, r.StdErr, r.AErr, r.CErr}
}

// Amplitude extracts the fitted amplitude and its error.
func (r PulseFitResult) Amplitude() AmplitudeSample {
	return AmplitudeSample{Value: r.A, Err: r.AErr}
}

func (r PulseFitResult) String() string {
	return fmt.Sprintf("PulseFitResult(\nmu: %0.4g +- %.1g\nstd: %0.4g +- %.1g\nA: %0.4g +- %.1g\nc: %0.4g +- %.1g\n)",
		r.Mu, r.MuErr, r.Std, r.StdErr, r.A, r.AErr, r.C, r.CErr)
}

// AmplitudeSample is a fitted amplitude with its standard error.
type AmplitudeSample struct {
	Value float64
	Err   float64
}

// Amplitudes extracts the amplitude samples of a batch, in order.
func Amplitudes(results []PulseFitResult) []AmplitudeSample {
	out := make([]AmplitudeSample, len(results))
	for i, r := range results {
		out[i] = r.Amplitude()
	}
	return out
}

// CalibrationInput pairs known injected voltages with a range of capture
// indices. VoltagesMV[i] belongs to capture Lo+i.
type CalibrationInput struct {
	VoltagesMV []float64
	Lo         int
	Hi         int
}

// Count returns the number of captures in [Lo, Hi].
func (in CalibrationInput) Count() int { return in.Hi - in.Lo + 1 }

// Validate checks the range and the voltage/capture pairing.
func (in CalibrationInput) Validate() error {
	if in.Lo > in.Hi {
		return Invalid("capture range [%d, %d] is empty", in.Lo, in.Hi)
	}
	if len(in.VoltagesMV) != in.Count() {
		return Mismatch("calibration voltages vs capture range", in.Count(), len(in.VoltagesMV))
	}
	return nil
}

// LinearFitResult is the calibration slope and its standard error.
type LinearFitResult struct {
	Slope    float64 `yaml:"slope"`
	SlopeErr float64 `yaml:"slope_err"`
}
