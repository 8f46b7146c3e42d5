package model

import "time"

// CalibrationReport is the full outcome of one calibration run.
type CalibrationReport struct {
	RunID     string    `yaml:"run_id"`
	CreatedAt time.Time `yaml:"created_at"`

	Result           LinearFitResult `yaml:"result"`
	Intercept        float64         `yaml:"intercept"`
	InterceptErr     float64         `yaml:"intercept_err"`
	ThroughOrigin    bool            `yaml:"through_origin"`
	ReducedChiSq     float64         `yaml:"reduced_chi_squared"`
	VoltsPerElectron float64         `yaml:"volts_per_electron"`

	Capacitance      float64 `yaml:"capacitance"`
	ElementaryCharge float64 `yaml:"elementary_charge"`

	Points []CalibrationPoint `yaml:"points"`
}

// CalibrationPoint is one sweep step: the injected voltage, the charge it
// corresponds to and the pulse fitted on its capture.
type CalibrationPoint struct {
	VoltageMV float64        `yaml:"voltage_mv"`
	Charge    float64        `yaml:"charge"`
	Electrons float64        `yaml:"electrons"`
	Fit       PulseFitResult `yaml:"fit"`
}
