// Package units converts between the electrical quantities of a charge
// injection sweep.
package units

// Default physical constants.
const (
	DefaultCapacitance      = 1e-12       // F, injection capacitor
	DefaultElementaryCharge = 1.60218e-19 // C
	millivoltsPerVolt       = 1e3
)

// Constants are the physical values a Converter is built with.
type Constants struct {
	Capacitance      float64 // farads
	ElementaryCharge float64 // coulombs
}

// DefaultConstants returns the nominal apparatus constants.
func DefaultConstants() Constants {
	return Constants{
		Capacitance:      DefaultCapacitance,
		ElementaryCharge: DefaultElementaryCharge,
	}
}

// Converter performs unit conversions with injected constants.
type Converter struct {
	c Constants
}

// NewConverter creates a Converter. Zero fields fall back to the defaults.
func NewConverter(c Constants) Converter {
	if c.Capacitance == 0 {
		c.Capacitance = DefaultCapacitance
	}
	if c.ElementaryCharge == 0 {
		c.ElementaryCharge = DefaultElementaryCharge
	}
	return Converter{c: c}
}

// Constants returns the constants the converter was built with.
func (cv Converter) Constants() Constants { return cv.c }

// VoltageToCharge converts a voltage step (V) across the injection
// capacitor into a charge (C).
func (cv Converter) VoltageToCharge(volts float64) float64 {
	return volts * cv.c.Capacitance
}

// MillivoltsToCharge is VoltageToCharge for a step given in millivolts.
func (cv Converter) MillivoltsToCharge(millivolts float64) float64 {
	return cv.VoltageToCharge(millivolts / millivoltsPerVolt)
}

// ChargeToElectronCount converts a charge (C) into a number of electrons.
// The result is not rounded.
func (cv Converter) ChargeToElectronCount(charge float64) float64 {
	return charge / cv.c.ElementaryCharge
}
