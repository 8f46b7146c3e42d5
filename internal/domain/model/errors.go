package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for the calibration core. Typed errors below match
// them through errors.Is.
var (
	ErrFitDidNotConverge = errors.New("fit did not converge")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidParameter  = errors.New("invalid parameter")
)

// FitError reports an optimizer that found no stable solution.
type FitError struct {
	Context string // what was being fitted, e.g. "waveform 12"
	Reason  string // why the solver gave up
}

func (e *FitError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("%s: %s", ErrFitDidNotConverge, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrFitDidNotConverge, e.Context, e.Reason)
}

// Is reports whether target is ErrFitDidNotConverge.
func (e *FitError) Is(target error) bool { return target == ErrFitDidNotConverge }

// DimensionMismatchError reports paired sequences of different lengths.
type DimensionMismatchError struct {
	What     string
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: %s: expected %d, got %d", ErrDimensionMismatch, e.What, e.Expected, e.Actual)
}

// Is reports whether target is ErrDimensionMismatch.
func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// InvalidParameterError reports a violated precondition at a call boundary.
type InvalidParameterError struct {
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidParameter, e.Reason)
}

// Is reports whether target is ErrInvalidParameter.
func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// NotConverged builds a FitError.
func NotConverged(context, format string, args ...any) error {
	return &FitError{Context: context, Reason: fmt.Sprintf(format, args...)}
}

// Mismatch builds a DimensionMismatchError.
func Mismatch(what string, expected, actual int) error {
	return &DimensionMismatchError{What: what, Expected: expected, Actual: actual}
}

// Invalid builds an InvalidParameterError.
func Invalid(format string, args ...any) error {
	return &InvalidParameterError{Reason: fmt.Sprintf(format, args...)}
}
