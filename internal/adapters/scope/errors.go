package scope

import "errors"

// Loader errors.
var (
	ErrCaptureNotFound  = errors.New("capture not found")
	ErrMalformedCapture = errors.New("malformed capture")
)
