// Package report persists calibration reports as YAML.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/okian/pulsecal/internal/domain/model"
)

// ErrWriteReport wraps failures to persist a report.
var ErrWriteReport = errors.New("write report")

// Marshal encodes a report as YAML with two-space indentation.
func Marshal(r model.CalibrationReport) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteYAML writes r to path, creating parent directories. The file is
// written to a temporary name first and renamed into place.
func WriteYAML(path string, r model.CalibrationReport) error {
	data, err := Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrWriteReport, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteReport, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteReport, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrWriteReport, err)
	}
	return nil
}

// ReadYAML loads a report written by WriteYAML.
func ReadYAML(path string) (model.CalibrationReport, error) {
	var r model.CalibrationReport
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, nil
}
