// Package scope reads and writes oscilloscope CSV exports.
package scope

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/okian/pulsecal/internal/domain/model"
	"github.com/okian/pulsecal/pkg/logger"
	"github.com/okian/pulsecal/pkg/metrics"
)

// Export layout of the bench oscilloscope.
const (
	DefaultPattern    = "DS%04d.CSV"
	DefaultHeaderRows = 17
	DefaultTimeCol    = 0
	DefaultVoltageCol = 1
)

// CSVLoader loads captures named by an integer index from a directory.
type CSVLoader struct {
	dir        string
	pattern    string
	headerRows int
	timeCol    int
	voltageCol int
	logger     logger.Logger
}

// NewCSVLoader creates a loader reading from dir.
func NewCSVLoader(dir string, opts ...Option) *CSVLoader {
	l := &CSVLoader{
		dir:        dir,
		pattern:    DefaultPattern,
		headerRows: DefaultHeaderRows,
		timeCol:    DefaultTimeCol,
		voltageCol: DefaultVoltageCol,
		logger:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the uncompressed file path of capture id.
func (l *CSVLoader) Path(id int) string {
	return filepath.Join(l.dir, fmt.Sprintf(l.pattern, id))
}

// Resolve returns the existing file for capture id, trying the plain name
// first and then every compressed variant.
func (l *CSVLoader) Resolve(id int) (string, error) {
	base := l.Path(id)
	candidates := append([]string{base}, withExtensions(base)...)
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("capture %d: %w", id, err)
		}
	}
	return "", fmt.Errorf("%w: capture %d (%s)", ErrCaptureNotFound, id, base)
}

func withExtensions(base string) []string {
	exts := Extensions()
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = base + e
	}
	return out
}

// Load reads capture id. Every call reads the file again.
func (l *CSVLoader) Load(ctx context.Context, id int) (model.Waveform, error) {
	if err := ctx.Err(); err != nil {
		return model.Waveform{}, err
	}
	path, err := l.Resolve(id)
	if err != nil {
		metrics.RecordLoadError()
		return model.Waveform{}, err
	}

	rc, err := Open(path)
	if err != nil {
		metrics.RecordLoadError()
		return model.Waveform{}, fmt.Errorf("capture %d: %w", id, err)
	}
	defer func() { _ = rc.Close() }()

	t, v, err := Parse(rc, l.headerRows, l.timeCol, l.voltageCol)
	if err != nil {
		metrics.RecordLoadError()
		return model.Waveform{}, fmt.Errorf("capture %d (%s): %w", id, path, err)
	}

	metrics.RecordWaveformLoaded()
	l.logger.Debug(ctx, "capture loaded",
		logger.Int("id", id),
		logger.String("path", path),
		logger.Int("samples", len(t)),
	)
	return model.Waveform{ID: id, Time: t, Voltage: v}, nil
}

// Parse skips headerRows lines, reads the remaining comma-separated rows
// and returns the time and voltage columns.
func Parse(r io.Reader, headerRows, timeCol, voltageCol int) ([]float64, []float64, error) {
	br := bufio.NewReader(r)
	for i := 0; i < headerRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, fmt.Errorf("%w: %d header rows expected, got %d", ErrMalformedCapture, headerRows, i)
			}
			return nil, nil, err
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	need := max(timeCol, voltageCol)

	var t, v []float64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrMalformedCapture, err)
		}
		line, _ := cr.FieldPos(0)
		row := headerRows + line
		if len(rec) <= need {
			return nil, nil, fmt.Errorf("%w: row %d has %d columns, need %d", ErrMalformedCapture, row, len(rec), need+1)
		}
		tv, err := strconv.ParseFloat(strings.TrimSpace(rec[timeCol]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: row %d time: %w", ErrMalformedCapture, row, err)
		}
		vv, err := strconv.ParseFloat(strings.TrimSpace(rec[voltageCol]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: row %d voltage: %w", ErrMalformedCapture, row, err)
		}
		t = append(t, tv)
		v = append(v, vv)
	}
	if len(t) == 0 {
		return nil, nil, fmt.Errorf("%w: no samples after %d header rows", ErrMalformedCapture, headerRows)
	}
	return t, v, nil
}
