package scope

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/okian/pulsecal/internal/domain/model"
)

// WriteCSV writes wf in the export layout read by Parse: headerRows
// metadata lines followed by one "time,voltage" row per sample. Values are
// written with full precision.
func WriteCSV(w io.Writer, wf model.Waveform, headerRows int) error {
	if err := wf.Validate(1); err != nil {
		return err
	}

	meta := [][]string{
		{"Source", "CH1"},
		{"Capture", strconv.Itoa(wf.ID)},
		{"Record Length", strconv.Itoa(wf.Len())},
		{"Sample Interval", formatFloat(sampleInterval(wf))},
		{"Horizontal Units", "s"},
		{"Vertical Units", "V"},
	}

	cw := csv.NewWriter(w)
	for i := 0; i < headerRows; i++ {
		row := []string{"Note", ""}
		if i < len(meta) {
			row = meta[i]
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	row := make([]string, 2)
	for i := range wf.Time {
		row[0] = formatFloat(wf.Time[i])
		row[1] = formatFloat(wf.Voltage[i])
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write sample %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes wf to path, compressing by extension.
func WriteFile(path string, wf model.Waveform, headerRows int) (err error) {
	wc, err := Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := wc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return WriteCSV(wc, wf, headerRows)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func sampleInterval(wf model.Waveform) float64 {
	if wf.Len() < 2 {
		return 0
	}
	return wf.Time[1] - wf.Time[0]
}
