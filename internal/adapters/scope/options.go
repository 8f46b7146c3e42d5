package scope

import "github.com/okian/pulsecal/pkg/logger"

// Option configures a CSVLoader.
type Option func(*CSVLoader)

// WithPattern sets the fmt pattern mapping a capture index to a file name.
func WithPattern(pattern string) Option {
	return func(l *CSVLoader) {
		if pattern != "" {
			l.pattern = pattern
		}
	}
}

// WithHeaderRows sets the number of leading rows to skip.
func WithHeaderRows(n int) Option {
	return func(l *CSVLoader) {
		if n >= 0 {
			l.headerRows = n
		}
	}
}

// WithColumns sets the zero-based time and voltage columns.
func WithColumns(timeCol, voltageCol int) Option {
	return func(l *CSVLoader) {
		if timeCol >= 0 && voltageCol >= 0 && timeCol != voltageCol {
			l.timeCol = timeCol
			l.voltageCol = voltageCol
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(log logger.Logger) Option {
	return func(l *CSVLoader) {
		if log != nil {
			l.logger = log
		}
	}
}
