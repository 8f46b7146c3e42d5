package scope

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// codec maps a file extension to a stream compression format.
type codec struct {
	ext    string
	reader func(io.Reader) (io.ReadCloser, error)
	writer func(io.Writer) (io.WriteCloser, error)
}

var codecs = []codec{ //nolint:gochecknoglobals // static codec table
	{
		ext: ".gz",
		reader: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		},
	},
	{
		ext: ".zst",
		reader: func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		},
	},
	{
		ext: ".lz4",
		reader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		},
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return lz4.NewWriter(w), nil
		},
	},
	{
		ext: ".sz",
		reader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(s2.NewReader(r)), nil
		},
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return s2.NewWriter(w), nil
		},
	},
}

// Extensions lists the compressed file suffixes the loader understands.
func Extensions() []string {
	out := make([]string, len(codecs))
	for i, c := range codecs {
		out[i] = c.ext
	}
	return out
}

func codecFor(path string) (codec, bool) {
	lower := strings.ToLower(path)
	for _, c := range codecs {
		if strings.HasSuffix(lower, c.ext) {
			return c, true
		}
	}
	return codec{}, false
}

// closers closes every element in order and returns the first error.
type closers []io.Closer

func (cs closers) Close() error {
	var first error
	for _, c := range cs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type readCloser struct {
	io.Reader
	closers
}

type writeCloser struct {
	io.Writer
	closers
}

// Open opens path for reading, decompressing it when its extension names a
// known codec.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c, ok := codecFor(path)
	if !ok {
		return f, nil
	}
	r, err := c.reader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return readCloser{Reader: r, closers: closers{r, f}}, nil
}

// Create creates path for writing, compressing it when its extension names
// a known codec. Close flushes the compressor before closing the file.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c, ok := codecFor(path)
	if !ok {
		return f, nil
	}
	w, err := c.writer(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return writeCloser{Writer: w, closers: closers{w, f}}, nil
}
