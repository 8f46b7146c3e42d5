package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/okian/pulsecal/internal/synth"
	"github.com/okian/pulsecal/pkg/logger"
)

const defaultTimeout = time.Minute

func main() {
	def := synth.DefaultConfig()
	var (
		dir       = flag.String("dir", "data", "Directory the captures are written to")
		voltages  = flag.String("voltages", joinFloats(def.VoltagesMV), "Comma-separated injected voltages in mV")
		firstID   = flag.Int("first", 1, "Index of the first capture")
		gain      = flag.Float64("gain", def.Gain, "Pulse amplitude per coulomb of injected charge")
		intercept = flag.Float64("intercept", 0, "Pulse amplitude at zero charge")
		noise     = flag.Float64("noise", def.Noise, "Standard deviation of the added noise in volts")
		samples   = flag.Int("samples", def.Samples, "Samples per capture")
		seed      = flag.Uint64("seed", def.Seed, "Random seed")
		ext       = flag.String("ext", "", "Compression suffix: .gz, .zst, .lz4 or .sz")
		verbose   = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	mv, err := parseFloats(*voltages)
	if err != nil {
		os.Stderr.WriteString("invalid -voltages: " + err.Error() + "\n")
		os.Exit(2)
	}

	cfg := def
	cfg.Dir = *dir
	cfg.VoltagesMV = mv
	cfg.FirstID = *firstID
	cfg.Gain = *gain
	cfg.Intercept = *intercept
	cfg.Noise = *noise
	cfg.Samples = *samples
	cfg.Seed = *seed
	cfg.Extension = *ext

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if _, err := synth.Write(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "sweep generation failed", logger.Error(err))
		os.Exit(1)
	}
	fmt.Printf("range_lo: %d\nrange_hi: %d\nvoltages_mv: [%s]\n", cfg.FirstID, cfg.FirstID+len(mv)-1, joinFloats(mv))
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no voltages")
	}
	return out, nil
}

func joinFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
