// Package dedupe detects captures whose samples repeat an earlier capture,
// such as a file copied under two sweep indices.
package dedupe

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/pulsecal/internal/domain/model"
)

// Deduper records capture fingerprints.
type Deduper interface {
	// SeenAndRecord atomically checks whether a capture with identical
	// samples was recorded and records wf if not. When seen, firstID is
	// the id of the earlier capture.
	SeenAndRecord(ctx context.Context, wf model.Waveform) (firstID int, seen bool)

	// Size returns the number of fingerprints held.
	Size() int64
}

// Fingerprint hashes the time and voltage samples of wf. The id is not
// part of the fingerprint.
func Fingerprint(wf model.Waveform) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(wf.Time)))
	_, _ = d.Write(buf[:])
	for _, s := range [][]float64{wf.Time, wf.Voltage} {
		for _, v := range s {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			_, _ = d.Write(buf[:])
		}
	}
	return d.Sum64()
}

// inMemoryDeduper keeps fingerprints in a map. In bounded mode the oldest
// fingerprint is evicted first.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[uint64]int // fingerprint -> first capture id
	order   []uint64       // insertion order, bounded mode only
	maxSize int            // 0 or negative = unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 4096,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[uint64]int)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, wf model.Waveform) (int, bool) {
	fp := Fingerprint(wf)

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.seen[fp]; ok {
		return id, true
	}

	if d.maxSize > 0 {
		if len(d.seen) >= d.maxSize {
			d.evictOldest()
		}
		d.order = append(d.order, fp)
	}
	d.seen[fp] = wf.ID
	d.size.Add(1)
	return 0, false
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	if len(d.order) == 0 {
		return
	}
	oldest := d.order[0]
	d.order = d.order[1:]
	delete(d.seen, oldest)
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
