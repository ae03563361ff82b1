// Package recorder is the host-owned sampling task. It reads the governor's
// last computed per-core state at a fixed cadence without refreshing it, keeps per-core deltas of power, core FIT
// and memory FIT in a bounded ring, and flushes full rings as RE_LOG lines.
//
// Everything is fixed at construction; there are no global toggles.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ja7ad/refit/pkg/accumulator"
	"github.com/ja7ad/refit/pkg/governor"
	"github.com/ja7ad/refit/pkg/system/util"
)

const (
	// DefaultInterval samples ten times per second.
	DefaultInterval = 100 * time.Millisecond
	// DefaultLength is the number of samples held per core before a flush.
	DefaultLength = 40
)

// Source provides the last computed per-core state without refreshing it.
// governor.Registry satisfies it.
type Source interface {
	Views() []governor.Snapshot
}

// Observer receives every snapshot the recorder pulls.
type Observer interface {
	Observe(governor.Snapshot)
}

// Options configure a Recorder.
type Options struct {
	Interval time.Duration // 0 = DefaultInterval
	Length   int           // 0 = DefaultLength
	Logging  bool          // emit RE_LOG lines when a ring fills
	Name     string        // tag on every line; default refit-<8 hex>
	Observer Observer
	Logger   *slog.Logger
}

// Entry is one sample of one core.
type Entry struct {
	Seq     int
	At      time.Time
	MHz     uint64
	Power   uint64 // core+memory power since the previous sample
	CoreFIT uint64
	MemFIT  uint64
}

type ring struct {
	last    accumulator.Totals
	entries []Entry
}

// Recorder samples a Source. Sample and Run may be called concurrently
// with the Source's own updates; the Source serializes per core.
type Recorder struct {
	src Source
	o   Options
	log *slog.Logger

	mu      sync.Mutex
	rings   map[int]*ring
	samples uint64
	flushes uint64
}

// New returns a recorder over src.
func New(src Source, o Options) (*Recorder, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrOptions)
	}
	if o.Interval < 0 || o.Length < 0 {
		return nil, fmt.Errorf("%w: interval %s, length %d", ErrOptions, o.Interval, o.Length)
	}
	if o.Interval == 0 {
		o.Interval = DefaultInterval
	}
	if o.Length == 0 {
		o.Length = DefaultLength
	}
	if o.Name == "" {
		o.Name = "refit-" + uuid.NewString()[:8]
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		src:   src,
		o:     o,
		log:   log.With("recorder", o.Name),
		rings: make(map[int]*ring),
	}, nil
}

// Name returns the tag written on every line.
func (r *Recorder) Name() string { return r.o.Name }

// Interval returns the sampling cadence.
func (r *Recorder) Interval() time.Duration { return r.o.Interval }

// Sample pulls one round of snapshots and records a delta entry per core.
// Cores no longer present in the source are dropped with their pending
// entries.
func (r *Recorder) Sample(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snaps := r.src.Views()
	if r.o.Observer != nil {
		for _, s := range snaps {
			r.o.Observer.Observe(s)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int]struct{}, len(snaps))
	for _, s := range snaps {
		seen[s.CPU] = struct{}{}
		rg, ok := r.rings[s.CPU]
		if !ok {
			rg = &ring{entries: make([]Entry, 0, r.o.Length)}
			r.rings[s.CPU] = rg
		}
		rg.entries = append(rg.entries, Entry{
			Seq:     len(rg.entries),
			At:      s.At,
			MHz:     s.Frequency / 1000,
			Power:   util.DeltaU64(s.Totals.Power(), rg.last.Power()),
			CoreFIT: util.DeltaU64(s.Totals.CoreFIT, rg.last.CoreFIT),
			MemFIT:  util.DeltaU64(s.Totals.MemFIT, rg.last.MemFIT),
		})
		rg.last = s.Totals
		if len(rg.entries) >= r.o.Length {
			r.flush(s.CPU, rg)
		}
	}
	for cpu := range r.rings {
		if _, ok := seen[cpu]; !ok {
			delete(r.rings, cpu)
		}
	}
	r.samples++
	return nil
}

// flush writes the ring of cpu and resets it. Called with mu held.
func (r *Recorder) flush(cpu int, rg *ring) {
	if r.o.Logging {
		for _, e := range rg.entries {
			r.log.Info("RE_LOG",
				"cpu", cpu, "seq", e.Seq, "mhz", e.MHz,
				"power", e.Power, "core_fit", e.CoreFIT, "mem_fit", e.MemFIT)
		}
	}
	rg.entries = rg.entries[:0]
	r.flushes++
}

// Flush writes every partially filled ring.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cpu := range slices.Sorted(maps.Keys(r.rings)) {
		if rg := r.rings[cpu]; len(rg.entries) > 0 {
			r.flush(cpu, rg)
		}
	}
}

// Pending returns a copy of the entries buffered for cpu.
func (r *Recorder) Pending(cpu int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	rg, ok := r.rings[cpu]
	if !ok {
		return nil
	}
	return slices.Clone(rg.entries)
}

// Stats reports completed sampling rounds and ring flushes.
func (r *Recorder) Stats() (samples, flushes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples, r.flushes
}

// Run samples every interval until ctx is done, then flushes what is
// buffered.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.o.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return nil
		case <-ticker.C:
			if err := r.Sample(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("sample failed", "err", err)
			}
		}
	}
}
