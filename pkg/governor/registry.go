package governor

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ja7ad/refit/pkg/accumulator"
	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/ja7ad/refit/pkg/selector"
)

// Registry owns the managed cores, keyed by core index. Its lock guards
// only the map; each core serializes its own updates, so cores never
// contend with each other.
type Registry struct {
	src Telemetry

	mu    sync.RWMutex
	cores map[int]*Core
}

// NewRegistry returns an empty registry reading telemetry from src.
func NewRegistry(src Telemetry) *Registry {
	return &Registry{src: src, cores: make(map[int]*Core)}
}

// Register builds and adds the core for cpu. On error nothing is added.
func (r *Registry) Register(cpu int, o Options) (*Core, error) {
	r.mu.RLock()
	_, dup := r.cores[cpu]
	r.mu.RUnlock()
	if dup {
		return nil, fmt.Errorf("%w: cpu%d", ErrCoreExists, cpu)
	}

	c, err := NewCore(cpu, r.src, o)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.cores[cpu]; dup {
		return nil, fmt.Errorf("%w: cpu%d", ErrCoreExists, cpu)
	}
	r.cores[cpu] = c
	return c, nil
}

// Retire removes cpu from management.
func (r *Registry) Retire(cpu int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cores[cpu]; !ok {
		return fmt.Errorf("%w: cpu%d", ErrUnknownCore, cpu)
	}
	delete(r.cores, cpu)
	return nil
}

// Core returns the context of cpu.
func (r *Registry) Core(cpu int) (*Core, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cores[cpu]
	if !ok {
		return nil, fmt.Errorf("%w: cpu%d", ErrUnknownCore, cpu)
	}
	return c, nil
}

// CPUs returns the managed core indexes in ascending order.
func (r *Registry) CPUs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.cores))
}

func (r *Registry) list() []*Core {
	cpus := r.CPUs()
	out := make([]*Core, 0, len(cpus))
	for _, cpu := range cpus {
		if c, err := r.Core(cpu); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Update polls every core. Cores whose telemetry fails skip this tick; the
// errors are joined.
func (r *Registry) Update() error {
	var errs []error
	for _, c := range r.list() {
		if err := c.Update(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnFrequencyChange forwards a frequency transition to cpu.
func (r *Registry) OnFrequencyChange(cpu int, freq uint64) error {
	c, err := r.Core(cpu)
	if err != nil {
		return err
	}
	return c.OnFrequencyChange(freq)
}

// QueryPerformanceCap returns the highest permitted state of cpu. ok is
// false when no state is permitted, including for an unknown core.
func (r *Registry) QueryPerformanceCap(cpu int) (p ratetable.PState, ok bool, err error) {
	c, err := r.Core(cpu)
	if err != nil {
		return conservative.PState, false, err
	}
	p, ok = c.PerformanceCap()
	return p, ok, nil
}

// QueryIdleCap returns the deepest permitted idle category of cpu, or the
// shallowest one for an unknown core.
func (r *Registry) QueryIdleCap(cpu int) (ratetable.IdleCategory, error) {
	c, err := r.Core(cpu)
	if err != nil {
		return conservative.Idle, err
	}
	return c.IdleCap(), nil
}

// QueryCaps returns both caps of cpu from a single evaluation.
func (r *Registry) QueryCaps(cpu int) (Caps, error) {
	c, err := r.Core(cpu)
	if err != nil {
		return conservative, err
	}
	return c.Caps(), nil
}

// Totals returns the accumulated totals of cpu.
func (r *Registry) Totals(cpu int) (accumulator.Totals, error) {
	c, err := r.Core(cpu)
	if err != nil {
		return accumulator.Totals{}, err
	}
	return c.Totals(), nil
}

// LocationFactor returns the factor of cpu.
func (r *Registry) LocationFactor(cpu int) (selector.LocationFactor, error) {
	c, err := r.Core(cpu)
	if err != nil {
		return 0, err
	}
	return c.LocationFactor(), nil
}

// SetLocationFactor changes the factor of cpu.
func (r *Registry) SetLocationFactor(cpu int, lf selector.LocationFactor) error {
	c, err := r.Core(cpu)
	if err != nil {
		return err
	}
	return c.SetLocationFactor(lf)
}

// Snapshot returns a refreshed view of cpu.
func (r *Registry) Snapshot(cpu int) (Snapshot, error) {
	c, err := r.Core(cpu)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// Snapshots returns a refreshed view of every core, ordered by index. Each
// core is locked only while its own snapshot is taken.
func (r *Registry) Snapshots() []Snapshot {
	cores := r.list()
	out := make([]Snapshot, 0, len(cores))
	for _, c := range cores {
		out = append(out, c.Snapshot())
	}
	return out
}

// View returns the last computed state of cpu without refreshing it.
func (r *Registry) View(cpu int) (Snapshot, error) {
	c, err := r.Core(cpu)
	if err != nil {
		return Snapshot{}, err
	}
	return c.View(), nil
}

// Views returns the last computed state of every core, ordered by index.
// Nothing is sampled or accumulated.
func (r *Registry) Views() []Snapshot {
	cores := r.list()
	out := make([]Snapshot, 0, len(cores))
	for _, c := range cores {
		out = append(out, c.View())
	}
	return out
}
