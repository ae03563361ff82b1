package governor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ja7ad/refit/pkg/accumulator"
	"github.com/ja7ad/refit/pkg/budget"
	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/ja7ad/refit/pkg/selector"
)

// Options configure one managed core.
type Options struct {
	Table          *ratetable.Table // required
	Mode           budget.Mode
	CycleLength    time.Duration           // dynamic mode; 0 = budget.DefaultCycleLength
	LocationFactor selector.LocationFactor // 0 = 100
	Tracing        bool                    // log cycle closures, clamps and transitions
	Logger         *slog.Logger
	Clock          func() time.Time
}

// Caps are the advisory limits for one core.
type Caps struct {
	PState      ratetable.PState
	PermitsNone bool // no performance state fits the budget
	Idle        ratetable.IdleCategory
}

// conservative is returned when nothing better is known.
var conservative = Caps{PermitsNone: true, Idle: ratetable.Idle1}

// Snapshot is a consistent point-in-time view of a core.
type Snapshot struct {
	CPU            int
	At             time.Time
	Frequency      uint64 // kHz
	PState         ratetable.PState
	Totals         accumulator.Totals
	LocationFactor selector.LocationFactor
	Mode           budget.Mode
	Rates          budget.Rates // instantaneous budget rates
	Caps           Caps
	Cycles         uint64
	Overruns       uint64
	PeakCycle      budget.Rates
	Skipped        uint64
}

// Core is the per-core context: rate table, accumulator and budget
// controller behind one lock. The lock is held only for the constant-time
// accumulate and recompute section; telemetry is read before taking it.
type Core struct {
	cpu   int
	src   Telemetry
	table *ratetable.Table
	cls   *ratetable.Classifier
	now   func() time.Time
	log   *slog.Logger
	trace bool

	mu      sync.Mutex
	acc     *accumulator.Accumulator
	ctrl    *budget.Controller
	lf      selector.LocationFactor
	rates   budget.Rates
	skipped uint64
}

// NewCore builds the context for cpu. It fails with ratetable.ErrConfig
// when the table is missing or the host reports a frequency or idle
// layout the table cannot describe; no partial state is kept.
func NewCore(cpu int, src Telemetry, o Options) (*Core, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: cpu%d: nil telemetry", ratetable.ErrConfig, cpu)
	}
	if o.Table == nil {
		return nil, fmt.Errorf("%w: cpu%d: missing rate table", ratetable.ErrConfig, cpu)
	}
	lf := o.LocationFactor
	if lf == 0 {
		lf = selector.DefaultLocationFactor
	}
	cycle := o.CycleLength
	if cycle == 0 {
		cycle = budget.DefaultCycleLength
	}
	clock := o.Clock
	if clock == nil {
		clock = time.Now
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}

	n, err := src.IdleStateCount(cpu)
	if err != nil {
		return nil, fmt.Errorf("cpu%d: idle states: %w", cpu, err)
	}
	if n != ratetable.NumIdle {
		return nil, fmt.Errorf("%w: cpu%d: %d idle states, want %d",
			ratetable.ErrConfig, cpu, n, ratetable.NumIdle)
	}

	freqs, err := src.Frequencies(cpu)
	if err != nil {
		return nil, fmt.Errorf("cpu%d: frequencies: %w", cpu, err)
	}
	cls, err := ratetable.NewClassifier(freqs)
	if err != nil {
		return nil, fmt.Errorf("cpu%d: %w", cpu, err)
	}
	cur, err := src.CurrentFrequency(cpu)
	if err != nil {
		return nil, fmt.Errorf("cpu%d: current frequency: %w", cpu, err)
	}
	p, err := cls.Classify(cur)
	if err != nil {
		return nil, fmt.Errorf("%w: cpu%d: current frequency: %w", ratetable.ErrConfig, cpu, err)
	}
	res, err := src.IdleResidency(cpu)
	if err != nil {
		return nil, fmt.Errorf("cpu%d: idle residency: %w", cpu, err)
	}

	now := clock()
	acc, err := accumulator.New(o.Table, p, now, res)
	if err != nil {
		return nil, fmt.Errorf("cpu%d: %w", cpu, err)
	}

	target := budget.TargetRates(o.Table)
	var ctrl *budget.Controller
	switch o.Mode {
	case budget.Static:
		ctrl = budget.NewStatic(target)
	case budget.Dynamic:
		ctrl, err = budget.NewDynamic(target, cycle, now, acc.Totals())
		if err != nil {
			return nil, fmt.Errorf("cpu%d: %w", cpu, err)
		}
	default:
		return nil, fmt.Errorf("%w: cpu%d: mode %s", ratetable.ErrConfig, cpu, o.Mode)
	}

	c := &Core{
		cpu:   cpu,
		src:   src,
		table: o.Table,
		cls:   cls,
		now:   clock,
		log:   log.With("cpu", cpu),
		trace: o.Tracing,
		acc:   acc,
		ctrl:  ctrl,
		lf:    lf,
		rates: target,
	}
	c.log.Debug("core registered",
		"variant", o.Table.Variant, "mode", o.Mode, "pstate", p,
		"target_core", target.Core, "target_mem", target.Mem)
	return c, nil
}

// CPU returns the core index.
func (c *Core) CPU() int { return c.cpu }

// sample reads telemetry outside the lock. A read error means the tick is
// skipped; cached state stays as it is.
func (c *Core) sample() (time.Time, accumulator.Residency, error) {
	r, err := c.src.IdleResidency(c.cpu)
	now := c.now()
	if err != nil {
		c.log.Warn("idle residency unavailable, skipping tick", "err", err)
		return now, accumulator.Residency{}, fmt.Errorf("cpu%d: idle residency: %w", c.cpu, err)
	}
	return now, accumulator.Residency(r), nil
}

// UpdateAt accumulates the interval up to now with the given residency
// counters and advances the budget. It is the entry point for hosts that
// push telemetry.
func (c *Core) UpdateAt(now time.Time, res accumulator.Residency) accumulator.Deltas {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advance(now, res, nil)
}

// Update polls telemetry, accumulates and advances the budget.
func (c *Core) Update() error {
	now, res, err := c.sample()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(now, res, err)
	return err
}

// OnFrequencyChange charges the elapsed interval to the old state and
// switches to the state of freq. An unknown frequency returns
// ratetable.ErrLookup and leaves the core untouched. When residency cannot
// be read the interval is billed to the old state as active time.
func (c *Core) OnFrequencyChange(freq uint64) error {
	p, err := c.cls.Classify(freq)
	if err != nil {
		return fmt.Errorf("cpu%d: %w", c.cpu, err)
	}
	now, res, err := c.sample()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.skipped++
		res = c.acc.Snapshot().Residency
	}
	c.advance(now, res, nil)

	old := c.acc.PState()
	if old == p {
		return nil
	}
	if err := c.acc.SetPState(p); err != nil {
		return fmt.Errorf("cpu%d: %w", c.cpu, err)
	}
	if c.trace {
		c.log.Debug("frequency transition", "from", old, "to", p, "khz", freq)
	}
	return nil
}

// advance accumulates the sampled interval and hands the new totals to the
// controller, which closes the cycle once its end has passed. Called with
// mu held; sampleErr is the result of the preceding sample.
func (c *Core) advance(now time.Time, res accumulator.Residency, sampleErr error) accumulator.Deltas {
	var deltas accumulator.Deltas
	if sampleErr == nil {
		deltas = c.acc.Update(now, res)
	} else {
		c.skipped++
	}

	d := c.ctrl.Evaluate(now, c.acc.Totals())
	c.rates = d.Rates
	if c.trace {
		if d.Cycle != nil {
			r := d.Cycle
			c.log.Info("budget cycle closed",
				"consumed_core", r.Consumed.Core, "consumed_mem", r.Consumed.Mem,
				"allotted_core", r.Allotted.Core, "allotted_mem", r.Allotted.Mem,
				"overrun_core", r.Overrun.Core, "overrun_mem", r.Overrun.Mem,
				"late", r.Late(), "power", c.acc.Totals().Power())
		}
		if d.Clamped {
			c.log.Debug("budget window nearly closed, reusing previous rate",
				"core_rate", d.Rates.Core, "mem_rate", d.Rates.Mem)
		}
	}
	return deltas
}

// caps selects from the cached rates. Called with mu held.
func (c *Core) caps() Caps {
	var caps Caps
	p, ok := selector.PerformanceCap(c.rates.Core, c.table, c.lf)
	caps.PState, caps.PermitsNone = p, !ok
	caps.Idle = selector.IdleCap(c.rates.Mem, c.table, c.acc.PState(), c.lf)
	return caps
}

// Caps refreshes the core and returns both caps.
func (c *Core) Caps() Caps {
	now, res, err := c.sample()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(now, res, err)
	return c.caps()
}

// PerformanceCap returns the highest permitted state index; ok is false
// when no state fits the budget.
func (c *Core) PerformanceCap() (ratetable.PState, bool) {
	caps := c.Caps()
	return caps.PState, !caps.PermitsNone
}

// IdleCap returns the deepest permitted idle category.
func (c *Core) IdleCap() ratetable.IdleCategory { return c.Caps().Idle }

// Totals returns the accumulated totals without refreshing.
func (c *Core) Totals() accumulator.Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.Totals()
}

// LocationFactor returns the current factor.
func (c *Core) LocationFactor() selector.LocationFactor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lf
}

// SetLocationFactor changes the factor for subsequent comparisons.
func (c *Core) SetLocationFactor(lf selector.LocationFactor) error {
	if err := lf.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trace {
		c.log.Debug("location factor changed", "from", c.lf, "to", lf)
	}
	c.lf = lf
	return nil
}

// ResetPeak clears the peak per-cycle consumption.
func (c *Core) ResetPeak() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctrl.ResetPeak()
}

// Snapshot refreshes the core and returns a consistent view of it.
func (c *Core) Snapshot() Snapshot {
	now, res, err := c.sample()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(now, res, err)
	return c.snapshot(now)
}

// View returns the state as of the last update without reading telemetry
// or advancing the budget, so an observer's cadence never moves a cycle
// boundary.
func (c *Core) View() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(c.acc.LastUpdate())
}

// snapshot is called with mu held.
func (c *Core) snapshot(at time.Time) Snapshot {
	a := c.acc.Snapshot()
	cycles, overruns, peak := c.ctrl.Stats()
	return Snapshot{
		CPU:            c.cpu,
		At:             at,
		Frequency:      c.cls.Frequency(a.PState),
		PState:         a.PState,
		Totals:         a.Totals,
		LocationFactor: c.lf,
		Mode:           c.ctrl.Mode(),
		Rates:          c.rates,
		Caps:           c.caps(),
		Cycles:         cycles,
		Overruns:       overruns,
		PeakCycle:      peak,
		Skipped:        c.skipped,
	}
}
