// Package budget apportions a long-run FIT rate over fixed control cycles
// and turns the budget left in the current cycle into an instantaneous
// rate the selector can compare against per-state rates.
//
// # Modes
//
//   - Static: the instantaneous rate is the long-run target, forever.
//   - Dynamic: each cycle opens a window with ceiling = total + target*cycle.
//     Within the window the rate is (ceiling - total) / (cycleEnd - now).
//     Budget left over when a cycle closes is discarded.
//
// Cycle boundaries are detected lazily on the next Evaluate, so polling
// jitter only delays the boundary; no timer is involved.
package budget

import (
	"fmt"
	"strings"
	"time"

	"github.com/ja7ad/refit/pkg/accumulator"
	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/ja7ad/refit/pkg/system/util"
)

const (
	// TargetFactor scales the worst steady-state rate (in tenths) to obtain
	// the long-run target.
	TargetFactor = 50

	// DefaultCycleLength is three control cycles per second.
	DefaultCycleLength = time.Second / 3

	// MinRemaining is the smallest remaining window the controller divides
	// by. At or below it the previous rate is reused.
	MinRemaining = 256 * time.Microsecond
)

// Mode selects how the instantaneous rate is derived.
type Mode int

const (
	Dynamic Mode = iota
	Static
)

func (m Mode) String() string {
	switch m {
	case Dynamic:
		return "dynamic"
	case Static:
		return "static"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dynamic", "":
		return Dynamic, nil
	case "static":
		return Static, nil
	default:
		return 0, fmt.Errorf("%w: unknown budget mode %q", ratetable.ErrConfig, s)
	}
}

// Rates is a pair of core and memory FIT rates per microsecond.
type Rates struct {
	Core uint64
	Mem  uint64
}

// TargetRates derives the long-run target from the slowest state and the
// deepest idle: whichever core rate is worse, and the retained memory rate.
func TargetRates(t *ratetable.Table) Rates {
	slowest := t.State(ratetable.NumPStates - 1)
	return Rates{
		Core: util.SatMul(util.Max(t.Idle2CoreFIT, slowest.CoreFIT), TargetFactor) / 10,
		Mem:  util.SatMul(slowest.MemRetainedFIT, TargetFactor) / 10,
	}
}

// Window is the budget of the current dynamic cycle.
type Window struct {
	Start       time.Time
	End         time.Time
	CoreCeiling uint64
	MemCeiling  uint64
}

// CycleReport summarizes a cycle that just closed.
type CycleReport struct {
	Window   Window
	Closed   time.Time
	Allotted Rates // budget granted for the cycle
	Consumed Rates // accumulated during the cycle
	Overrun  Rates // consumption beyond the ceiling, 0 when within budget
	Leftover Rates // unused budget, discarded
}

// Late is how long after the window end the boundary was noticed.
func (r CycleReport) Late() time.Duration { return r.Closed.Sub(r.Window.End) }

// Weighted is the consumption discounted by lateness: each millisecond the
// boundary went unnoticed removes a thousandth, down to zero after a second.
// The peak per-cycle consumption is kept in these units.
func (r CycleReport) Weighted() Rates {
	late := uint64(max(r.Late().Milliseconds(), 0))
	keep := util.SubFloor(1000, late)
	return Rates{
		Core: util.SatMul(r.Consumed.Core, keep) / 1000,
		Mem:  util.SatMul(r.Consumed.Mem, keep) / 1000,
	}
}

// Decision is the result of one evaluation.
type Decision struct {
	Rates   Rates
	Clamped bool         // remaining window at or below MinRemaining
	Cycle   *CycleReport // non-nil when a cycle closed on this call
}

// Controller is one core's budget state. Not safe for concurrent use.
type Controller struct {
	mode   Mode
	target Rates
	cycle  uint64 // µs

	win  Window
	prev Rates

	cycles   uint64
	peak     Rates
	overruns uint64
}

// NewStatic returns a controller that always reports target.
func NewStatic(target Rates) *Controller {
	return &Controller{mode: Static, target: target, prev: target}
}

// NewDynamic returns a controller whose first window opens at now.
func NewDynamic(target Rates, cycle time.Duration, now time.Time, totals accumulator.Totals) (*Controller, error) {
	if cycle <= MinRemaining {
		return nil, fmt.Errorf("%w: cycle length %s must exceed %s",
			ratetable.ErrConfig, cycle, MinRemaining)
	}
	c := &Controller{
		mode:   Dynamic,
		target: target,
		cycle:  uint64(cycle.Microseconds()),
		prev:   target,
	}
	c.open(now, totals)
	return c, nil
}

func (c *Controller) open(now time.Time, totals accumulator.Totals) {
	c.win = Window{
		Start:       now,
		End:         now.Add(time.Duration(c.cycle) * time.Microsecond),
		CoreCeiling: util.SatAdd(totals.CoreFIT, util.SatMul(c.target.Core, c.cycle)),
		MemCeiling:  util.SatAdd(totals.MemFIT, util.SatMul(c.target.Mem, c.cycle)),
	}
}

// Evaluate returns the instantaneous rates at now given the current totals.
// In dynamic mode it first closes the cycle when now has reached its end.
func (c *Controller) Evaluate(now time.Time, totals accumulator.Totals) Decision {
	if c.mode == Static {
		return Decision{Rates: c.target}
	}

	var d Decision
	if !now.Before(c.win.End) {
		d.Cycle = c.close(now, totals)
		c.open(now, totals)
	}

	remaining := c.win.End.Sub(now)
	if remaining <= MinRemaining {
		d.Rates, d.Clamped = c.prev, true
		return d
	}
	us := uint64(remaining.Microseconds())
	d.Rates = Rates{
		Core: util.SubFloor(c.win.CoreCeiling, totals.CoreFIT) / us,
		Mem:  util.SubFloor(c.win.MemCeiling, totals.MemFIT) / us,
	}
	c.prev = d.Rates
	return d
}

func (c *Controller) close(now time.Time, totals accumulator.Totals) *CycleReport {
	allot := Rates{
		Core: util.SatMul(c.target.Core, c.cycle),
		Mem:  util.SatMul(c.target.Mem, c.cycle),
	}
	start := Rates{
		Core: util.SubFloor(c.win.CoreCeiling, allot.Core),
		Mem:  util.SubFloor(c.win.MemCeiling, allot.Mem),
	}
	r := &CycleReport{
		Window:   c.win,
		Closed:   now,
		Allotted: allot,
		Consumed: Rates{
			Core: util.SubFloor(totals.CoreFIT, start.Core),
			Mem:  util.SubFloor(totals.MemFIT, start.Mem),
		},
		Overrun: Rates{
			Core: util.SubFloor(totals.CoreFIT, c.win.CoreCeiling),
			Mem:  util.SubFloor(totals.MemFIT, c.win.MemCeiling),
		},
		Leftover: Rates{
			Core: util.SubFloor(c.win.CoreCeiling, totals.CoreFIT),
			Mem:  util.SubFloor(c.win.MemCeiling, totals.MemFIT),
		},
	}

	c.cycles++
	if r.Overrun.Core > 0 || r.Overrun.Mem > 0 {
		c.overruns++
	}
	w := r.Weighted()
	c.peak.Core = util.Max(c.peak.Core, w.Core)
	c.peak.Mem = util.Max(c.peak.Mem, w.Mem)
	return r
}

// Mode returns the controller mode.
func (c *Controller) Mode() Mode { return c.mode }

// Target returns the long-run target rates.
func (c *Controller) Target() Rates { return c.target }

// CycleLength returns the dynamic cycle length, 0 in static mode.
func (c *Controller) CycleLength() time.Duration {
	return time.Duration(c.cycle) * time.Microsecond
}

// Window returns the current window. Zero in static mode.
func (c *Controller) Window() Window { return c.win }

// Previous returns the last rate computed by a full evaluation.
func (c *Controller) Previous() Rates { return c.prev }

// Stats reports closed cycles, cycles that overran their ceiling and the
// peak lateness-weighted per-cycle consumption.
func (c *Controller) Stats() (cycles, overruns uint64, peak Rates) {
	return c.cycles, c.overruns, c.peak
}

// ResetPeak clears the peak per-cycle consumption.
func (c *Controller) ResetPeak() { c.peak = Rates{} }
