package accumulator

import (
	"fmt"
	"time"

	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/ja7ad/refit/pkg/system/util"
)

// Accumulator keeps the running FIT and power totals of one core.
//
// It is not safe for concurrent use; the owning core serializes access.
type Accumulator struct {
	rates  *ratetable.Table
	pstate ratetable.PState

	last    time.Time
	lastRes Residency
	totals  Totals
}

// New creates a zeroed accumulator that starts counting at now, with res
// as the idle residency baseline.
func New(rates *ratetable.Table, p ratetable.PState, now time.Time, res Residency) (*Accumulator, error) {
	if rates == nil {
		return nil, fmt.Errorf("%w: nil rate table", ratetable.ErrConfig)
	}
	if !p.Valid() {
		return nil, fmt.Errorf("%w: initial state %d", ratetable.ErrConfig, int(p))
	}
	return &Accumulator{rates: rates, pstate: p, last: now, lastRes: res}, nil
}

// Update attributes the time since the previous update to the four
// categories and adds the weighted rates to the totals.
//
// Idle time comes from the counter deltas; active time is whatever is left
// of the wall-clock interval. When the counters report more idle time than
// elapsed, active time is zero rather than negative. A zero or negative
// interval changes nothing.
func (a *Accumulator) Update(now time.Time, res Residency) Deltas {
	var d Deltas

	elapsed := now.Sub(a.last).Microseconds()
	if elapsed <= 0 {
		return d
	}

	idle := uint64(0)
	for i := range res {
		d[i+1] = util.DeltaU64(res[i], a.lastRes[i])
		idle = util.SatAdd(idle, d[i+1])
	}
	d[ratetable.Active] = util.SubFloor(uint64(elapsed), idle)

	s := a.rates.State(a.pstate)
	deep := a.rates.Idle2CoreFIT
	deepPow := a.rates.Idle2CorePower

	// Idle3 reuses the Idle2 core rate.
	a.totals.CoreFIT = addTerms(a.totals.CoreFIT,
		d[ratetable.Active], s.CoreFIT,
		d[ratetable.Idle1], s.Idle1CoreFIT,
		d[ratetable.Idle2], deep,
		d[ratetable.Idle3], deep)
	a.totals.CorePower = addTerms(a.totals.CorePower,
		d[ratetable.Active], s.CorePower,
		d[ratetable.Idle1], s.Idle1CorePower,
		d[ratetable.Idle2], deepPow,
		d[ratetable.Idle3], deepPow)

	// Memory stays at full voltage until Idle3.
	a.totals.MemFIT = addTerms(a.totals.MemFIT,
		d[ratetable.Active], s.MemFIT,
		d[ratetable.Idle1], s.MemFIT,
		d[ratetable.Idle2], s.MemFIT,
		d[ratetable.Idle3], s.MemRetainedFIT)
	a.totals.MemPower = addTerms(a.totals.MemPower,
		d[ratetable.Active], s.MemPower,
		d[ratetable.Idle1], s.MemPower,
		d[ratetable.Idle2], s.MemPower,
		d[ratetable.Idle3], s.MemRetainedPower)

	a.last = now
	a.lastRes = res
	return d
}

// addTerms returns acc + Σ dt*rate with every step saturating.
// terms alternate duration, rate.
func addTerms(acc uint64, terms ...uint64) uint64 {
	for i := 0; i+1 < len(terms); i += 2 {
		acc = util.SatAdd(acc, util.SatMul(terms[i], terms[i+1]))
	}
	return acc
}

// SetPState selects the rates used by subsequent updates. Callers update
// first so the elapsed interval is charged at the old state.
func (a *Accumulator) SetPState(p ratetable.PState) error {
	if !p.Valid() {
		return fmt.Errorf("%w: state %d", ratetable.ErrConfig, int(p))
	}
	a.pstate = p
	return nil
}

// PState returns the current performance state.
func (a *Accumulator) PState() ratetable.PState { return a.pstate }

// Totals returns the accumulated totals.
func (a *Accumulator) Totals() Totals { return a.totals }

// LastUpdate returns the time of the last effective update.
func (a *Accumulator) LastUpdate() time.Time { return a.last }

// Snapshot returns a copy of the accumulator state.
func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{
		At:        a.last,
		PState:    a.pstate,
		Totals:    a.totals,
		Residency: a.lastRes,
	}
}
