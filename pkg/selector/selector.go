package selector

import (
	"fmt"

	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/ja7ad/refit/pkg/system/util"
)

// LocationFactor is a percentage derating applied to every threshold at
// comparison time. Accumulated totals are never rescaled.
type LocationFactor uint64

// DefaultLocationFactor leaves thresholds unchanged.
const DefaultLocationFactor LocationFactor = 100

// Validate rejects a zero factor, which would make every threshold zero.
func (lf LocationFactor) Validate() error {
	if lf == 0 {
		return fmt.Errorf("%w: location factor must be > 0", ratetable.ErrConfig)
	}
	return nil
}

// Scale applies the factor to a rate.
func (lf LocationFactor) Scale(rate uint64) uint64 { return util.Percent(rate, uint64(lf)) }

// PerformanceCap returns the highest state index whose derated core FIT
// rate the budget rate can sustain. ok is false when not even state 0
// qualifies; the caller then permits no state.
func PerformanceCap(coreRate uint64, t *ratetable.Table, lf LocationFactor) (ratetable.PState, bool) {
	for p := ratetable.PState(ratetable.NumPStates - 1); p >= 0; p-- {
		if coreRate >= lf.Scale(t.State(p).CoreFIT) {
			return p, true
		}
	}
	return 0, false
}

// IdleCap returns the deepest idle category permitted by the memory budget
// rate while the core runs at p.
func IdleCap(memRate uint64, t *ratetable.Table, p ratetable.PState, lf LocationFactor) ratetable.IdleCategory {
	switch {
	case memRate < lf.Scale(t.Idle2CoreFIT):
		return ratetable.Idle1
	case memRate < lf.Scale(t.State(p).MemRetainedFIT):
		return ratetable.Idle2
	default:
		return ratetable.Idle3
	}
}
