package accumulator

import (
	"time"

	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/ja7ad/refit/pkg/system/util"
)

// Residency holds cumulative idle residency counters in microseconds for
// Idle1, Idle2 and Idle3, in that order.
type Residency [ratetable.NumIdle]uint64

// Deltas is the time attributed to each category by one update, indexed by
// ratetable.IdleCategory. Units: microseconds.
type Deltas [ratetable.NumCategories]uint64

// Sum returns the total attributed time.
func (d Deltas) Sum() uint64 {
	var s uint64
	for _, v := range d {
		s += v
	}
	return s
}

// Totals are the four accumulated quantities. Each is non-decreasing.
// Units: rate units times microseconds.
type Totals struct {
	CoreFIT   uint64
	MemFIT    uint64
	CorePower uint64
	MemPower  uint64
}

// Power returns core plus memory power.
func (t Totals) Power() uint64 { return util.SatAdd(t.CorePower, t.MemPower) }

// Snapshot is a point-in-time copy of an accumulator.
type Snapshot struct {
	At        time.Time
	PState    ratetable.PState
	Totals    Totals
	Residency Residency
}
