package budget

import (
	"testing"
	"time"

	"github.com/ja7ad/refit/pkg/accumulator"
	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func us(n int64) time.Time { return t0.Add(time.Duration(n) * time.Microsecond) }

func TestTargetRates(t *testing.T) {
	t.Run("case1_slowest_state_dominates", func(t *testing.T) {
		tbl, err := ratetable.New(ratetable.Case1)
		require.NoError(t, err)
		// max(0, 3)*50/10, 225*50/10
		assert.Equal(t, Rates{Core: 15, Mem: 1125}, TargetRates(tbl))
	})
	t.Run("case3_retention_latch_dominates", func(t *testing.T) {
		tbl, err := ratetable.New(ratetable.Case3)
		require.NoError(t, err)
		assert.Equal(t, uint64(30), TargetRates(tbl).Core)
	})
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Static")
	require.NoError(t, err)
	assert.Equal(t, Static, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Dynamic, m)

	_, err = ParseMode("pid")
	assert.ErrorIs(t, err, ratetable.ErrConfig)
}

func TestStatic_NeverChanges(t *testing.T) {
	target := Rates{Core: 15, Mem: 1125}
	c := NewStatic(target)
	assert.Equal(t, Static, c.Mode())

	for _, tot := range []accumulator.Totals{{}, {CoreFIT: 1 << 40, MemFIT: 1 << 50}} {
		d := c.Evaluate(us(1_000_000_000), tot)
		assert.Equal(t, target, d.Rates)
		assert.False(t, d.Clamped)
		assert.Nil(t, d.Cycle)
	}
}

func TestNewDynamic_RejectsShortCycle(t *testing.T) {
	_, err := NewDynamic(Rates{Core: 1}, MinRemaining, t0, accumulator.Totals{})
	assert.ErrorIs(t, err, ratetable.ErrConfig)
}

func TestDynamic_FirstWindow(t *testing.T) {
	tot := accumulator.Totals{CoreFIT: 500, MemFIT: 700}
	c, err := NewDynamic(Rates{Core: 10, Mem: 20}, time.Millisecond, t0, tot)
	require.NoError(t, err)

	w := c.Window()
	assert.Equal(t, us(1000), w.End)
	assert.Equal(t, uint64(500+10*1000), w.CoreCeiling)
	assert.Equal(t, uint64(700+20*1000), w.MemCeiling)
	assert.Equal(t, time.Millisecond, c.CycleLength())
}

func TestDynamic_InstantaneousRate(t *testing.T) {
	c, err := NewDynamic(Rates{Core: 10, Mem: 20}, time.Millisecond, t0, accumulator.Totals{})
	require.NoError(t, err)

	t.Run("on_pace_keeps_target", func(t *testing.T) {
		d := c.Evaluate(us(500), accumulator.Totals{CoreFIT: 5000, MemFIT: 10000})
		assert.Equal(t, Rates{Core: 10, Mem: 20}, d.Rates)
		assert.False(t, d.Clamped)
	})
	t.Run("underspent_rises", func(t *testing.T) {
		d := c.Evaluate(us(500), accumulator.Totals{CoreFIT: 1000, MemFIT: 0})
		assert.Equal(t, Rates{Core: 18, Mem: 40}, d.Rates)
	})
	t.Run("overspent_is_zero", func(t *testing.T) {
		d := c.Evaluate(us(600), accumulator.Totals{CoreFIT: 20000, MemFIT: 30000})
		assert.Equal(t, Rates{}, d.Rates)
		assert.Equal(t, Rates{}, c.Previous())
	})
}

func TestDynamic_NearZeroRemainingReusesPrevious(t *testing.T) {
	c, err := NewDynamic(Rates{Core: 10, Mem: 20}, time.Millisecond, t0, accumulator.Totals{})
	require.NoError(t, err)

	first := c.Evaluate(us(200), accumulator.Totals{CoreFIT: 400, MemFIT: 400})
	require.False(t, first.Clamped)
	require.Equal(t, Rates{Core: 12, Mem: 24}, first.Rates)

	// at most MinRemaining left: no division, previous rate reused
	for _, at := range []int64{1000 - 256, 1000 - 100, 999} {
		d := c.Evaluate(us(at), accumulator.Totals{CoreFIT: 9999, MemFIT: 0})
		assert.True(t, d.Clamped, "at %dµs", at)
		assert.Equal(t, first.Rates, d.Rates, "at %dµs", at)
		assert.Nil(t, d.Cycle)
	}
	assert.Equal(t, first.Rates, c.Previous())
}

func TestDynamic_BoundaryCeilingExact(t *testing.T) {
	target := Rates{Core: 15, Mem: 1125}
	tot := accumulator.Totals{CoreFIT: 123456, MemFIT: 654321}
	c, err := NewDynamic(target, DefaultCycleLength, t0, tot)
	require.NoError(t, err)

	cycle := uint64(DefaultCycleLength.Microseconds())
	require.Equal(t, uint64(333333), cycle)

	// no accumulation during the window; boundary noticed 5ms late
	at := us(int64(cycle) + 5000)
	d := c.Evaluate(at, tot)
	require.NotNil(t, d.Cycle)
	assert.Equal(t, 5*time.Millisecond, d.Cycle.Late())

	w := c.Window()
	assert.Equal(t, tot.CoreFIT+target.Core*cycle, w.CoreCeiling)
	assert.Equal(t, tot.MemFIT+target.Mem*cycle, w.MemCeiling)
	assert.Equal(t, at.Add(time.Duration(cycle)*time.Microsecond), w.End)

	// fresh window runs at exactly the target
	assert.Equal(t, target, d.Rates)
}

func TestDynamic_LeftoverIsDiscarded(t *testing.T) {
	target := Rates{Core: 10, Mem: 10}
	c, err := NewDynamic(target, time.Millisecond, t0, accumulator.Totals{})
	require.NoError(t, err)

	// consume a tenth of the budget, then cross the boundary
	tot := accumulator.Totals{CoreFIT: 1000, MemFIT: 1000}
	d := c.Evaluate(us(1000), tot)
	require.NotNil(t, d.Cycle)
	assert.Equal(t, Rates{Core: 9000, Mem: 9000}, d.Cycle.Leftover)
	assert.Equal(t, Rates{Core: 1000, Mem: 1000}, d.Cycle.Consumed)
	assert.Equal(t, Rates{}, d.Cycle.Overrun)

	// new ceiling does not include the 9000 left over
	assert.Equal(t, uint64(1000+10*1000), c.Window().CoreCeiling)
	assert.Equal(t, target, d.Rates)
}

func TestDynamic_Stats_WithLogs(t *testing.T) {
	c, err := NewDynamic(Rates{Core: 10, Mem: 10}, time.Millisecond, t0, accumulator.Totals{})
	require.NoError(t, err)

	consumption := []uint64{4000, 15000, 8000}
	var tot accumulator.Totals
	for i, used := range consumption {
		tot.CoreFIT += used
		tot.MemFIT += used / 2
		d := c.Evaluate(us(int64(i+1)*1000), tot)
		require.NotNil(t, d.Cycle, "cycle %d", i)
		t.Logf("cycle %d: consumed=%+v overrun=%+v leftover=%+v",
			i+1, d.Cycle.Consumed, d.Cycle.Overrun, d.Cycle.Leftover)
	}

	cycles, overruns, peak := c.Stats()
	assert.Equal(t, uint64(3), cycles)
	assert.Equal(t, uint64(1), overruns)
	assert.Equal(t, Rates{Core: 15000, Mem: 7500}, peak)

	c.ResetPeak()
	_, _, peak = c.Stats()
	assert.Equal(t, Rates{}, peak)
}

func TestDynamic_PeakDiscountsLateCycles(t *testing.T) {
	c, err := NewDynamic(Rates{Core: 10, Mem: 10}, time.Millisecond, t0, accumulator.Totals{})
	require.NoError(t, err)

	// 4000 consumed, boundary noticed 250ms late
	tot := accumulator.Totals{CoreFIT: 4000, MemFIT: 2000}
	d := c.Evaluate(us(1000+250_000), tot)
	require.NotNil(t, d.Cycle)
	assert.Equal(t, Rates{Core: 4000, Mem: 2000}, d.Cycle.Consumed)
	assert.Equal(t, Rates{Core: 3000, Mem: 1500}, d.Cycle.Weighted())

	_, _, peak := c.Stats()
	assert.Equal(t, Rates{Core: 3000, Mem: 1500}, peak)

	t.Run("over_a_second_late_counts_nothing", func(t *testing.T) {
		c.ResetPeak()
		start := c.Window()
		tot.CoreFIT += 50_000
		d := c.Evaluate(start.End.Add(2*time.Second), tot)
		require.NotNil(t, d.Cycle)
		assert.Equal(t, Rates{}, d.Cycle.Weighted())
		_, _, peak := c.Stats()
		assert.Equal(t, Rates{}, peak)
	})
}
