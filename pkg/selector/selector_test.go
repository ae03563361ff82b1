package selector

import (
	"testing"

	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T) *ratetable.Table {
	t.Helper()
	five := func(v uint64) []uint64 { return []uint64{v, v, v, v, v} }
	tbl, err := ratetable.FromSpec(ratetable.Spec{
		CoreFIT:          []uint64{10, 20, 30, 40, 50},
		CorePower:        five(1),
		Idle1CoreFIT:     five(1),
		Idle1CorePower:   five(1),
		MemFIT:           five(1),
		MemPower:         five(1),
		MemRetainedFIT:   []uint64{100, 110, 120, 130, 140},
		MemRetainedPower: five(1),
		Idle2CoreFIT:     40,
	})
	require.NoError(t, err)
	return tbl
}

func TestPerformanceCap_Scenarios(t *testing.T) {
	tbl := testTable(t)
	cases := []struct {
		name string
		rate uint64
		lf   LocationFactor
		want ratetable.PState
		ok   bool
	}{
		{"between_1_and_2", 25, 100, 1, true},
		{"exact_threshold", 30, 100, 2, true},
		{"above_all", 1000, 100, 4, true},
		{"below_fastest", 9, 100, 0, false},
		{"zero_rate", 0, 100, 0, false},
		{"half_factor_doubles_reach", 25, 50, 4, true},
		{"half_factor_low_rate", 12, 50, 1, true},
		{"derated_up", 25, 200, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PerformanceCap(tc.rate, tbl, tc.lf)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestPerformanceCap_Monotonic(t *testing.T) {
	tbl := testTable(t)
	for _, lf := range []LocationFactor{25, 50, 100, 150} {
		prev := ratetable.PState(-1)
		for rate := uint64(0); rate <= 200; rate++ {
			p, ok := PerformanceCap(rate, tbl, lf)
			cur := ratetable.PState(-1)
			if ok {
				cur = p
			}
			require.GreaterOrEqual(t, cur, prev, "lf=%d rate=%d", lf, rate)
			prev = cur
		}
	}
}

func TestPerformanceCap_NonMonotonicTable(t *testing.T) {
	tbl := testTable(t)
	tbl.States[1].CoreFIT = 5 // cheaper than its neighbours

	p, ok := PerformanceCap(6, tbl, 100)
	require.True(t, ok)
	assert.Equal(t, ratetable.PState(1), p)
}

func TestIdleCap(t *testing.T) {
	tbl := testTable(t)
	cases := []struct {
		name string
		rate uint64
		p    ratetable.PState
		lf   LocationFactor
		want ratetable.IdleCategory
	}{
		{"below_deep_core_rate", 39, 0, 100, ratetable.Idle1},
		{"between", 40, 0, 100, ratetable.Idle2},
		{"just_below_retained", 99, 0, 100, ratetable.Idle2},
		{"at_retained", 100, 0, 100, ratetable.Idle3},
		{"retained_depends_on_state", 120, 3, 100, ratetable.Idle2},
		{"half_factor", 50, 0, 50, ratetable.Idle3},
		{"half_factor_shallow", 19, 0, 50, ratetable.Idle1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IdleCap(tc.rate, tbl, tc.p, tc.lf))
		})
	}
}

func TestLocationFactor(t *testing.T) {
	assert.NoError(t, DefaultLocationFactor.Validate())
	assert.ErrorIs(t, LocationFactor(0).Validate(), ratetable.ErrConfig)
	assert.Equal(t, uint64(15), LocationFactor(50).Scale(30))
	assert.Equal(t, uint64(30), DefaultLocationFactor.Scale(30))
}
