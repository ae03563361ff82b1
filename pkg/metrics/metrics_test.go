package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/refit/pkg/accumulator"
	"github.com/ja7ad/refit/pkg/budget"
	"github.com/ja7ad/refit/pkg/governor"
	"github.com/ja7ad/refit/pkg/ratetable"
)

func snapshot(cpu int) governor.Snapshot {
	return governor.Snapshot{
		CPU:            cpu,
		Frequency:      1_600_000,
		PState:         2,
		Totals:         accumulator.Totals{CoreFIT: 1000, MemFIT: 2000, CorePower: 30, MemPower: 40},
		LocationFactor: 100,
		Rates:          budget.Rates{Core: 15, Mem: 1125},
		Caps:           governor.Caps{PState: 4, Idle: ratetable.Idle3},
		Cycles:         3,
		Overruns:       1,
	}
}

func TestExporter_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)

	s := snapshot(0)
	e.Observe(s)

	assert.Equal(t, 1000.0, testutil.ToFloat64(e.totals.WithLabelValues("0", "core_fit")))
	assert.Equal(t, 40.0, testutil.ToFloat64(e.totals.WithLabelValues("0", "mem_power")))
	assert.Equal(t, 1125.0, testutil.ToFloat64(e.rates.WithLabelValues("0", "mem")))
	assert.Equal(t, 4.0, testutil.ToFloat64(e.perfCap.WithLabelValues("0")))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.idleCap.WithLabelValues("0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.pstate.WithLabelValues("0")))
	assert.Equal(t, 1_600_000.0, testutil.ToFloat64(e.frequency.WithLabelValues("0")))
	assert.Equal(t, 100.0, testutil.ToFloat64(e.locationFactor.WithLabelValues("0")))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.cycles.WithLabelValues("0")))

	t.Run("counters_follow_deltas", func(t *testing.T) {
		s.Cycles, s.Overruns, s.Skipped = 5, 1, 2
		e.Observe(s)
		assert.Equal(t, 5.0, testutil.ToFloat64(e.cycles.WithLabelValues("0")))
		assert.Equal(t, 1.0, testutil.ToFloat64(e.overruns.WithLabelValues("0")))
		assert.Equal(t, 2.0, testutil.ToFloat64(e.skipped.WithLabelValues("0")))
	})
	t.Run("no_state_permitted", func(t *testing.T) {
		s.Caps = governor.Caps{PermitsNone: true, Idle: ratetable.Idle1}
		e.Observe(s)
		assert.Equal(t, -1.0, testutil.ToFloat64(e.perfCap.WithLabelValues("0")))
		assert.Equal(t, 1.0, testutil.ToFloat64(e.idleCap.WithLabelValues("0")))
	})
}

func TestExporter_PerCPUSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)
	e.Observe(snapshot(0))
	e.Observe(snapshot(3))

	assert.Equal(t, 2, testutil.CollectAndCount(e.perfCap))
	assert.Equal(t, 8, testutil.CollectAndCount(e.totals))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)
	e.Observe(snapshot(1))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		text := string(body)
		assert.True(t, strings.Contains(text, `refit_performance_cap{cpu="1"} 4`), text)
		assert.True(t, strings.Contains(text, `refit_budget_cycles_total{cpu="1"} 3`), text)
	})
	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
	t.Run("unknown_route", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
