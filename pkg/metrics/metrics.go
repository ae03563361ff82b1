// Package metrics exports governor snapshots as Prometheus metrics and
// serves them over HTTP.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ja7ad/refit/pkg/governor"
)

const namespace = "refit"

// Exporter turns snapshots into per-cpu series. It satisfies
// recorder.Observer.
type Exporter struct {
	totals         *prometheus.GaugeVec
	rates          *prometheus.GaugeVec
	perfCap        *prometheus.GaugeVec
	idleCap        *prometheus.GaugeVec
	pstate         *prometheus.GaugeVec
	frequency      *prometheus.GaugeVec
	locationFactor *prometheus.GaugeVec
	cycles         *prometheus.CounterVec
	overruns       *prometheus.CounterVec
	skipped        *prometheus.CounterVec

	mu   sync.Mutex
	last map[int]governor.Snapshot
}

// NewExporter registers the collectors with reg.
func NewExporter(reg prometheus.Registerer) *Exporter {
	f := promauto.With(reg)
	return &Exporter{
		totals: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accumulated_total",
			Help:      "Accumulated FIT and power since registration, by kind.",
		}, []string{"cpu", "kind"}),
		rates: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_rate",
			Help:      "Instantaneous budget rate per microsecond, by resource.",
		}, []string{"cpu", "resource"}),
		perfCap: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "performance_cap",
			Help:      "Highest permitted performance state index (-1 = none).",
		}, []string{"cpu"}),
		idleCap: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle_cap",
			Help:      "Deepest permitted idle category (1..3).",
		}, []string{"cpu"}),
		pstate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "performance_state",
			Help:      "Current performance state index.",
		}, []string{"cpu"}),
		frequency: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frequency_khz",
			Help:      "Frequency of the current performance state in kHz.",
		}, []string{"cpu"}),
		locationFactor: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "location_factor_percent",
			Help:      "Threshold derating factor in percent.",
		}, []string{"cpu"}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_cycles_total",
			Help:      "Closed dynamic budget cycles.",
		}, []string{"cpu"}),
		overruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_overruns_total",
			Help:      "Closed cycles whose consumption exceeded the ceiling.",
		}, []string{"cpu"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_ticks_total",
			Help:      "Ticks skipped because telemetry could not be read.",
		}, []string{"cpu"}),
		last: make(map[int]governor.Snapshot),
	}
}

// Observe records one snapshot.
func (e *Exporter) Observe(s governor.Snapshot) {
	cpu := strconv.Itoa(s.CPU)

	e.totals.WithLabelValues(cpu, "core_fit").Set(float64(s.Totals.CoreFIT))
	e.totals.WithLabelValues(cpu, "mem_fit").Set(float64(s.Totals.MemFIT))
	e.totals.WithLabelValues(cpu, "core_power").Set(float64(s.Totals.CorePower))
	e.totals.WithLabelValues(cpu, "mem_power").Set(float64(s.Totals.MemPower))
	e.rates.WithLabelValues(cpu, "core").Set(float64(s.Rates.Core))
	e.rates.WithLabelValues(cpu, "mem").Set(float64(s.Rates.Mem))

	p := float64(s.Caps.PState)
	if s.Caps.PermitsNone {
		p = -1
	}
	e.perfCap.WithLabelValues(cpu).Set(p)
	e.idleCap.WithLabelValues(cpu).Set(float64(s.Caps.Idle))
	e.pstate.WithLabelValues(cpu).Set(float64(s.PState))
	e.frequency.WithLabelValues(cpu).Set(float64(s.Frequency))
	e.locationFactor.WithLabelValues(cpu).Set(float64(s.LocationFactor))

	// counters advance by the difference to the previous snapshot
	e.mu.Lock()
	prev := e.last[s.CPU]
	e.last[s.CPU] = s
	e.mu.Unlock()

	if s.Cycles > prev.Cycles {
		e.cycles.WithLabelValues(cpu).Add(float64(s.Cycles - prev.Cycles))
	}
	if s.Overruns > prev.Overruns {
		e.overruns.WithLabelValues(cpu).Add(float64(s.Overruns - prev.Overruns))
	}
	if s.Skipped > prev.Skipped {
		e.skipped.WithLabelValues(cpu).Add(float64(s.Skipped - prev.Skipped))
	}
}

// Handler serves /metrics from g and a liveness probe on /healthz.
func Handler(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}
