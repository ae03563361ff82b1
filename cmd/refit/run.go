//go:build linux

package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ja7ad/refit/pkg/config"
	"github.com/ja7ad/refit/pkg/governor"
	"github.com/ja7ad/refit/pkg/metrics"
	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/ja7ad/refit/pkg/recorder"
	"github.com/ja7ad/refit/pkg/system/sysfs"
	"github.com/ja7ad/refit/pkg/types"
)

type runOpts struct {
	samples int
	pretty  bool

	// overrides of config keys, applied only when the flag was set
	cpus           string
	variant        string
	mode           string
	cycle          time.Duration
	locationFactor uint64
	tracing        bool
	interval       time.Duration
	metricsAddr    string
	record         bool
	recordLogging  bool
	recordName     string

	// outputs
	csvPath  string
	jsonPath string
}

type row struct {
	At        time.Time `json:"time"`
	CPU       int       `json:"cpu"`
	Frequency types.KHz `json:"freq_khz"`
	PState    int       `json:"pstate"`
	PerfCap   int       `json:"perf_cap"` // -1 = no state permitted
	IdleCap   string    `json:"idle_cap"`
	CoreFIT   uint64    `json:"core_fit"`
	MemFIT    uint64    `json:"mem_fit"`
	Power     uint64    `json:"power"`
	RateCore  uint64    `json:"rate_core"`
	RateMem   uint64    `json:"rate_mem"`
	LF        uint64    `json:"location_factor"`
	Cycles    uint64    `json:"cycles"`
	Overruns  uint64    `json:"overruns"`
	Skipped   uint64    `json:"skipped"`
}

func toRow(s governor.Snapshot) row {
	perf := int(s.Caps.PState)
	if s.Caps.PermitsNone {
		perf = -1
	}
	return row{
		At:        s.At,
		CPU:       s.CPU,
		Frequency: types.KHz(s.Frequency),
		PState:    int(s.PState),
		PerfCap:   perf,
		IdleCap:   s.Caps.Idle.String(),
		CoreFIT:   s.Totals.CoreFIT,
		MemFIT:    s.Totals.MemFIT,
		Power:     s.Totals.Power(),
		RateCore:  s.Rates.Core,
		RateMem:   s.Rates.Mem,
		LF:        uint64(s.LocationFactor),
		Cycles:    s.Cycles,
		Overruns:  s.Overruns,
		Skipped:   s.Skipped,
	}
}

func newRunCmd() *cobra.Command {
	var o runOpts
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Track the budget of every managed core and print the caps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyRunFlags(cmd, o, &cfg)
			s, err := cfg.Resolve()
			if err != nil {
				return err
			}
			return run(cmd.Context(), o, s)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.samples, "samples", "s", 0, "number of ticks to run (0 = until Ctrl-C)")
	f.BoolVar(&o.pretty, "pretty", true, "format output as a table instead of CSV-like lines")

	f.StringVar(&o.cpus, "cpus", "", "cpu list to manage, e.g. 0-3,6 (default all online)")
	f.StringVar(&o.variant, "variant", "", "rate table variant: case1..case4")
	f.StringVar(&o.mode, "mode", "", "budget mode: dynamic or static")
	f.DurationVar(&o.cycle, "cycle", 0, "dynamic budget cycle length")
	f.Uint64Var(&o.locationFactor, "location-factor", 0, "threshold derating in percent")
	f.BoolVar(&o.tracing, "tracing", false, "log cycle closures, clamps and transitions")
	f.DurationVarP(&o.interval, "interval", "i", 0, "polling interval (e.g. 1s, 500ms)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&o.record, "record", false, "run the background recorder")
	f.BoolVar(&o.recordLogging, "record-logging", false, "log recorder rings as RE_LOG lines")
	f.StringVar(&o.recordName, "record-name", "", "tag for RE_LOG lines")

	f.StringVar(&o.csvPath, "csv", "", "write per-tick rows to CSV file")
	f.StringVar(&o.jsonPath, "json", "", "write per-tick rows to JSON file")
	return cmd
}

func applyRunFlags(cmd *cobra.Command, o runOpts, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("cpus") {
		cfg.CPUs = o.cpus
	}
	if f.Changed("variant") {
		cfg.Variant = o.variant
		cfg.Rates = nil
	}
	if f.Changed("mode") {
		cfg.Mode = o.mode
	}
	if f.Changed("cycle") {
		cfg.CycleLength = o.cycle.String()
	}
	if f.Changed("location-factor") {
		cfg.LocationFactor = o.locationFactor
	}
	if f.Changed("tracing") {
		cfg.Tracing = o.tracing
	}
	if f.Changed("interval") {
		cfg.Interval = o.interval.String()
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if f.Changed("record") {
		cfg.Recorder.Enabled = o.record
	}
	if f.Changed("record-logging") {
		cfg.Recorder.Logging = o.recordLogging
	}
	if f.Changed("record-name") {
		cfg.Recorder.Name = o.recordName
	}
}

func run(ctx context.Context, o runOpts, s config.Settings) error {
	printConsole()

	col := sysfs.NewCollector()
	cpus := s.CPUs
	if cpus == nil {
		var err error
		if cpus, err = sysfs.OnlineCPUs(col.Root()); err != nil {
			return fmt.Errorf("online cpus: %w", err)
		}
	}

	reg := governor.NewRegistry(col)
	for _, cpu := range cpus {
		info := col.Describe(cpu)
		if _, err := reg.Register(cpu, s.CoreOptions(slog.Default(), nil)); err != nil {
			slog.Warn("cpu not managed", "cpu", cpu, "driver", info.Driver, "idle_states", info.IdleStates, "err", err)
			continue
		}
		slog.Info("cpu managed", "cpu", cpu, "driver", info.Driver, "idle_states", info.IdleStates)
	}
	if len(reg.CPUs()) == 0 {
		return errors.New("no cpu could be managed")
	}
	slog.Info("budget", "variant", s.Table.Variant, "mode", s.Mode,
		"cycle", s.CycleLength, "location_factor", s.LocationFactor)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var exporter *metrics.Exporter
	if s.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		exporter = metrics.NewExporter(promReg)
		srv := &http.Server{
			Addr:              s.MetricsAddr,
			Handler:           metrics.Handler(promReg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server", "err", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
		slog.Info("metrics listening", "addr", s.MetricsAddr)
	}

	recDone := make(chan struct{})
	if s.RecorderEnabled {
		ro := s.Recorder
		if exporter != nil {
			ro.Observer = exporter
		}
		rec, err := recorder.New(reg, ro)
		if err != nil {
			return err
		}
		slog.Info("recorder started", "name", rec.Name(), "interval", rec.Interval())
		go func() {
			defer close(recDone)
			_ = rec.Run(ctx)
		}()
	} else {
		close(recDone)
	}

	out, err := openOutputs(o)
	if err != nil {
		return err
	}
	defer out.close()

	var tw *tabwriter.Writer
	if o.pretty {
		tw = newTable()
		printTableHeader(tw)
	} else {
		fmt.Println("# time, cpu, freq, P, cap, idle_cap, core_fit, mem_fit, power, rate_core, rate_mem, cycles")
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	ticks := 0
loop:
	for {
		select {
		case <-ctx.Done():
			slog.Info("interrupted")
			break loop

		case <-ticker.C:
			followFrequencies(reg, col)

			for _, snap := range reg.Snapshots() {
				if exporter != nil && !s.RecorderEnabled {
					exporter.Observe(snap)
				}
				r := toRow(snap)
				if tw != nil {
					printTableRow(tw, r)
				} else {
					printCsvLike(r)
				}
				out.write(r)
			}

			ticks++
			if o.samples > 0 && ticks >= o.samples {
				break loop
			}
		}
	}

	stop()
	<-recDone
	printSummary(reg, ticks, s.Interval)
	return nil
}

// followFrequencies plays the frequency-management collaborator: sysfs has
// no transition notification, so the current frequency is polled and fed
// to the registry, which also accumulates the elapsed interval.
func followFrequencies(reg *governor.Registry, col *sysfs.Collector) {
	for _, cpu := range reg.CPUs() {
		freq, err := col.CurrentFrequency(cpu)
		if err != nil {
			slog.Warn("current frequency", "cpu", cpu, "err", err)
			continue
		}
		if err := reg.OnFrequencyChange(cpu, freq); err != nil {
			if errors.Is(err, ratetable.ErrLookup) {
				slog.Debug("frequency outside table, tick skipped", "cpu", cpu, "khz", freq)
				continue
			}
			slog.Warn("frequency change", "cpu", cpu, "err", err)
		}
	}
}

type outputs struct {
	csvF   *os.File
	csvW   *csv.Writer
	jsonF  *os.File
	writeN int
}

func openOutputs(o runOpts) (*outputs, error) {
	out := &outputs{}
	if o.csvPath != "" {
		if err := os.MkdirAll(filepath.Dir(o.csvPath), 0o755); err != nil {
			return nil, err
		}
		f, err := os.Create(o.csvPath)
		if err != nil {
			return nil, err
		}
		out.csvF, out.csvW = f, csv.NewWriter(f)
		_ = out.csvW.Write([]string{
			"time", "cpu", "freq_khz", "pstate", "perf_cap", "idle_cap", "core_fit", "mem_fit",
			"power", "rate_core", "rate_mem", "location_factor", "cycles", "overruns", "skipped",
		})
		out.csvW.Flush()
	}
	if o.jsonPath != "" {
		if err := os.MkdirAll(filepath.Dir(o.jsonPath), 0o755); err != nil {
			out.close()
			return nil, err
		}
		f, err := os.Create(o.jsonPath)
		if err != nil {
			out.close()
			return nil, err
		}
		out.jsonF = f
		_, _ = f.WriteString("[\n")
	}
	return out, nil
}

func (o *outputs) write(r row) {
	if o.csvW != nil {
		u := func(v uint64) string { return strconv.FormatUint(v, 10) }
		_ = o.csvW.Write([]string{
			r.At.Format(time.RFC3339Nano), strconv.Itoa(r.CPU), u(r.Frequency.ToUint64()),
			strconv.Itoa(r.PState), strconv.Itoa(r.PerfCap), r.IdleCap,
			u(r.CoreFIT), u(r.MemFIT), u(r.Power), u(r.RateCore), u(r.RateMem),
			u(r.LF), u(r.Cycles), u(r.Overruns), u(r.Skipped),
		})
		o.csvW.Flush()
	}
	if o.jsonF != nil {
		b, _ := json.MarshalIndent(r, "  ", "  ")
		if o.writeN > 0 {
			_, _ = o.jsonF.WriteString(",\n")
		}
		_, _ = o.jsonF.WriteString("  ")
		_, _ = o.jsonF.Write(b)
		o.writeN++
	}
}

func (o *outputs) close() {
	if o.csvW != nil {
		o.csvW.Flush()
	}
	if o.csvF != nil {
		_ = o.csvF.Close()
	}
	if o.jsonF != nil {
		_, _ = o.jsonF.WriteString("\n]\n")
		_ = o.jsonF.Close()
	}
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func printTableHeader(tw *tabwriter.Writer) {
	fmt.Fprintln(tw, "TIME\tCPU\tFREQ\tP\tCAP\tIDLE CAP\tCORE FIT\tMEM FIT\tPOWER\tRATE core/mem\tCYCLES")
	fmt.Fprintln(tw, "----\t---\t----\t-\t---\t--------\t--------\t-------\t-----\t-------------\t------")
	tw.Flush()
}

func capString(p int) string {
	if p < 0 {
		return "none"
	}
	return "P" + strconv.Itoa(p)
}

func printTableRow(tw *tabwriter.Writer, r row) {
	fmt.Fprintf(tw, "%s\t%d\t%s\tP%d\t%s\t%s\t%d\t%d\t%d\t%d/%d\t%d\n",
		r.At.Format("15:04:05.000"), r.CPU, r.Frequency.Humanized(), r.PState,
		capString(r.PerfCap), r.IdleCap, r.CoreFIT, r.MemFIT, r.Power,
		r.RateCore, r.RateMem, r.Cycles,
	)
	tw.Flush()
}

func printCsvLike(r row) {
	fmt.Printf("%s, %d, %d, %d, %s, %s, %d, %d, %d, %d, %d, %d\n",
		r.At.Format(time.RFC3339), r.CPU, r.Frequency, r.PState, capString(r.PerfCap), r.IdleCap,
		r.CoreFIT, r.MemFIT, r.Power, r.RateCore, r.RateMem, r.Cycles)
}

func printSummary(reg *governor.Registry, ticks int, interval time.Duration) {
	fmt.Println()
	fmt.Printf("refit totals (over %d ticks of ~%s):\n", ticks, interval)
	for _, cpu := range reg.CPUs() {
		tot, err := reg.Totals(cpu)
		if err != nil {
			continue
		}
		snap, _ := reg.Snapshot(cpu)
		fmt.Printf("- cpu%-3d core FIT %d, mem FIT %d, power %d, cycles %d (%d overrun), peak %d/%d\n",
			cpu, tot.CoreFIT, tot.MemFIT, tot.Power(), snap.Cycles, snap.Overruns,
			snap.PeakCycle.Core, snap.PeakCycle.Mem)
	}
	fmt.Println()
}
