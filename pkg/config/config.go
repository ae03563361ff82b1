// Package config loads the daemon configuration from YAML or TOML.
//
// A file only needs the keys it changes; everything else keeps the value
// from Default(). Durations are Go duration strings ("333ms", "1s").
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ja7ad/refit/pkg/budget"
	"github.com/ja7ad/refit/pkg/governor"
	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/ja7ad/refit/pkg/recorder"
	"github.com/ja7ad/refit/pkg/selector"
	"github.com/ja7ad/refit/pkg/system/util"
)

// Config is the on-disk configuration.
type Config struct {
	// CPUs to manage as a cpu list ("0-3,6"); empty means every online cpu.
	CPUs string `yaml:"cpus" toml:"cpus"`
	// Variant selects a built-in rate table (case1..case4) or "custom".
	Variant string `yaml:"variant" toml:"variant"`
	// Rates is the custom rate table, required when Variant is "custom".
	Rates *ratetable.Spec `yaml:"rates,omitempty" toml:"rates,omitempty"`

	Mode           string `yaml:"mode" toml:"mode"`
	CycleLength    string `yaml:"cycle_length" toml:"cycle_length"`
	LocationFactor uint64 `yaml:"location_factor" toml:"location_factor"`
	Tracing        bool   `yaml:"tracing" toml:"tracing"`
	// Interval is how often the control loop polls every core.
	Interval string `yaml:"interval" toml:"interval"`

	Recorder Recorder `yaml:"recorder" toml:"recorder"`
	Metrics  Metrics  `yaml:"metrics" toml:"metrics"`
}

// Recorder configures the sampling task.
type Recorder struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Logging  bool   `yaml:"logging" toml:"logging"`
	Name     string `yaml:"name" toml:"name"`
	Interval string `yaml:"interval" toml:"interval"`
	Length   int    `yaml:"length" toml:"length"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Variant:        ratetable.Case1.String(),
		Mode:           budget.Dynamic.String(),
		CycleLength:    budget.DefaultCycleLength.String(),
		LocationFactor: uint64(selector.DefaultLocationFactor),
		Interval:       "1s",
		Recorder: Recorder{
			Interval: recorder.DefaultInterval.String(),
			Length:   recorder.DefaultLength,
		},
	}
}

// Load reads path over Default(). The format follows the extension: .yaml
// and .yml are decoded strictly, unknown keys are errors; .toml reports
// unknown keys as errors too.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if un := md.Undecoded(); len(un) > 0 {
			return cfg, fmt.Errorf("parse config %s: %w: unknown key %q", path, ErrInvalid, un[0].String())
		}
	default:
		return cfg, fmt.Errorf("%w: %q", ErrFormat, path)
	}
	return cfg, nil
}

// Settings are the validated, typed values of a Config.
type Settings struct {
	CPUs           []int // nil = every online cpu
	Table          *ratetable.Table
	Mode           budget.Mode
	CycleLength    time.Duration
	LocationFactor selector.LocationFactor
	Tracing        bool
	Interval       time.Duration

	RecorderEnabled bool
	Recorder        recorder.Options
	MetricsAddr     string
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	_, err := c.Resolve()
	return err
}

// Resolve validates c and converts it into Settings.
func (c Config) Resolve() (Settings, error) {
	var (
		s   Settings
		err error
	)
	if s.CPUs, err = util.ParseCPUList(c.CPUs); err != nil {
		return s, fmt.Errorf("%w: cpus: %w", ErrInvalid, err)
	}
	if s.Table, err = c.table(); err != nil {
		return s, err
	}
	if s.Mode, err = budget.ParseMode(c.Mode); err != nil {
		return s, err
	}
	if s.CycleLength, err = duration("cycle_length", c.CycleLength); err != nil {
		return s, err
	}
	if s.Mode == budget.Dynamic && s.CycleLength <= budget.MinRemaining {
		return s, fmt.Errorf("%w: cycle_length %s must exceed %s", ErrInvalid, s.CycleLength, budget.MinRemaining)
	}
	s.LocationFactor = selector.LocationFactor(c.LocationFactor)
	if err := s.LocationFactor.Validate(); err != nil {
		return s, err
	}
	if s.Interval, err = duration("interval", c.Interval); err != nil {
		return s, err
	}
	if s.Interval <= 0 {
		return s, fmt.Errorf("%w: interval must be > 0", ErrInvalid)
	}

	s.Tracing = c.Tracing
	s.RecorderEnabled = c.Recorder.Enabled
	s.Recorder = recorder.Options{
		Logging: c.Recorder.Logging,
		Name:    c.Recorder.Name,
		Length:  c.Recorder.Length,
	}
	if s.Recorder.Interval, err = duration("recorder.interval", c.Recorder.Interval); err != nil {
		return s, err
	}
	if s.Recorder.Interval < 0 || s.Recorder.Length < 0 {
		return s, fmt.Errorf("%w: recorder interval and length must be >= 0", ErrInvalid)
	}
	s.MetricsAddr = c.Metrics.Addr
	return s, nil
}

func (c Config) table() (*ratetable.Table, error) {
	name := c.Variant
	if name == "" && c.Rates != nil {
		name = ratetable.Custom.String()
	}
	v, err := ratetable.ParseVariant(name)
	if err != nil {
		return nil, err
	}
	if v == ratetable.Custom {
		if c.Rates == nil {
			return nil, fmt.Errorf("%w: variant custom needs a rates table", ratetable.ErrConfig)
		}
		return ratetable.FromSpec(*c.Rates)
	}
	if c.Rates != nil {
		return nil, fmt.Errorf("%w: rates given with built-in variant %s", ErrInvalid, v)
	}
	return ratetable.New(v)
}

func duration(key, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
	}
	return d, nil
}

// CoreOptions returns the governor options every managed core shares.
func (s Settings) CoreOptions(log *slog.Logger, clock func() time.Time) governor.Options {
	return governor.Options{
		Table:          s.Table,
		Mode:           s.Mode,
		CycleLength:    s.CycleLength,
		LocationFactor: s.LocationFactor,
		Tracing:        s.Tracing,
		Logger:         log,
		Clock:          clock,
	}
}
