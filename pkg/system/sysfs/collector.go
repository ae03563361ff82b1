//go:build linux

package sysfs

import (
	"fmt"

	"github.com/ja7ad/refit/pkg/ratetable"
)

// Collector reads telemetry for any cpu under one sysfs root.
type Collector struct {
	root string
}

// NewCollector returns a collector rooted at Root().
func NewCollector() *Collector { return &Collector{root: Root()} }

// NewCollectorAt returns a collector rooted at root.
func NewCollectorAt(root string) *Collector { return &Collector{root: root} }

// Root returns the directory the collector reads from.
func (c *Collector) Root() string { return c.root }

// Frequencies returns the supported frequencies of cpu in kHz.
func (c *Collector) Frequencies(cpu int) ([]uint64, error) {
	return ReadAvailableFrequencies(c.root, cpu)
}

// CurrentFrequency returns the frequency cpu runs at, in kHz.
func (c *Collector) CurrentFrequency(cpu int) (uint64, error) {
	return ReadCurrentFrequency(c.root, cpu)
}

// IdleStateCount returns the idle depths beyond the polling state.
func (c *Collector) IdleStateCount(cpu int) (int, error) {
	states, err := ReadIdleStates(c.root, cpu)
	if err != nil {
		return 0, err
	}
	return len(states) - 1, nil
}

// IdleResidency returns the cumulative µs of state1..state3.
func (c *Collector) IdleResidency(cpu int) ([ratetable.NumIdle]uint64, error) {
	var out [ratetable.NumIdle]uint64
	for i := range out {
		v, err := ReadIdleTime(c.root, cpu, i+1)
		if err != nil {
			return out, fmt.Errorf("cpu%d state%d: %w", cpu, i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// Info describes the drivers and idle states of one cpu.
type Info struct {
	CPU         int
	Driver      string
	Frequencies []uint64
	IdleStates  []string
}

// Describe gathers Info for cpu. Missing attributes are left empty.
func (c *Collector) Describe(cpu int) Info {
	info := Info{CPU: cpu}
	info.Driver, _ = ReadDriver(c.root, cpu)
	info.Frequencies, _ = c.Frequencies(cpu)
	states, _ := ReadIdleStates(c.root, cpu)
	for _, k := range states {
		name, err := ReadIdleName(c.root, cpu, k)
		if err != nil {
			name = fmt.Sprintf("state%d", k)
		}
		info.IdleStates = append(info.IdleStates, name)
	}
	return info
}
