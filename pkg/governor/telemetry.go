package governor

import "github.com/ja7ad/refit/pkg/ratetable"

// Telemetry is what the governor consumes from the host's frequency and
// idle management. sysfs.Collector is the Linux implementation.
type Telemetry interface {
	// Frequencies returns the supported frequencies (kHz) of cpu.
	Frequencies(cpu int) ([]uint64, error)
	// CurrentFrequency returns the frequency (kHz) cpu runs at.
	CurrentFrequency(cpu int) (uint64, error)
	// IdleResidency returns cumulative microseconds spent in Idle1..Idle3.
	IdleResidency(cpu int) ([ratetable.NumIdle]uint64, error)
	// IdleStateCount returns the number of idle depths beyond Active.
	IdleStateCount(cpu int) (int, error)
}
