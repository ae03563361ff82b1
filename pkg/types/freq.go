package types

import "fmt"

// KHz is a uint64 wrapper representing a frequency in kilohertz, the unit
// cpufreq reports in.
type KHz uint64

// Humanized returns a human-readable string with automatic unit (kHz, MHz, GHz).
func (f KHz) Humanized() string {
	v := float64(f)
	switch {
	case f >= 1000*1000:
		return fmt.Sprintf("%.2f GHz", v/(1000*1000))
	case f >= 1000:
		return fmt.Sprintf("%.2f MHz", v/1000)
	default:
		return fmt.Sprintf("%d kHz", f)
	}
}

// MHz returns the frequency in megahertz.
func (f KHz) MHz() float64 { return float64(f) / 1000 }

// GHz returns the frequency in gigahertz.
func (f KHz) GHz() float64 { return float64(f) / (1000 * 1000) }

// ToUint64 returns the raw kHz value.
func (f KHz) ToUint64() uint64 { return uint64(f) }
