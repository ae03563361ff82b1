package ratetable

import "fmt"

// NumPStates is the number of performance states a table describes.
const NumPStates = 5

// NumIdle is the number of measured idle depths (Idle1..Idle3). Hosts that
// expose more idle states are not supported.
const NumIdle = 3

// PState is a performance-state index; 0 is the fastest.
type PState int

// Valid reports whether p indexes a table entry.
func (p PState) Valid() bool { return p >= 0 && p < NumPStates }

func (p PState) String() string { return fmt.Sprintf("P%d", int(p)) }

// IdleCategory is one of the four fixed residency categories.
type IdleCategory int

const (
	Active IdleCategory = iota // derived, not measured
	Idle1                      // clock gated, core logic retained
	Idle2                      // core power gated, memory retained at full voltage
	Idle3                      // core power gated, memory in retention
)

// NumCategories is Active plus the measured idle depths.
const NumCategories = NumIdle + 1

func (c IdleCategory) String() string {
	switch c {
	case Active:
		return "active"
	case Idle1:
		return "idle1"
	case Idle2:
		return "idle2"
	case Idle3:
		return "idle3"
	default:
		return fmt.Sprintf("idle(%d)", int(c))
	}
}
