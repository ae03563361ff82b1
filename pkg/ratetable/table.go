package ratetable

import (
	"fmt"
	"strings"

	"github.com/ja7ad/refit/pkg/system/util"
)

// StateRates holds the rate constants that depend on the performance
// state the core last ran at.
// Units:
//   - *FIT: normalized failure rate per microsecond of residency
//   - *Power: normalized power (100 ~ 1mW) per microsecond of residency
type StateRates struct {
	CoreFIT          uint64 // Active
	CorePower        uint64
	Idle1CoreFIT     uint64 // Idle1
	Idle1CorePower   uint64
	MemFIT           uint64 // Active, Idle1, Idle2
	MemPower         uint64
	MemRetainedFIT   uint64 // Idle3
	MemRetainedPower uint64
}

// Table is the immutable per-core rate table. Index 0 of States is the
// fastest performance state.
type Table struct {
	Variant Variant
	States  [NumPStates]StateRates

	// Deep idle core rates, shared by Idle2 and Idle3.
	Idle2CoreFIT   uint64
	Idle2CorePower uint64
}

// State returns the rates for p. Callers validate p first.
func (t *Table) State(p PState) StateRates { return t.States[p] }

// Variant selects one of the built-in hardware configurations.
type Variant int

const (
	// Custom marks a table built from a Spec.
	Custom Variant = iota
	// Case1: L1 without ECC, L1 voltage scaling, no retention flops.
	Case1
	// Case2: L1 without ECC, fixed L1 voltage, no retention flops.
	Case2
	// Case3: L1 without ECC, L1 voltage scaling, retention flops.
	Case3
	// Case4: L1 with ECC, L1 voltage scaling, no retention flops.
	Case4
)

func (v Variant) String() string {
	switch v {
	case Custom:
		return "custom"
	case Case1:
		return "case1"
	case Case2:
		return "case2"
	case Case3:
		return "case3"
	case Case4:
		return "case4"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant maps a configuration string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "case1", "1":
		return Case1, nil
	case "case2", "2":
		return Case2, nil
	case "case3", "3":
		return Case3, nil
	case "case4", "4":
		return Case4, nil
	case "custom":
		return Custom, nil
	default:
		return 0, fmt.Errorf("%w: unknown hardware variant %q", ErrConfig, s)
	}
}

// hardware describes the options the built-in variants toggle.
type hardware struct {
	l1ECC           bool
	l1VoltageScaled bool
	retentionFlops  bool
	l2ECC           bool
}

func (v Variant) hardware() (hardware, bool) {
	switch v {
	case Case1:
		return hardware{l1VoltageScaled: true, l2ECC: true}, true
	case Case2:
		return hardware{l2ECC: true}, true
	case Case3:
		return hardware{l1VoltageScaled: true, retentionFlops: true, l2ECC: true}, true
	case Case4:
		return hardware{l1ECC: true, l1VoltageScaled: true, l2ECC: true}, true
	default:
		return hardware{}, false
	}
}

// Sample values from 45nm data. Power is fixed point, 100 ~ 1mW; FIT is
// normalized so that 1e6 FIT ~ 1.
var (
	sram32KBase       = [NumPStates]uint64{15864, 10669, 8818, 6879, 3634}
	sram32KBaseECC    = [NumPStates]uint64{20339, 13587, 11129, 8743, 4645}
	sram32KRet        = [NumPStates]uint64{1479, 1329, 1327, 1236, 1131}
	sram32KRetECC     = [NumPStates]uint64{1938, 1701, 1658, 1564, 1452}
	corePowerBase     = [NumPStates]uint64{46800, 30824, 26352, 19740, 8820}
	coreIdle1Power    = [NumPStates]uint64{37440, 24659, 21081, 15792, 7056}
	sramCellFIT       = [NumPStates]uint64{500, 545, 650, 745, 859}
	sramCellRetFIT    = [NumPStates]uint64{2000, 2180, 2600, 2980, 3436}
	flopCellFIT       = [NumPStates]uint64{153, 167, 199, 228, 263}
	retentionLatchFIT = uint64(500)
)

const (
	coreIdle2Power = 10
	flopCount      = 12000
	fitNorm        = 1000000
	l1Bits         = 2 * 32 * 1024
	l2Bits         = 256 * 1024
)

// New resolves a hardware variant into its rate table. It is a pure
// function: the same variant always yields the same table.
func New(v Variant) (*Table, error) {
	hw, ok := v.hardware()
	if !ok {
		return nil, fmt.Errorf("%w: no built-in table for %s", ErrConfig, v)
	}

	l1Base, l1Ret := sram32KBase, sram32KRet
	if hw.l1ECC {
		l1Base, l1Ret = sram32KBaseECC, sram32KRetECC
	}
	l2Base, l2Ret := sram32KBase, sram32KRet
	if hw.l2ECC {
		l2Base, l2Ret = sram32KBaseECC, sram32KRetECC
	}

	var l2FIT, l2RetFIT uint64
	if !hw.l2ECC {
		l2FIT = l2Bits * sramCellFIT[0] / fitNorm
		l2RetFIT = l2Bits * sramCellRetFIT[0] / fitNorm
	}
	l2Power := 8 * l2Base[0]
	l2RetPower := 8 * l2Ret[0]

	t := &Table{Variant: v, Idle2CorePower: coreIdle2Power}
	if hw.retentionFlops {
		t.Idle2CoreFIT = flopCount * retentionLatchFIT / fitNorm
	}

	for i := 0; i < NumPStates; i++ {
		// Without voltage scaling L1 always sits at the nominal point.
		l1 := 0
		if hw.l1VoltageScaled {
			l1 = i
		}

		var l1FIT, l1RetFIT uint64
		if !hw.l1ECC {
			l1FIT = l1Bits * sramCellFIT[l1] / fitNorm
			l1RetFIT = l1Bits * sramCellRetFIT[l1] / fitNorm
		}
		coreFIT := flopCount * flopCellFIT[i] / fitNorm

		t.States[i] = StateRates{
			CoreFIT:          coreFIT,
			CorePower:        corePowerBase[i],
			Idle1CoreFIT:     coreFIT,
			Idle1CorePower:   coreIdle1Power[i],
			MemFIT:           l1FIT + l2FIT,
			MemPower:         2*l1Base[l1] + l2Power,
			MemRetainedFIT:   l1RetFIT + l2RetFIT,
			MemRetainedPower: 2*l1Ret[l1] + l2RetPower,
		}
	}
	return t, nil
}

// Spec is a custom rate table as written in a configuration file. Every
// per-state list must have exactly NumPStates entries.
type Spec struct {
	CoreFIT          []uint64 `yaml:"core_fit" toml:"core_fit"`
	CorePower        []uint64 `yaml:"core_power" toml:"core_power"`
	Idle1CoreFIT     []uint64 `yaml:"idle1_core_fit" toml:"idle1_core_fit"`
	Idle1CorePower   []uint64 `yaml:"idle1_core_power" toml:"idle1_core_power"`
	MemFIT           []uint64 `yaml:"mem_fit" toml:"mem_fit"`
	MemPower         []uint64 `yaml:"mem_power" toml:"mem_power"`
	MemRetainedFIT   []uint64 `yaml:"mem_retained_fit" toml:"mem_retained_fit"`
	MemRetainedPower []uint64 `yaml:"mem_retained_power" toml:"mem_retained_power"`
	Idle2CoreFIT     uint64   `yaml:"idle2_core_fit" toml:"idle2_core_fit"`
	Idle2CorePower   uint64   `yaml:"idle2_core_power" toml:"idle2_core_power"`
}

// FromSpec builds a Custom table. Nothing is returned unless every list is
// complete.
func FromSpec(s Spec) (*Table, error) {
	lists := []struct {
		name string
		vals []uint64
	}{
		{"core_fit", s.CoreFIT},
		{"core_power", s.CorePower},
		{"idle1_core_fit", s.Idle1CoreFIT},
		{"idle1_core_power", s.Idle1CorePower},
		{"mem_fit", s.MemFIT},
		{"mem_power", s.MemPower},
		{"mem_retained_fit", s.MemRetainedFIT},
		{"mem_retained_power", s.MemRetainedPower},
	}
	for _, l := range lists {
		if len(l.vals) != NumPStates {
			return nil, fmt.Errorf("%w: %s has %d entries, want %d",
				ErrConfig, l.name, len(l.vals), NumPStates)
		}
	}

	t := &Table{
		Variant:        Custom,
		Idle2CoreFIT:   s.Idle2CoreFIT,
		Idle2CorePower: s.Idle2CorePower,
	}
	for i := 0; i < NumPStates; i++ {
		t.States[i] = StateRates{
			CoreFIT:          s.CoreFIT[i],
			CorePower:        s.CorePower[i],
			Idle1CoreFIT:     s.Idle1CoreFIT[i],
			Idle1CorePower:   s.Idle1CorePower[i],
			MemFIT:           s.MemFIT[i],
			MemPower:         s.MemPower[i],
			MemRetainedFIT:   s.MemRetainedFIT[i],
			MemRetainedPower: s.MemRetainedPower[i],
		}
	}
	return t, nil
}

// Row is the effective rate of one (state, category) pair.
type Row struct {
	State    PState
	Category IdleCategory
	CoreFIT  uint64
	MemFIT   uint64
	Power    uint64
}

// Rows lists the effective rates of every performance state in every
// category, with FIT scaled by the location factor (percent). Power is
// never scaled.
func (t *Table) Rows(locationFactor uint64) []Row {
	rows := make([]Row, 0, NumPStates*NumCategories)
	for c := Active; c <= Idle3; c++ {
		for p := PState(0); p < NumPStates; p++ {
			s := t.States[p]
			r := Row{State: p, Category: c}
			switch c {
			case Active:
				r.CoreFIT, r.MemFIT = s.CoreFIT, s.MemFIT
				r.Power = s.CorePower + s.MemPower
			case Idle1:
				r.CoreFIT, r.MemFIT = s.Idle1CoreFIT, s.MemFIT
				r.Power = s.Idle1CorePower + s.MemPower
			case Idle2:
				r.CoreFIT, r.MemFIT = t.Idle2CoreFIT, s.MemFIT
				r.Power = t.Idle2CorePower + s.MemPower
			case Idle3:
				r.CoreFIT, r.MemFIT = t.Idle2CoreFIT, s.MemRetainedFIT
				r.Power = t.Idle2CorePower + s.MemRetainedPower
			}
			r.CoreFIT = util.Percent(r.CoreFIT, locationFactor)
			r.MemFIT = util.Percent(r.MemFIT, locationFactor)
			rows = append(rows, r)
		}
	}
	return rows
}
