package ratetable

import (
	"fmt"
	"slices"
)

// Classifier maps a raw cpufreq frequency (kHz) to a performance state.
type Classifier struct {
	freqs []uint64 // descending, index == PState
}

// NewClassifier builds a classifier from the host's supported frequency
// set. Duplicates are dropped and the set is ordered from fastest to
// slowest; exactly NumPStates distinct frequencies are required.
func NewClassifier(freqs []uint64) (*Classifier, error) {
	uniq := slices.Clone(freqs)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)
	slices.Reverse(uniq)

	if len(uniq) != NumPStates {
		return nil, fmt.Errorf("%w: %d distinct frequencies, want %d",
			ErrConfig, len(uniq), NumPStates)
	}
	if uniq[len(uniq)-1] == 0 {
		return nil, fmt.Errorf("%w: zero frequency in table", ErrConfig)
	}
	return &Classifier{freqs: uniq}, nil
}

// Classify returns the state whose frequency equals freq exactly.
func (c *Classifier) Classify(freq uint64) (PState, error) {
	for i, f := range c.freqs {
		if f == freq {
			return PState(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %d kHz", ErrLookup, freq)
}

// Frequency returns the frequency of p, or 0 if p is out of range.
func (c *Classifier) Frequency(p PState) uint64 {
	if !p.Valid() {
		return 0
	}
	return c.freqs[p]
}

// Frequencies returns a copy of the ordered frequency set.
func (c *Classifier) Frequencies() []uint64 { return slices.Clone(c.freqs) }
