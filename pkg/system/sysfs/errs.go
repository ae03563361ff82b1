package sysfs

import "errors"

var (
	// ErrMalformed indicates that a sysfs attribute did not hold the expected
	// number or list.
	ErrMalformed = errors.New("sysfs: malformed attribute")

	// ErrNoFrequencies indicates that cpufreq exposes no frequency table for
	// the cpu (e.g. intel_pstate in active mode).
	ErrNoFrequencies = errors.New("sysfs: no available frequencies")

	// ErrNoIdleStates indicates that the cpu has no cpuidle directory.
	ErrNoIdleStates = errors.New("sysfs: no cpuidle states")
)
