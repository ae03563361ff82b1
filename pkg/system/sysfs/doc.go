// Package sysfs reads per-cpu frequency and idle telemetry from the Linux
// cpufreq and cpuidle sysfs interfaces. Collector implements
// governor.Telemetry.
//
// Layout, relative to Root():
//
//	online                                     cpu list, e.g. "0-3,6"
//	cpuN/cpufreq/scaling_available_frequencies kHz, space separated
//	cpuN/cpufreq/scaling_cur_freq              kHz
//	cpuN/cpufreq/scaling_driver                driver name
//	cpuN/cpuidle/stateK/time                   cumulative µs in state K
//	cpuN/cpuidle/stateK/name                   state name
//
// state0 is the polling loop and is treated as Active; state1..state3 map
// to the three idle categories.
//
// Root defaults to /sys/devices/system/cpu and can be overridden with
// REFIT_SYSFS_ROOT, which is how the tests run against a fake tree.
//
// Package import path: github.com/ja7ad/refit/pkg/system/sysfs
package sysfs
