//go:build linux

package sysfs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ja7ad/refit/pkg/system/util"
)

// DefaultRoot is where the kernel exposes per-cpu attributes.
const DefaultRoot = "/sys/devices/system/cpu"

// Root returns the cpu sysfs directory. REFIT_SYSFS_ROOT overrides it, which
// lets tests point the readers at a fabricated tree.
func Root() string {
	if r := os.Getenv("REFIT_SYSFS_ROOT"); r != "" {
		return r
	}
	return DefaultRoot
}

func cpuDir(root string, cpu int) string {
	return filepath.Join(root, fmt.Sprintf("cpu%d", cpu))
}

// ReadUint reads a single unsigned decimal attribute.
func ReadUint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", ErrMalformed, path, s)
	}
	return v, nil
}

// ReadString reads a single-line attribute with surrounding space trimmed.
func ReadString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ReadAvailableFrequencies parses scaling_available_frequencies of cpu.
// Order is whatever the driver reports.
func ReadAvailableFrequencies(root string, cpu int) ([]uint64, error) {
	path := filepath.Join(cpuDir(root, cpu), "cpufreq", "scaling_available_frequencies")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: cpu%d", ErrNoFrequencies, cpu)
		}
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var out []uint64
	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		v, err := strconv.ParseUint(sc.Text(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q", ErrMalformed, path, sc.Text())
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: cpu%d", ErrNoFrequencies, cpu)
	}
	return out, nil
}

// ReadCurrentFrequency returns scaling_cur_freq of cpu in kHz.
func ReadCurrentFrequency(root string, cpu int) (uint64, error) {
	return ReadUint(filepath.Join(cpuDir(root, cpu), "cpufreq", "scaling_cur_freq"))
}

// ReadDriver returns the cpufreq driver bound to cpu.
func ReadDriver(root string, cpu int) (string, error) {
	return ReadString(filepath.Join(cpuDir(root, cpu), "cpufreq", "scaling_driver"))
}

// ReadIdleStates lists the cpuidle state indexes of cpu in ascending order.
func ReadIdleStates(root string, cpu int) ([]int, error) {
	dir := filepath.Join(cpuDir(root, cpu), "cpuidle")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: cpu%d", ErrNoIdleStates, cpu)
		}
		return nil, err
	}
	var out []int
	for _, e := range entries {
		name, ok := strings.CutPrefix(e.Name(), "state")
		if !ok || !e.IsDir() {
			continue
		}
		if k, err := strconv.Atoi(name); err == nil {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: cpu%d", ErrNoIdleStates, cpu)
	}
	slices.Sort(out)
	return out, nil
}

// ReadIdleTime returns the cumulative residency of idle state k in µs.
func ReadIdleTime(root string, cpu, k int) (uint64, error) {
	return ReadUint(filepath.Join(cpuDir(root, cpu), "cpuidle", fmt.Sprintf("state%d", k), "time"))
}

// ReadIdleName returns the name of idle state k, e.g. "C1E".
func ReadIdleName(root string, cpu, k int) (string, error) {
	return ReadString(filepath.Join(cpuDir(root, cpu), "cpuidle", fmt.Sprintf("state%d", k), "name"))
}

// OnlineCPUs parses the online cpu list.
func OnlineCPUs(root string) ([]int, error) {
	s, err := ReadString(filepath.Join(root, "online"))
	if err != nil {
		return nil, err
	}
	return util.ParseCPUList(s)
}
