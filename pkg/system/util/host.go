//go:build linux

package util

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// SystemSummary returns hostname, kernel release, logical cpu count and
// total memory for a report header. Unreadable fields are "unknown".
func SystemSummary() (host, kernel, cpus, mem string) {
	host, kernel, mem = "unknown", "unknown", "unknown"
	if h, err := os.Hostname(); err == nil {
		host = h
	}
	if b, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		kernel = strings.TrimSpace(string(b))
	}
	cpus = strconv.Itoa(runtime.NumCPU())
	if kb, err := memTotalKB("/proc/meminfo"); err == nil {
		mem = fmt.Sprintf("%.1f GiB", float64(kb)/(1024*1024))
	}
	return host, kernel, cpus, mem
}

func memTotalKB(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fs := strings.Fields(sc.Text())
		if len(fs) >= 2 && fs[0] == "MemTotal:" {
			return strconv.ParseUint(fs[1], 10, 64)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no MemTotal in %s", path)
}
