//go:build linux

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemSummary(t *testing.T) {
	host, kernel, cpus, mem := SystemSummary()
	t.Logf("host=%s kernel=%s cpus=%s mem=%s", host, kernel, cpus, mem)
	assert.NotEmpty(t, host)
	assert.NotEmpty(t, kernel)
	assert.NotEqual(t, "0", cpus)
	assert.NotEmpty(t, mem)
}

func TestMemTotalKB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meminfo")
	require.NoError(t, os.WriteFile(path, []byte("MemTotal:       16318480 kB\nMemFree: 1 kB\n"), 0o644))

	kb, err := memTotalKB(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(16318480), kb)

	require.NoError(t, os.WriteFile(path, []byte("MemFree: 1 kB\n"), 0o644))
	_, err = memTotalKB(path)
	assert.Error(t, err)
}
