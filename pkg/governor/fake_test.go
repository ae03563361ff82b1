package governor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ja7ad/refit/pkg/budget"
	"github.com/ja7ad/refit/pkg/ratetable"
	"github.com/stretchr/testify/require"
)

var (
	t0       = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	errNoDev = errors.New("device gone")
	ladder   = []uint64{2_000_000, 1_800_000, 1_600_000, 1_400_000, 1_200_000}
)

type fakeCPU struct {
	freqs []uint64
	cur   uint64
	res   [ratetable.NumIdle]uint64
	idle  int
	err   error // returned by IdleResidency
}

// fakeHost is an in-memory Telemetry with a manual clock.
type fakeHost struct {
	mu   sync.Mutex
	cpus map[int]*fakeCPU
	now  time.Time
}

func newFakeHost(cpus ...int) *fakeHost {
	h := &fakeHost{cpus: make(map[int]*fakeCPU), now: t0}
	for _, cpu := range cpus {
		h.cpus[cpu] = &fakeCPU{freqs: ladder, cur: ladder[0], idle: ratetable.NumIdle}
	}
	return h
}

func (h *fakeHost) cpu(cpu int) (*fakeCPU, error) {
	c, ok := h.cpus[cpu]
	if !ok {
		return nil, fmt.Errorf("cpu%d: %w", cpu, errNoDev)
	}
	return c, nil
}

func (h *fakeHost) Frequencies(cpu int) ([]uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.cpu(cpu)
	if err != nil {
		return nil, err
	}
	return c.freqs, nil
}

func (h *fakeHost) CurrentFrequency(cpu int) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.cpu(cpu)
	if err != nil {
		return 0, err
	}
	return c.cur, nil
}

func (h *fakeHost) IdleResidency(cpu int) ([ratetable.NumIdle]uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.cpu(cpu)
	if err != nil {
		return [ratetable.NumIdle]uint64{}, err
	}
	if c.err != nil {
		return [ratetable.NumIdle]uint64{}, c.err
	}
	return c.res, nil
}

func (h *fakeHost) IdleStateCount(cpu int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.cpu(cpu)
	if err != nil {
		return 0, err
	}
	return c.idle, nil
}

func (h *fakeHost) set(cpu int, fn func(c *fakeCPU)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.cpus[cpu])
}

func (h *fakeHost) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *fakeHost) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// linearTable has core FIT 10..50 and a static core target of 250.
func linearTable(t *testing.T) *ratetable.Table {
	t.Helper()
	tbl, err := ratetable.FromSpec(ratetable.Spec{
		CoreFIT:          []uint64{10, 20, 30, 40, 50},
		CorePower:        []uint64{500, 400, 300, 200, 100},
		Idle1CoreFIT:     []uint64{8, 16, 24, 32, 40},
		Idle1CorePower:   []uint64{50, 40, 30, 20, 10},
		MemFIT:           []uint64{1, 2, 3, 4, 5},
		MemPower:         []uint64{9, 8, 7, 6, 5},
		MemRetainedFIT:   []uint64{11, 12, 13, 14, 15},
		MemRetainedPower: []uint64{3, 3, 3, 3, 3},
		Idle2CoreFIT:     7,
		Idle2CorePower:   2,
	})
	require.NoError(t, err)
	return tbl
}

func options(h *fakeHost, tbl *ratetable.Table, mode budget.Mode) Options {
	return Options{
		Table:       tbl,
		Mode:        mode,
		CycleLength: time.Millisecond,
		Tracing:     true,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Clock:       h.clock,
	}
}
