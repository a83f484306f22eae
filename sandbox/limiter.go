package sandbox

import (
	"fmt"

	"github.com/caffeineduck/pybox/internal/wasmbin"
	"github.com/tetratelabs/wazero/experimental"
)

// Default resource caps.
const (
	DefaultMemoryCap uint64 = 40 << 20 // 40 MiB
	DefaultTableCap  uint32 = 1024
)

// ResourceLimiter decides whether a guest may grow its linear memory or
// tables. It holds no state beyond the caps.
type ResourceLimiter struct {
	MemoryCap uint64 // bytes
	TableCap  uint32 // entries
}

// DefaultLimiter returns a limiter with the default caps.
func DefaultLimiter() ResourceLimiter {
	return ResourceLimiter{MemoryCap: DefaultMemoryCap, TableCap: DefaultTableCap}
}

// MemoryGrowthAllowed reports whether linear memory may reach desired bytes.
func (l ResourceLimiter) MemoryGrowthAllowed(desired uint64) bool {
	return desired <= l.MemoryCap
}

// TableGrowthAllowed reports whether a table may reach desired entries.
func (l ResourceLimiter) TableGrowthAllowed(desired uint32) bool {
	return desired <= l.TableCap
}

// Allocate implements experimental.MemoryAllocator. wazero calls it once per
// memory of a module instance; the returned memory consults the limiter on
// every reallocation, so a refused growth surfaces as memory.grow == -1.
func (l ResourceLimiter) Allocate(capacity, max uint64) experimental.LinearMemory {
	if capacity > l.MemoryCap {
		capacity = l.MemoryCap
	}
	return &limitedMemory{
		limiter: l,
		max:     max,
		buf:     make([]byte, 0, capacity),
	}
}

// checkModule validates the initial sizes a module declares for its
// memories and tables. Table growth is bounded separately: boundTables lowers
// each declared maximum to the cap so the engine refuses table.grow past it.
func (l ResourceLimiter) checkModule(limits wasmbin.Limits) error {
	for i, m := range limits.Memories {
		if !l.MemoryGrowthAllowed(uint64(m.Min) * wasmbin.PageSize) {
			return fmt.Errorf("memory %d: initial size %d pages exceeds cap of %d bytes", i, m.Min, l.MemoryCap)
		}
	}
	for i, t := range limits.Tables {
		if !l.TableGrowthAllowed(t.Min) {
			return fmt.Errorf("table %d: initial size %d exceeds cap of %d entries", i, t.Min, l.TableCap)
		}
	}
	return nil
}

// boundTables checks mod against the caps and rewrites its tables so none
// can grow past TableCap.
func (l ResourceLimiter) boundTables(mod *wasmbin.Module) error {
	if err := l.checkModule(mod.Limits()); err != nil {
		return err
	}
	return mod.CapTables(l.TableCap)
}

type limitedMemory struct {
	limiter ResourceLimiter
	max     uint64
	buf     []byte
}

func (m *limitedMemory) Reallocate(size uint64) []byte {
	if size > m.max || !m.limiter.MemoryGrowthAllowed(size) {
		return nil
	}
	if c := uint64(cap(m.buf)); size > c {
		m.buf = append(m.buf[:c], make([]byte, size-c)...)
	} else {
		m.buf = m.buf[:size]
	}
	return m.buf
}

func (m *limitedMemory) Free() {
	m.buf = nil
}
