package backend

import (
	"errors"
	"fmt"
)

// ErrMemoryBudgetExceeded is returned when a buffer allocation would exceed
// the memory budget.
var ErrMemoryBudgetExceeded = errors.New("backend: memory budget exceeded")

// MemoryStats contains buffer memory usage statistics.
type MemoryStats struct {
	// BudgetBytes is the memory budget in bytes. Zero means unlimited.
	BudgetBytes uint64

	// UsedBytes is the total size of live buffers.
	UsedBytes uint64

	// PeakBytes is the highest UsedBytes seen.
	PeakBytes uint64

	// Buffers is the number of live buffers.
	Buffers int

	// Rejected counts allocations refused for lack of budget.
	Rejected uint64
}

// Utilization returns the fraction of the budget in use (0.0 to 1.0), or 0
// when the budget is unlimited.
func (s MemoryStats) Utilization() float64 {
	if s.BudgetBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.BudgetBytes)
}

// String returns a human-readable string of memory stats.
func (s MemoryStats) String() string {
	if s.BudgetBytes == 0 {
		return fmt.Sprintf("Memory[%d KB used, unlimited, %d buffers, %d rejected]",
			s.UsedBytes/1024, s.Buffers, s.Rejected)
	}
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d KB, %d buffers, %d rejected]",
		s.Utilization()*100, s.UsedBytes/1024, s.BudgetBytes/1024, s.Buffers, s.Rejected)
}

// memoryBudget tracks buffer bytes against an optional limit. Unlike a
// cache it never evicts: live buffers belong to callers.
type memoryBudget struct {
	limit    uint64
	used     uint64
	peak     uint64
	count    int
	rejected uint64
}

func (m *memoryBudget) reserve(size uint64) error {
	if m.limit != 0 && m.used+size > m.limit {
		m.rejected++
		return fmt.Errorf("%w: need %d bytes, %d of %d in use",
			ErrMemoryBudgetExceeded, size, m.used, m.limit)
	}
	m.used += size
	m.count++
	m.peak = max(m.peak, m.used)
	return nil
}

func (m *memoryBudget) release(size uint64) {
	m.used -= min(size, m.used)
	if m.count > 0 {
		m.count--
	}
}

func (m *memoryBudget) stats() MemoryStats {
	return MemoryStats{
		BudgetBytes: m.limit,
		UsedBytes:   m.used,
		PeakBytes:   m.peak,
		Buffers:     m.count,
		Rejected:    m.rejected,
	}
}
