package crawl

import (
	"sync"

	"github.com/groblegark/crawlgraph/internal/model"
)

// MemoryBank hands out the run-scoped memory shared by all workers in this
// process. Memory is process-local: it holds raw secret values that must
// never reach the store, so it cannot be externalized.
type MemoryBank struct {
	mu   sync.Mutex
	runs map[string]*model.RunMemory
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{runs: make(map[string]*model.RunMemory)}
}

// For returns the memory for a run, creating it on first use.
func (b *MemoryBank) For(runID string) *model.RunMemory {
	b.mu.Lock()
	defer b.mu.Unlock()
	mem, ok := b.runs[runID]
	if !ok {
		mem = model.NewRunMemory()
		b.runs[runID] = mem
	}
	return mem
}

// Drop releases a run's memory once the run is terminal.
func (b *MemoryBank) Drop(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.runs, runID)
}
