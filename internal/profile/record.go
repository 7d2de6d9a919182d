package profile

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// BlockID identifies a basic block by its start address.
type BlockID uint64

// String returns the block address in lower-case hex without a prefix.
func (b BlockID) String() string {
	return fmt.Sprintf("%x", uint64(b))
}

// BlockRecord holds the accumulated statistics of one basic block.
// All operations are atomic and safe for concurrent use.
type BlockRecord struct {
	executions   atomic.Uint64
	taken        atomic.Uint64
	fallthroughs atomic.Uint64
	conditional  atomic.Bool
	// targets is nil until the first taken indirect branch.
	targets atomic.Pointer[TargetHistogram]
}

// NewBlockRecord creates a zeroed BlockRecord.
func NewBlockRecord() *BlockRecord {
	return &BlockRecord{}
}

// addTarget counts one taken indirect branch to target, creating the
// histogram on first use.
func (r *BlockRecord) addTarget(target uint64) {
	h := r.targets.Load()
	if h == nil {
		h = newTargetHistogram()
		if !r.targets.CompareAndSwap(nil, h) {
			h = r.targets.Load()
		}
	}

	h.Add(target)
}

// targetCounts returns a copy of the indirect-target histogram, or nil if
// no indirect branch was taken from the block.
func (r *BlockRecord) targetCounts() []TargetCount {
	h := r.targets.Load()
	if h == nil {
		return nil
	}

	return h.Snapshot()
}

// BlockSnapshot is a plain-value copy of a BlockRecord.
type BlockSnapshot struct {
	ID           BlockID
	Executions   uint64
	Taken        uint64
	Fallthroughs uint64
	Conditional  bool
	// Targets is in no particular order.
	Targets []TargetCount
}

// Snapshot returns the current statistics of the record.
func (r *BlockRecord) Snapshot(id BlockID) BlockSnapshot {
	return BlockSnapshot{
		ID:           id,
		Executions:   r.executions.Load(),
		Taken:        r.taken.Load(),
		Fallthroughs: r.fallthroughs.Load(),
		Conditional:  r.conditional.Load(),
		Targets:      r.targetCounts(),
	}
}

// TargetCount is one entry of an indirect-target histogram.
type TargetCount struct {
	Target uint64
	Count  uint64
}

// TargetHistogram counts how often each indirect-branch target was taken.
// It is unbounded; selection of the most frequent targets happens at
// report time.
type TargetHistogram struct {
	mu     sync.RWMutex
	counts map[uint64]*atomic.Uint64
}

func newTargetHistogram() *TargetHistogram {
	return &TargetHistogram{
		counts: make(map[uint64]*atomic.Uint64, 4),
	}
}

// Add increments the count for target by one.
func (h *TargetHistogram) Add(target uint64) {
	c := getOrCreate(&h.mu, h.counts, target, newCounter)
	c.Add(1)
}

// Snapshot returns a copy of all target counts.
func (h *TargetHistogram) Snapshot() []TargetCount {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.counts) == 0 {
		return nil
	}

	out := make([]TargetCount, 0, len(h.counts))
	for target, c := range h.counts {
		out = append(out, TargetCount{Target: target, Count: c.Load()})
	}

	return out
}

func newCounter() *atomic.Uint64 {
	return new(atomic.Uint64)
}

// getOrCreate returns the value for key, creating it with newFn if it
// doesn't exist. Uses double-checked locking so that exactly one value is
// ever created per key.
func getOrCreate[K comparable, V any](
	mu *sync.RWMutex,
	m map[K]*V,
	key K,
	newFn func() *V,
) *V {
	mu.RLock()
	v, ok := m[key]
	mu.RUnlock()

	if ok {
		return v
	}

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock.
	if v, ok = m[key]; ok {
		return v
	}

	v = newFn()
	m[key] = v

	return v
}
