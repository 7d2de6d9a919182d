package profile

import (
	"fmt"
	"sync/atomic"
)

// Op identifies a recording operation for accounting purposes.
type Op uint8

const (
	OpBlockExecuted     Op = 0
	OpBranchTaken       Op = 1
	OpBranchFallthrough Op = 2
	OpIndirectTaken     Op = 3
	OpIndirectNotTaken  Op = 4
	OpMarkConditional   Op = 5
	OpLate              Op = 6
)

const maxOp = OpLate

// String returns the metric label of the operation.
func (o Op) String() string {
	switch o {
	case OpBlockExecuted:
		return "block_executed"
	case OpBranchTaken:
		return "branch_taken"
	case OpBranchFallthrough:
		return "branch_fallthrough"
	case OpIndirectTaken:
		return "indirect_taken"
	case OpIndirectNotTaken:
		return "indirect_not_taken"
	case OpMarkConditional:
		return "mark_conditional"
	case OpLate:
		return "late"
	default:
		return fmt.Sprintf("unknown(%d)", o)
	}
}

// OpStats provides lock-free per-Op counters. The zero value is ready
// to use. Drain atomically reads and resets all counters, making it
// suitable for periodic publishing without contention.
type OpStats struct {
	counts [maxOp + 1]atomic.Uint64
}

// Record increments the counter for the given operation by one.
func (s *OpStats) Record(o Op) {
	if o > maxOp {
		return
	}

	s.counts[o].Add(1)
}

// Drain atomically reads and resets all counters, returning
// a map of only non-zero entries.
func (s *OpStats) Drain() map[Op]uint64 {
	result := make(map[Op]uint64, maxOp+1)
	s.drainInto(result)

	return result
}

// drainInto resets all counters, adding the non-zero ones to dst.
func (s *OpStats) drainInto(dst map[Op]uint64) {
	for i := range s.counts {
		if v := s.counts[i].Swap(0); v > 0 {
			dst[Op(i)] += v
		}
	}
}
