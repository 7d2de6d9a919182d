package trace

import (
	"fmt"

	"github.com/ethpandaops/edgeprof/internal/profile"
)

// Kind identifies which instrumentation callback an event stands for.
type Kind uint8

const (
	KindBlockExecuted     Kind = 1
	KindBranchTaken       Kind = 2
	KindBranchFallthrough Kind = 3
	KindIndirectBranch    Kind = 4
	KindMarkConditional   Kind = 5
)

// String returns the human-readable name of the event kind.
func (k Kind) String() string {
	switch k {
	case KindBlockExecuted:
		return "block_executed"
	case KindBranchTaken:
		return "branch_taken"
	case KindBranchFallthrough:
		return "branch_fallthrough"
	case KindIndirectBranch:
		return "indirect_branch"
	case KindMarkConditional:
		return "mark_conditional"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Recorder receives instrumentation callbacks. It is implemented by
// *profile.Store.
type Recorder interface {
	RecordBlockExecuted(id profile.BlockID)
	RecordBranchTaken(id profile.BlockID)
	RecordBranchFallthrough(id profile.BlockID)
	RecordIndirectBranch(src profile.BlockID, target uint64, taken bool)
	MarkConditionalBranch(id profile.BlockID)
}

// Event is one recorded instrumentation callback.
type Event struct {
	Kind Kind `msgpack:"k"`
	// Thread is the execution context that made the call. Events of the
	// same thread are replayed in order.
	Thread uint32 `msgpack:"t"`
	Block  uint64 `msgpack:"b"`
	// Target and Taken are only meaningful for KindIndirectBranch.
	Target uint64 `msgpack:"a,omitempty"`
	Taken  bool   `msgpack:"x,omitempty"`
}

// Validate reports whether the event has a known kind.
func (e Event) Validate() error {
	if e.Kind < KindBlockExecuted || e.Kind > KindMarkConditional {
		return fmt.Errorf("unknown event kind %d", e.Kind)
	}

	return nil
}

// Apply invokes the callback e stands for on r.
func (e Event) Apply(r Recorder) error {
	id := profile.BlockID(e.Block)

	switch e.Kind {
	case KindBlockExecuted:
		r.RecordBlockExecuted(id)
	case KindBranchTaken:
		r.RecordBranchTaken(id)
	case KindBranchFallthrough:
		r.RecordBranchFallthrough(id)
	case KindIndirectBranch:
		r.RecordIndirectBranch(id, e.Target, e.Taken)
	case KindMarkConditional:
		r.MarkConditionalBranch(id)
	default:
		return fmt.Errorf("unknown event kind %d", e.Kind)
	}

	return nil
}

// BlockExecuted returns a KindBlockExecuted event.
func BlockExecuted(thread uint32, block uint64) Event {
	return Event{Kind: KindBlockExecuted, Thread: thread, Block: block}
}

// BranchTaken returns a KindBranchTaken event.
func BranchTaken(thread uint32, block uint64) Event {
	return Event{Kind: KindBranchTaken, Thread: thread, Block: block}
}

// BranchFallthrough returns a KindBranchFallthrough event.
func BranchFallthrough(thread uint32, block uint64) Event {
	return Event{Kind: KindBranchFallthrough, Thread: thread, Block: block}
}

// IndirectBranch returns a KindIndirectBranch event.
func IndirectBranch(thread uint32, src, target uint64, taken bool) Event {
	return Event{
		Kind:   KindIndirectBranch,
		Thread: thread,
		Block:  src,
		Target: target,
		Taken:  taken,
	}
}

// MarkConditional returns a KindMarkConditional event.
func MarkConditional(thread uint32, block uint64) Event {
	return Event{Kind: KindMarkConditional, Thread: thread, Block: block}
}
