package report

import (
	"cmp"
	"container/heap"
	"slices"

	"github.com/ethpandaops/edgeprof/internal/profile"
)

// DefaultTopTargets is the number of indirect targets emitted per block.
const DefaultTopTargets = 10

// Row is one ranked line of the report.
type Row struct {
	Block      profile.BlockID
	Executions uint64
	Taken      uint64
	// Fallthroughs is the fallthrough count for conditional blocks and
	// zero for every other block.
	Fallthroughs uint64
	// Targets holds the most frequent indirect targets, most frequent first.
	Targets []profile.TargetCount
}

// Builder ranks block snapshots into report rows.
type Builder struct {
	topTargets int
}

// NewBuilder creates a Builder that keeps at most topTargets indirect
// targets per block. Non-positive values select DefaultTopTargets.
func NewBuilder(topTargets int) *Builder {
	if topTargets <= 0 {
		topTargets = DefaultTopTargets
	}

	return &Builder{topTargets: topTargets}
}

// Build converts snapshots into rows ordered by execution count
// descending, ties broken by block address ascending. The result depends
// only on the snapshot contents, not on their order.
func (b *Builder) Build(snaps []profile.BlockSnapshot) []Row {
	rows := make([]Row, 0, len(snaps))

	for _, s := range snaps {
		row := Row{
			Block:      s.ID,
			Executions: s.Executions,
			Taken:      s.Taken,
			Targets:    topTargets(s.Targets, b.topTargets),
		}

		if s.Conditional {
			row.Fallthroughs = s.Fallthroughs
		}

		rows = append(rows, row)
	}

	slices.SortFunc(rows, func(x, y Row) int {
		if c := cmp.Compare(y.Executions, x.Executions); c != 0 {
			return c
		}

		return cmp.Compare(x.Block, y.Block)
	})

	return rows
}

// compareTargets orders targets by count descending, then address ascending.
func compareTargets(a, b profile.TargetCount) int {
	if c := cmp.Compare(b.Count, a.Count); c != 0 {
		return c
	}

	return cmp.Compare(a.Target, b.Target)
}

// topTargets returns the n highest-ranked targets, best first. Small
// histograms are sorted outright; larger ones go through a bounded heap
// so the cost stays O(len * log n).
func topTargets(targets []profile.TargetCount, n int) []profile.TargetCount {
	if len(targets) == 0 {
		return nil
	}

	if len(targets) <= n {
		out := slices.Clone(targets)
		slices.SortFunc(out, compareTargets)

		return out
	}

	h := make(worstFirst, n)
	copy(h, targets[:n])
	heap.Init(&h)

	for _, t := range targets[n:] {
		if compareTargets(t, h[0]) < 0 {
			h[0] = t
			heap.Fix(&h, 0)
		}
	}

	out := []profile.TargetCount(h)
	slices.SortFunc(out, compareTargets)

	return out
}

// worstFirst is a heap whose root is the lowest-ranked target kept so far.
type worstFirst []profile.TargetCount

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return compareTargets(h[i], h[j]) > 0 }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *worstFirst) Push(x any) { *h = append(*h, x.(profile.TargetCount)) }

func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]

	return x
}
