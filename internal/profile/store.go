package profile

import (
	"cmp"
	"errors"
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Config configures the counter store.
type Config struct {
	// Shards is the number of independently locked partitions of the
	// block map. Must be a power of two. Defaults to 64.
	Shards int `yaml:"shards"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Shards: 64,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Shards <= 0 {
		return errors.New("store.shards must be positive")
	}

	if c.Shards&(c.Shards-1) != 0 {
		return errors.New("store.shards must be a power of two")
	}

	return nil
}

// shard is one partition of the block map. Each shard counts the
// operations that land on it, so recording never touches state shared
// with other shards.
type shard struct {
	mu     sync.RWMutex
	blocks map[BlockID]*BlockRecord
	stats  OpStats

	// Keeps neighbouring shards' counters off this shard's cache lines.
	_ [64]byte
}

// Store accumulates per-block execution and branch statistics.
//
// Recording methods are safe for concurrent use and never block on I/O.
// A Store is live until Freeze is called; afterwards recording calls are
// rejected and counted as late, and the contents are immutable.
type Store struct {
	log    logrus.FieldLogger
	shards []shard
	shift  uint
	frozen atomic.Bool
}

// NewStore creates an empty, live Store.
func NewStore(log logrus.FieldLogger, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		log:    log.WithField("component", "store"),
		shards: make([]shard, cfg.Shards),
		shift:  uint(64 - bits.TrailingZeros(uint(cfg.Shards))),
	}

	for i := range s.shards {
		s.shards[i].blocks = make(map[BlockID]*BlockRecord, 256)
	}

	return s, nil
}

// shardFor picks a shard with a Fibonacci hash of the block address so
// that aligned addresses still spread across shards.
func (s *Store) shardFor(id BlockID) *shard {
	if len(s.shards) == 1 {
		return &s.shards[0]
	}

	h := uint64(id) * 0x9E3779B97F4A7C15

	return &s.shards[h>>s.shift]
}

// record returns the shard holding id and the BlockRecord for id,
// creating the record on first reference. The record is nil if the store
// has been frozen.
func (s *Store) record(id BlockID) (*shard, *BlockRecord) {
	sh := s.shardFor(id)

	if s.frozen.Load() {
		sh.stats.Record(OpLate)

		return sh, nil
	}

	return sh, getOrCreate(&sh.mu, sh.blocks, id, NewBlockRecord)
}

// RecordBlockExecuted counts one entry into block id.
func (s *Store) RecordBlockExecuted(id BlockID) {
	sh, r := s.record(id)
	if r == nil {
		return
	}

	r.executions.Add(1)
	sh.stats.Record(OpBlockExecuted)
}

// RecordBranchTaken counts one taken resolution of the branch ending id.
func (s *Store) RecordBranchTaken(id BlockID) {
	sh, r := s.record(id)
	if r == nil {
		return
	}

	r.taken.Add(1)
	sh.stats.Record(OpBranchTaken)
}

// RecordBranchFallthrough counts one fallthrough resolution of the branch
// ending id.
func (s *Store) RecordBranchFallthrough(id BlockID) {
	sh, r := s.record(id)
	if r == nil {
		return
	}

	r.fallthroughs.Add(1)
	sh.stats.Record(OpBranchFallthrough)
}

// RecordIndirectBranch counts a taken indirect branch from src to target.
// Not-taken resolutions leave the store untouched.
func (s *Store) RecordIndirectBranch(src BlockID, target uint64, taken bool) {
	if !taken {
		s.shardFor(src).stats.Record(OpIndirectNotTaken)

		return
	}

	sh, r := s.record(src)
	if r == nil {
		return
	}

	r.addTarget(target)
	sh.stats.Record(OpIndirectTaken)
}

// MarkConditionalBranch flags id as ending in a conditional direct branch.
// The flag is never cleared.
func (s *Store) MarkConditionalBranch(id BlockID) {
	sh, r := s.record(id)
	if r == nil {
		return
	}

	r.conditional.Store(true)
	sh.stats.Record(OpMarkConditional)
}

// Freeze ends the live phase. It is idempotent and reports whether this
// call performed the transition. Callers must stop recording before
// freezing; a call racing with Freeze may still be applied.
func (s *Store) Freeze() bool {
	if !s.frozen.CompareAndSwap(false, true) {
		return false
	}

	s.log.WithField("blocks", s.Len()).Debug("Store frozen")

	return true
}

// Len returns the number of distinct blocks recorded.
func (s *Store) Len() int {
	n := 0

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.blocks)
		sh.mu.RUnlock()
	}

	return n
}

// DrainStats atomically reads and resets the per-operation counters of
// every shard, returning their non-zero totals.
func (s *Store) DrainStats() map[Op]uint64 {
	result := make(map[Op]uint64, maxOp+1)

	for i := range s.shards {
		s.shards[i].stats.drainInto(result)
	}

	return result
}

// Snapshot returns a copy of every block record ordered by block address.
// It is intended for use after Freeze; calling it on a live store returns
// a point-in-time view where each record is internally consistent per
// field only.
func (s *Store) Snapshot() []BlockSnapshot {
	out := make([]BlockSnapshot, 0, s.Len())

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()

		for id, r := range sh.blocks {
			out = append(out, r.Snapshot(id))
		}

		sh.mu.RUnlock()
	}

	slices.SortFunc(out, func(a, b BlockSnapshot) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return out
}
