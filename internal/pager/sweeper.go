package pager

import (
	"context"
	"log"
	"time"
)

// Sweeper runs a per-shard clock (second-chance) eviction pass across a
// BufferPool on a fixed interval. Grounded on storage's BufferPool.evictLRU
// batch-eviction loop, generalized from "always evict the coldest" to a
// clock sweep: each pass walks a bounded number of candidates per shard,
// clearing the HOT bit on a first encounter and evicting only an entry
// that is already cold and unguarded on a second encounter.
type Sweeper struct {
	pool     *BufferPool
	tracker  *RevisionEpochTracker
	interval time.Duration
	logger   *log.Logger
}

// NewSweeper creates a Sweeper over pool, consulting tracker so eviction
// never discards a page revision a live reader can still see (spec.md
// §4.7.3, §8 scenario 3).
func NewSweeper(pool *BufferPool, tracker *RevisionEpochTracker, interval time.Duration) *Sweeper {
	return &Sweeper{pool: pool, tracker: tracker, interval: interval, logger: log.Default()}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.SweepOnce()
		}
	}
}

// SweepOnce runs a single clock pass over every shard, evicting cold,
// unguarded frames. Returns the number of frames evicted.
func (sw *Sweeper) SweepOnce() int {
	evicted := 0
	for _, s := range sw.pool.shards {
		evicted += sw.sweepShard(s)
	}
	return evicted
}

// sweepShard scans max(10, len/10) candidates starting from the shard's
// clock hand (spec.md §4.7.2). Stale keys (already removed from items) are
// dropped from clockKeys as they're encountered rather than in a separate
// pass.
func (sw *Sweeper) sweepShard(s *shard) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clockKeys) == 0 {
		return 0
	}
	candidates := len(s.clockKeys) / 10
	if candidates < 10 {
		candidates = 10
	}
	if candidates > len(s.clockKeys) {
		candidates = len(s.clockKeys)
	}

	evicted := 0
	scanned := 0
	for scanned < candidates && len(s.clockKeys) > 0 {
		if s.clockHand >= len(s.clockKeys) {
			s.clockHand = 0
		}
		key := s.clockKeys[s.clockHand]
		entry, ok := s.items[key]
		if !ok {
			// Stale entry; drop it from the ring without counting it as a
			// scanned candidate toward the bounded-pass budget.
			s.clockKeys = append(s.clockKeys[:s.clockHand], s.clockKeys[s.clockHand+1:]...)
			continue
		}

		page := entry.page
		if page.IsHot() {
			page.ClearHot()
			s.clockHand++
			scanned++
			continue
		}

		if page.GuardCount() > 0 {
			// Guarded: cannot evict regardless of hot state (spec.md
			// §4.7.3). Give it another lap.
			s.clockHand++
			scanned++
			continue
		}

		if min, ok := sw.tracker.MinActiveRevision(); ok && page.Revision >= min {
			// Still visible to a live reader's snapshot; give it another
			// lap instead of evicting (spec.md §4.7.3, §8 scenario 3).
			s.clockHand++
			scanned++
			continue
		}

		// Eviction, all under the per-key lock (spec.md §4.7.3 step 3):
		// bump the frame's version and reset it so any PageGuard acquired
		// against the old contents fails revalidation, clear the swizzled
		// pointer so the reference no longer names the dead frame, remove
		// the entry, and finally release the frame's slab memory.
		page.Reset()
		if entry.ref != nil {
			entry.ref.ClearSwizzle()
		}
		delete(s.items, key)
		s.clockKeys = append(s.clockKeys[:s.clockHand], s.clockKeys[s.clockHand+1:]...)
		page.Close()
		evicted++
		scanned++
	}

	return evicted
}
