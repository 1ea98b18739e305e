package pager

import (
	"log"
	"sync"
)

// defaultShardCount is the number of independent shards the buffer pool
// splits its key space across when no explicit count is configured,
// bounding lock contention under concurrent access (spec.md §4.7).
const defaultShardCount = 64

// poolEntry pairs a cached page with the PageReference whose swizzled
// pointer names it, so the sweeper can clear the swizzle under the same
// per-key lock it evicts under (spec.md §4.7.3, §9).
type poolEntry struct {
	page *KeyValueLeafPage
	ref  *PageReference
}

// shard is one partition of the buffer pool's key space, holding its own
// lock so independent keys never contend. Grounded on storage's
// BufferPool.cache (tenant/table map) and LRUQueue, generalized from an
// LRU doubly-linked list to a clock ring (clockKeys + clockHand) so the
// sweeper can run a bounded second-chance scan per pass instead of always
// evicting the single coldest entry.
type shard struct {
	mu        sync.Mutex
	items     map[Key]*poolEntry
	clockKeys []Key
	clockHand int
}

func newShard() *shard {
	return &shard{items: make(map[Key]*poolEntry)}
}

// BufferPool is the sharded page cache sitting in front of the fragment
// store. Readers and writers obtain pages exclusively through GetAndGuard
// or PutIfAbsent so that an acquired PageGuard always prevents concurrent
// eviction of the frame it names.
type BufferPool struct {
	shards  []*shard
	logger  *log.Logger
	maxSize int // per-shard capacity as configured; stored only, never enforced
}

// NewBufferPool creates an empty sharded buffer pool. maxPerShard is
// recorded but bounds nothing: neither the pool nor the sweeper reads it,
// and a shard's size is limited only by what sweep passes evict. A
// non-positive shardCount selects
// the default of 64 (spec.md §6's shard_count option).
func NewBufferPool(shardCount, maxPerShard int) *BufferPool {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	bp := &BufferPool{
		shards:  make([]*shard, shardCount),
		logger:  log.Default(),
		maxSize: maxPerShard,
	}
	for i := range bp.shards {
		bp.shards[i] = newShard()
	}
	return bp
}

func (bp *BufferPool) shardFor(k Key) *shard {
	h := k.DatabaseID*1099511628211 ^ k.ResourceID*16777619 ^ uint64(k.PageKey)*2654435761 ^ uint64(uint32(k.LogKey))
	return bp.shards[h%uint64(len(bp.shards))]
}

// GetAndGuard looks up key and, if present and not already closed,
// atomically acquires a guard on the page before releasing the shard lock.
// This is the only correct way to hand a page to a caller: checking
// presence and acquiring a guard as two separate steps would let a sweep
// pass evict the frame in between (spec.md §4.7.3's "guard prevents
// eviction under race" property). A closed entry (e.g. one whose ownership
// already transferred elsewhere) is reported as a miss rather than handed
// out as a live guard (spec.md §4.7.1's get_and_guard contract).
func (bp *BufferPool) GetAndGuard(key Key) (*PageGuard, bool) {
	s := bp.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok || e.page.IsClosed() {
		return nil, false
	}
	return newPageGuard(e.page), true
}

// PutIfAbsent inserts page under key if no entry exists yet, marking it
// hot so a sweep pass occurring immediately after insertion gives it a
// second chance rather than evicting a page nobody has read yet. ref, if
// non-nil, is the PageReference whose swizzle names page; the sweeper
// clears it at eviction. Returns the page actually stored under key (the
// caller's page on insert, the existing one on a race loser) and whether
// this call performed the insert.
func (bp *BufferPool) PutIfAbsent(key Key, page *KeyValueLeafPage, ref *PageReference) (*KeyValueLeafPage, bool) {
	s := bp.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok {
		return existing.page, false
	}
	page.MarkHot()
	s.items[key] = &poolEntry{page: page, ref: ref}
	s.clockKeys = append(s.clockKeys, key)
	return page, true
}

// Put unconditionally installs page under key, replacing whatever was
// previously cached there. An unguarded old page is closed; a guarded one
// is logged and left unclosed for its readers to finish with.
func (bp *BufferPool) Put(key Key, page *KeyValueLeafPage, ref *PageReference) {
	s := bp.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.items[key]; ok {
		if old.page.GuardCount() > 0 {
			bp.logger.Printf("bufferpool: replacing guarded frame for %+v, old frame left for readers to finish", key)
		} else {
			old.page.Close()
		}
	} else {
		s.clockKeys = append(s.clockKeys, key)
	}
	page.MarkHot()
	s.items[key] = &poolEntry{page: page, ref: ref}
}

// Remove evicts key unconditionally, returning the removed page (or nil).
// Used by the intent log when a page moves out of the buffer pool into
// per-writer staging (spec.md §4.8).
func (bp *BufferPool) Remove(key Key) *KeyValueLeafPage {
	s := bp.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return nil
	}
	delete(s.items, key)
	return e.page
}

// Clear closes every unguarded cached page and empties the pool, iterating
// over a snapshot rather than the live maps (spec.md §4.7.4). Guarded
// pages survive the clear and are closed by their holders once the last
// guard drops.
func (bp *BufferPool) Clear() {
	for _, s := range bp.shards {
		s.mu.Lock()
		snapshot := make([]*poolEntry, 0, len(s.items))
		for _, e := range s.items {
			snapshot = append(snapshot, e)
		}
		for _, e := range snapshot {
			if e.page.GuardCount() == 0 {
				if e.ref != nil {
					e.ref.ClearSwizzle()
				}
				e.page.Close()
			}
		}
		s.items = make(map[Key]*poolEntry)
		s.clockKeys = nil
		s.clockHand = 0
		s.mu.Unlock()
	}
}

// Len returns the total number of cached frames across all shards.
func (bp *BufferPool) Len() int {
	total := 0
	for _, s := range bp.shards {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}
