package pager

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kallisti-db/pagestore/internal/pager/slab"
)

// maxFragmentChainDepth bounds how far a materialization walk will follow
// PreviousFragmentKey links, guarding against a corrupted or accidentally
// cyclic chain rather than limiting any real feature.
const maxFragmentChainDepth = 1 << 20

// EngineConfig configures a StorageEngine, mirroring spec.md §6's
// configuration table.
type EngineConfig struct {
	Path               string
	RegionSize         int
	MaxBufferSize      int64
	Parallelism        int
	ShardCount         int
	ShardCapacity      int
	SweepInterval      time.Duration
	VersioningStrategy string
	SlidingWindow      int
	EpochSlots         int
	DeweyIDsStored     bool

	// ExternalSweepDriver, when true, suppresses OpenStorageEngine's own
	// sweep goroutine so a caller that already runs its own maintenance
	// scheduler (internal/storage's Scheduler/WorkerPool) can drive
	// SweepOnce itself instead of racing a second ticker against it.
	ExternalSweepDriver bool
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.RegionSize == 0 {
		c.RegionSize = 1 << 20
	}
	if c.Parallelism == 0 {
		c.Parallelism = 4
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 2 * time.Second
	}
	if c.VersioningStrategy == "" {
		c.VersioningStrategy = "INCREMENTAL"
	}
	if c.SlidingWindow == 0 {
		c.SlidingWindow = 4
	}
	return c
}

// resourceMetaRefs carries the four secondary-structure page references a
// revision root republishes on every commit.
type resourceMetaRefs struct {
	name        *PageReference
	pathSummary *PageReference
	cas         *PageReference
	path        *PageReference
}

// StorageEngine is the reader/writer façade binding the slab allocator,
// buffer pool, clock sweeper, revision epoch tracker, versioning combiner,
// indirect-page trie, and transaction intent log into the single entry
// point callers use (spec.md §4's component list, §5's concurrency model).
// Grounded on tinySQL's pager.go Pager type, which plays the same
// binding-everything-together role for its page cache/WAL/free list.
type StorageEngine struct {
	alloc    *slab.Allocator
	pool     *BufferPool
	epochs   *RevisionEpochTracker
	combiner *Combiner
	store    *fragmentStore

	deweyIDsStored bool

	sweeper     *Sweeper
	sweepCancel context.CancelFunc

	mu               sync.Mutex
	rootRefs         map[uint64]*PageReference
	revisionRoots    map[uint64]int64 // latest RevisionRootPage offset per resource
	metaRefs         map[uint64]*resourceMetaRefs
	indirectCache    map[int64]*IndirectPage
	currentRevisions map[uint64]int32

	// writerMu serializes write transactions per resource (spec.md §5:
	// exactly one writer per resource).
	writerMu sync.Mutex
	writers  map[uint64]*sync.Mutex

	nextRevision atomic.Int32
}

// OpenStorageEngine opens (creating if necessary) the fragment store at
// cfg.Path, recovers the latest committed revision roots by scanning the
// store, and starts the background clock sweeper unless
// cfg.ExternalSweepDriver is set.
func OpenStorageEngine(cfg EngineConfig) (*StorageEngine, error) {
	cfg = cfg.withDefaults()

	strat, err := ParseVersioningStrategy(cfg.VersioningStrategy)
	if err != nil {
		return nil, err
	}

	alloc := slab.New(slab.Config{
		RegionSize:    cfg.RegionSize,
		MaxBufferSize: cfg.MaxBufferSize,
		Parallelism:   cfg.Parallelism,
	})
	store, err := openFragmentStore(cfg.Path)
	if err != nil {
		return nil, err
	}

	e := &StorageEngine{
		alloc:            alloc,
		pool:             NewBufferPool(cfg.ShardCount, cfg.ShardCapacity),
		epochs:           NewRevisionEpochTracker(cfg.EpochSlots),
		combiner:         NewCombiner(alloc, strat, cfg.SlidingWindow),
		store:            store,
		deweyIDsStored:   cfg.DeweyIDsStored,
		rootRefs:         make(map[uint64]*PageReference),
		revisionRoots:    make(map[uint64]int64),
		metaRefs:         make(map[uint64]*resourceMetaRefs),
		indirectCache:    make(map[int64]*IndirectPage),
		currentRevisions: make(map[uint64]int32),
		writers:          make(map[uint64]*sync.Mutex),
	}

	if err := e.recoverFromStore(cfg.Path); err != nil {
		store.Close()
		return nil, err
	}

	e.sweeper = NewSweeper(e.pool, e.epochs, cfg.SweepInterval)
	if !cfg.ExternalSweepDriver {
		ctx, cancel := context.WithCancel(context.Background())
		e.sweepCancel = cancel
		go e.sweeper.Run(ctx)
	}

	return e, nil
}

// recoverFromStore linearly scans the append-only fragment store and
// rebuilds the per-resource revision-root state from the RevisionRootPages
// it finds. The store is append-only and roots are written last in each
// commit, so the highest-revision root per resource is the last consistent
// state of that resource.
func (e *StorageEngine) recoverFromStore(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("pager: recover: %w", err)
	}
	fi, err := f.Stat()
	f.Close()
	if err != nil {
		return fmt.Errorf("pager: recover: %w", err)
	}
	size := fi.Size()

	var maxRevision int32
	var off int64
	for off < size {
		data, err := e.store.Read(off)
		if err != nil {
			// Truncated trailing write; everything before it is intact.
			break
		}
		hdr, _ := UnmarshalHeader(data)
		if hdr.Kind == PageKindRevisionRoot {
			rr, err := DeserializeRevisionRootPage(data)
			if err == nil {
				if cur, ok := e.currentRevisions[rr.ResourceID]; !ok || rr.Revision > cur {
					e.currentRevisions[rr.ResourceID] = rr.Revision
					e.revisionRoots[rr.ResourceID] = off
					e.rootRefs[rr.ResourceID] = rr.IndirectRoot
					e.metaRefs[rr.ResourceID] = &resourceMetaRefs{
						name:        rr.NameRef,
						pathSummary: rr.PathSummaryRef,
						cas:         rr.CASRef,
						path:        rr.PathRef,
					}
				}
				if rr.Revision > maxRevision {
					maxRevision = rr.Revision
				}
			}
		}
		off += 4 + int64(len(data))
	}
	e.nextRevision.Store(maxRevision)
	return nil
}

// SweepOnce runs a single clock sweep pass over the buffer pool and
// returns the number of frames evicted. Exposed so a caller opened with
// EngineConfig.ExternalSweepDriver can drive eviction from its own
// maintenance scheduler instead of the engine's internal ticker.
func (e *StorageEngine) SweepOnce() int {
	return e.sweeper.SweepOnce()
}

// Close stops the sweeper (if the engine owns it), clears the buffer pool
// (closing every unguarded resident page; guarded pages survive and are
// closed by their holders), and closes the backing file. Close does not
// flush outstanding writers.
func (e *StorageEngine) Close() error {
	if e.sweepCancel != nil {
		e.sweepCancel()
	}
	e.pool.Clear()
	return e.store.Close()
}

// ResolveIndirect implements IndirectResolver for the trie writer,
// resolving through an in-memory cache before falling back to a
// positioned read of the fragment store.
func (e *StorageEngine) ResolveIndirect(ref *PageReference) (*IndirectPage, error) {
	if ref == nil || ref.PageKey == NullPageKey {
		return NewIndirectPage(), nil
	}
	e.mu.Lock()
	if ip, ok := e.indirectCache[ref.PageKey]; ok {
		e.mu.Unlock()
		return ip, nil
	}
	e.mu.Unlock()

	buf, err := e.store.Read(ref.PageKey)
	if err != nil {
		return nil, err
	}
	ip, _, err := DeserializeIndirectPage(buf)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.indirectCache[ref.PageKey] = ip
	e.mu.Unlock()
	return ip, nil
}

// currentRootRef returns the resource's latest published trie root
// reference, or nil if it has never committed.
func (e *StorageEngine) currentRootRef(resourceID uint64) *PageReference {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rootRefs[resourceID]
}

// resolveRoot materializes the trie root an explicit reference snapshot
// points at; a nil reference yields an empty trie.
func (e *StorageEngine) resolveRoot(ref *PageReference) (*IndirectPage, error) {
	if ref == nil {
		return NewIndirectPage(), nil
	}
	return e.ResolveIndirect(ref)
}

// lookupLeaf walks root down to the PageReference for recordPageKey,
// returning nil if no leaf has ever been written at that key.
func (e *StorageEngine) lookupLeaf(root *IndirectPage, recordPageKey int64) (*PageReference, error) {
	indices := decomposeKey(recordPageKey, trieLevels)
	cur := root
	for lvl := 0; lvl < trieLevels-1; lvl++ {
		ref := cur.Child(indices[lvl])
		if ref == nil {
			return nil, nil
		}
		next, err := e.ResolveIndirect(ref)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur.Child(indices[trieLevels-1]), nil
}

// loadLeaf returns the live page ref points at, using its swizzled pointer
// if one is resident or reading and deserializing from the fragment store
// otherwise. A swizzle left behind by an evicted (closed) frame counts as
// not resident; the fresh deserialization replaces it.
func (e *StorageEngine) loadLeaf(ref *PageReference) (*KeyValueLeafPage, error) {
	if p := ref.GetPage(); p != nil && !p.IsClosed() {
		return p, nil
	}
	buf, err := e.store.Read(ref.PageKey)
	if err != nil {
		return nil, err
	}
	p, err := DeserializeKeyValueLeafPage(e.alloc, buf)
	if err != nil {
		return nil, err
	}
	ref.SetPage(p)
	return p, nil
}

// ReadTransaction is a snapshot read registered with the revision epoch
// tracker for its lifetime. The transaction captures the resource's trie
// root reference at Begin time, so a commit that lands afterwards never
// alters what this reader observes: commits publish a fresh copy-on-write
// root and leave the captured one untouched.
type ReadTransaction struct {
	engine     *StorageEngine
	resourceID uint64
	revision   int32
	rootRef    *PageReference
	ticket     *Ticket
}

// BeginRead starts a read transaction against resourceID's current
// revision.
func (e *StorageEngine) BeginRead(resourceID uint64) (*ReadTransaction, error) {
	e.mu.Lock()
	rev := e.currentRevisions[resourceID]
	rootRef := e.rootRefs[resourceID]
	e.mu.Unlock()
	ticket, err := e.epochs.Register(rev)
	if err != nil {
		return nil, err
	}
	return &ReadTransaction{engine: e, resourceID: resourceID, revision: rev, rootRef: rootRef, ticket: ticket}, nil
}

// BeginReadAtRevision starts a read transaction pinned to an older
// committed revision, located by walking the resource's backward-linked
// revision-root chain from the most recent commit.
func (e *StorageEngine) BeginReadAtRevision(resourceID uint64, revision int32) (*ReadTransaction, error) {
	rr, err := e.findRevisionRoot(resourceID, revision)
	if err != nil {
		return nil, err
	}
	ticket, err := e.epochs.Register(revision)
	if err != nil {
		return nil, err
	}
	return &ReadTransaction{
		engine:     e,
		resourceID: resourceID,
		revision:   revision,
		rootRef:    rr.IndirectRoot,
		ticket:     ticket,
	}, nil
}

// findRevisionRoot walks the revision-root chain newest-first until it
// finds the root committed exactly at revision.
func (e *StorageEngine) findRevisionRoot(resourceID uint64, revision int32) (*RevisionRootPage, error) {
	e.mu.Lock()
	key, ok := e.revisionRoots[resourceID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pager: resource %d has no committed revisions", resourceID)
	}
	for key != NullPageKey {
		buf, err := e.store.Read(key)
		if err != nil {
			return nil, err
		}
		rr, err := DeserializeRevisionRootPage(buf)
		if err != nil {
			return nil, err
		}
		if rr.Revision == revision {
			return rr, nil
		}
		if rr.Revision < revision {
			break
		}
		key = rr.PreviousRootKey
	}
	return nil, fmt.Errorf("pager: resource %d has no revision %d", resourceID, revision)
}

// Revision reports the revision this read transaction observes.
func (t *ReadTransaction) Revision() int32 { return t.revision }

// Close retires the transaction's epoch ticket.
func (t *ReadTransaction) Close() { t.ticket.Release() }

// GetRecordPage returns the leaf page for recordPageKey as of t's
// revision, routed through the buffer pool's get_and_guard contract. The
// caller must Release the returned guard. Returns (nil, nil, nil) if no
// page has ever been written at that key.
func (t *ReadTransaction) GetRecordPage(recordPageKey int64) (*KeyValueLeafPage, *PageGuard, error) {
	e := t.engine
	root, err := e.resolveRoot(t.rootRef)
	if err != nil {
		return nil, nil, err
	}
	ref, err := e.lookupLeaf(root, recordPageKey)
	if err != nil {
		return nil, nil, err
	}
	if ref == nil {
		return nil, nil, nil
	}

	key := ref.CacheKey()
	if guard, ok := e.pool.GetAndGuard(key); ok {
		return guard.Page(), guard, nil
	}

	page, err := e.loadLeaf(ref)
	if err != nil {
		return nil, nil, err
	}
	e.pool.PutIfAbsent(key, page, ref)
	guard, ok := e.pool.GetAndGuard(key)
	if !ok {
		return nil, nil, fmt.Errorf("pager: page vanished from buffer pool immediately after insertion")
	}
	return guard.Page(), guard, nil
}

// GetCombinedRecordPage materializes recordPageKey at t's revision by
// walking its fragment chain through the configured versioning strategy.
// Unlike GetRecordPage, this always returns a freshly combined page that
// the caller owns and must Close; it is not installed in the buffer pool,
// since a combined page's identity (which fragments contributed) is not a
// stable cache key across revisions.
func (t *ReadTransaction) GetCombinedRecordPage(recordPageKey int64) (*KeyValueLeafPage, error) {
	return t.engine.materialize(t.rootRef, recordPageKey, t.revision)
}

func (e *StorageEngine) materialize(rootRef *PageReference, recordPageKey int64, revision int32) (*KeyValueLeafPage, error) {
	root, err := e.resolveRoot(rootRef)
	if err != nil {
		return nil, err
	}
	ref, err := e.lookupLeaf(root, recordPageKey)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("pager: record page %d not found", recordPageKey)
	}
	newest, err := e.loadLeaf(ref)
	if err != nil {
		return nil, err
	}

	var chainLimit int
	switch e.combiner.Strategy {
	case VersioningFull:
		chainLimit = 1
	case VersioningSlidingSnapshot:
		chainLimit = e.combiner.SlidingWindow
	default: // DIFFERENTIAL, INCREMENTAL: walk to the base fragment
		chainLimit = maxFragmentChainDepth
	}

	fragments := []*KeyValueLeafPage{newest}
	cur := newest
	for cur.PreviousFragmentKey != NullPageKey && len(fragments) < chainLimit {
		buf, err := e.store.Read(cur.PreviousFragmentKey)
		if err != nil {
			break
		}
		prev, err := DeserializeKeyValueLeafPage(e.alloc, buf)
		if err != nil {
			break
		}
		fragments = append(fragments, prev)
		cur = prev
	}

	out, err := e.combiner.Combine(fragments, revision)

	// Every fragment beyond newest was loaded solely for this call (newest
	// may be the buffer pool's swizzled, shared instance and is left
	// alone); release them now rather than leaking their slab memory
	// (spec.md §4.4's sliding-snapshot temporary-release requirement).
	for _, f := range fragments[1:] {
		f.Close()
	}

	return out, err
}

// WriteTransaction stages (complete, modified) page pairs copy-on-write in
// a private intent log until Commit durably writes the modified pages and
// republishes the resource's root.
type WriteTransaction struct {
	engine     *StorageEngine
	resourceID uint64
	revision   int32
	log        *TransactionIntentLog
	staged     map[int64]*PageContainer
	logKeys    map[int64]int32
	committed  bool
	writerLock *sync.Mutex
	unlockOnce sync.Once
}

// releaseWriter returns the resource's writer mutex exactly once, however
// the transaction ends (commit, failed commit, abort).
func (t *WriteTransaction) releaseWriter() {
	t.unlockOnce.Do(t.writerLock.Unlock)
}

// BeginWrite starts a write transaction for resourceID at a freshly
// allocated revision number, taking the resource's writer mutex for the
// transaction's duration (spec.md §5: exactly one writer per resource).
func (e *StorageEngine) BeginWrite(resourceID uint64) (*WriteTransaction, error) {
	e.writerMu.Lock()
	lock, ok := e.writers[resourceID]
	if !ok {
		lock = &sync.Mutex{}
		e.writers[resourceID] = lock
	}
	e.writerMu.Unlock()
	lock.Lock()

	rev := e.nextRevision.Add(1)
	return &WriteTransaction{
		engine:     e,
		resourceID: resourceID,
		revision:   rev,
		log:        NewTransactionIntentLog(e.pool, rev),
		staged:     make(map[int64]*PageContainer),
		logKeys:    make(map[int64]int32),
		writerLock: lock,
	}, nil
}

// NewRecordPage allocates a fresh, empty leaf for recordPageKey, honoring
// the engine's dewey-ids-stored setting. For a key that may already hold
// committed records, use GetRecordPageForUpdate instead, which carries the
// current contents into the working copy.
func (t *WriteTransaction) NewRecordPage(recordPageKey int64, it IndexType) (*KeyValueLeafPage, error) {
	return NewKeyValueLeafPage(t.engine.alloc, recordPageKey, t.revision, it, t.engine.deweyIDsStored)
}

// GetRecordPageForUpdate prepares recordPageKey for modification (spec.md
// §4.5's leaf step): if this transaction already staged the key, the
// existing working copy is returned; otherwise the resource's current
// complete page is materialized through the versioning combiner, cloned
// into a working copy, and both are staged as a (complete, modified) pair.
// A key with no committed pre-image gets a fresh empty page whose complete
// and modified halves are the same page. The returned page is the working
// copy the caller mutates; Commit persists it.
func (t *WriteTransaction) GetRecordPageForUpdate(recordPageKey int64, it IndexType) (*KeyValueLeafPage, error) {
	if c, ok := t.staged[recordPageKey]; ok {
		return c.Modified, nil
	}
	e := t.engine
	rootRef := e.currentRootRef(t.resourceID)
	root, err := e.resolveRoot(rootRef)
	if err != nil {
		return nil, err
	}
	ref, err := e.lookupLeaf(root, recordPageKey)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		page, err := t.NewRecordPage(recordPageKey, it)
		if err != nil {
			return nil, err
		}
		t.stage(recordPageKey, NewPageContainer(page, page))
		return page, nil
	}

	complete, err := e.materialize(rootRef, recordPageKey, t.revision)
	if err != nil {
		return nil, err
	}
	modified, err := complete.Clone()
	if err != nil {
		complete.Close()
		return nil, err
	}
	t.stage(recordPageKey, NewPageContainer(complete, modified))
	return modified, nil
}

// stage records container for recordPageKey in both the transaction's
// working set and the intent log.
func (t *WriteTransaction) stage(recordPageKey int64, container *PageContainer) {
	t.staged[recordPageKey] = container
	key := Key{ResourceID: t.resourceID, PageKey: recordPageKey, LogKey: UnsetLogKey}
	t.logKeys[recordPageKey] = t.log.Put(key, container)
}

// Revision reports the revision this write transaction will commit as.
func (t *WriteTransaction) Revision() int32 { return t.revision }

// PutRecordPage stages page as the complete new contents of recordPageKey,
// replacing whatever was committed before rather than extending it (the
// staged pair's complete and modified halves are both page, since the
// caller constructed the full contents itself). The page's
// PreviousFragmentKey and Revision fields are overwritten at Commit time;
// callers need not set them.
func (t *WriteTransaction) PutRecordPage(recordPageKey int64, page *KeyValueLeafPage) {
	t.stage(recordPageKey, NewPageContainer(page, page))
}

// Abort discards every staged page without writing anything durable.
func (t *WriteTransaction) Abort() {
	if t.committed {
		return
	}
	t.log.Clear()
	t.releaseWriter()
	t.committed = true
}

// ensureMetaRefs returns the resource's secondary-structure page
// references, writing fresh empty metadata pages on the resource's first
// commit.
func (e *StorageEngine) ensureMetaRefs(resourceID uint64, revision int32) (*resourceMetaRefs, error) {
	e.mu.Lock()
	refs := e.metaRefs[resourceID]
	e.mu.Unlock()
	if refs != nil {
		return refs, nil
	}

	refs = &resourceMetaRefs{}
	for _, m := range []struct {
		kind PageKind
		dst  **PageReference
	}{
		{PageKindName, &refs.name},
		{PageKindPathSummary, &refs.pathSummary},
		{PageKindCAS, &refs.cas},
		{PageKindPath, &refs.path},
	} {
		mp, err := NewMetadataPage(m.kind)
		if err != nil {
			return nil, err
		}
		key, err := e.store.Append(mp.Serialize(revision))
		if err != nil {
			return nil, fmt.Errorf("pager: write %s page: %w", m.kind, err)
		}
		*m.dst = &PageReference{ResourceID: resourceID, PageKey: key, LogKey: UnsetLogKey}
	}

	e.mu.Lock()
	e.metaRefs[resourceID] = refs
	e.mu.Unlock()
	return refs, nil
}

// Commit writes every staged page in turn, threading each one onto its
// record page's fragment chain, rewrites the copy-on-write trie path down
// to each leaf, durably writes a new revision root chained to the previous
// one, advances the resource's current revision, and finally clears the
// intent log (spec.md §5's commit ordering: pages before the new root,
// root before the intent log is cleared, so a crash mid-commit never
// exposes a root pointing at an unwritten fragment).
func (t *WriteTransaction) Commit() error {
	if t.committed {
		return fmt.Errorf("pager: transaction is no longer active")
	}
	e := t.engine
	defer t.releaseWriter()

	rootRef := e.currentRootRef(t.resourceID)
	root, err := e.resolveRoot(rootRef)
	if err != nil {
		return err
	}
	tw := newTrieWriter(e)

	for recordPageKey, container := range t.staged {
		page := container.Modified
		if oldRef, err := e.lookupLeaf(root, recordPageKey); err == nil && oldRef != nil {
			page.PreviousFragmentKey = oldRef.PageKey
		} else {
			page.PreviousFragmentKey = NullPageKey
		}
		page.Revision = t.revision

		buf := page.Serialize()
		pageKey, err := e.store.Append(buf)
		if err != nil {
			return fmt.Errorf("pager: commit write leaf page %d: %w", recordPageKey, err)
		}
		leafRef := &PageReference{ResourceID: t.resourceID, PageKey: pageKey, LogKey: UnsetLogKey}
		leafRef.SetPage(page)

		path, err := tw.prepareRecordPage(root, recordPageKey)
		if err != nil {
			return fmt.Errorf("pager: commit prepare trie path for %d: %w", recordPageKey, err)
		}
		path[len(path)-1].FixupChild(leafRef)

		for i := len(path) - 1; i >= 0; i-- {
			step := path[i]
			ibuf := step.page.Serialize(recordPageKey, t.revision, page.IndexType)
			ikey, err := e.store.Append(ibuf)
			if err != nil {
				return fmt.Errorf("pager: commit write indirect page level %d: %w", i, err)
			}
			e.mu.Lock()
			e.indirectCache[ikey] = step.page
			e.mu.Unlock()

			if i > 0 {
				path[i-1].FixupChild(&PageReference{ResourceID: t.resourceID, PageKey: ikey, LogKey: UnsetLogKey})
			} else {
				root = step.page
				rootRef = &PageReference{ResourceID: t.resourceID, PageKey: ikey, LogKey: UnsetLogKey}
			}
		}

		e.pool.Put(Key{ResourceID: t.resourceID, PageKey: pageKey, LogKey: UnsetLogKey}, page, leafRef)

		// Ownership of the modified page just transferred to the buffer
		// pool; discharge its intent-log entry so the Clear below does not
		// also close it out from under the pool's new live cache entry
		// (spec.md §9). Discharge still closes the pre-modification
		// snapshot, which remains the log's to release.
		t.log.Discharge(t.logKeys[recordPageKey])
	}

	metaRefs, err := e.ensureMetaRefs(t.resourceID, t.revision)
	if err != nil {
		return err
	}

	e.mu.Lock()
	prevRootKey, hadPrev := e.revisionRoots[t.resourceID]
	e.mu.Unlock()
	if !hadPrev {
		prevRootKey = NullPageKey
	}

	rr := &RevisionRootPage{
		ResourceID:      t.resourceID,
		Revision:        t.revision,
		CommitTimestamp: time.Now().Unix(),
		IndirectRoot:    rootRef,
		PreviousRootKey: prevRootKey,
		NameRef:         metaRefs.name,
		PathSummaryRef:  metaRefs.pathSummary,
		CASRef:          metaRefs.cas,
		PathRef:         metaRefs.path,
	}
	rootKey, err := e.store.Append(rr.Serialize())
	if err != nil {
		return fmt.Errorf("pager: commit write revision root: %w", err)
	}

	e.mu.Lock()
	e.rootRefs[t.resourceID] = rootRef
	e.revisionRoots[t.resourceID] = rootKey
	e.currentRevisions[t.resourceID] = t.revision
	e.mu.Unlock()

	t.log.Clear()
	t.committed = true
	return nil
}
