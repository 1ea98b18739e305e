package pager

import (
	"sync"
	"sync/atomic"
)

// PageContainer pairs the two pages a writer transaction holds for one
// record-page key (spec.md §3.1, §4.8): Complete is the materialized
// pre-modification snapshot, Modified is the working copy the writer
// mutates and Commit persists. For a freshly created page with no
// pre-image the two point at the same page.
type PageContainer struct {
	Complete *KeyValueLeafPage
	Modified *KeyValueLeafPage

	closed atomic.Bool
}

// NewPageContainer creates a container for the (complete, modified) pair.
func NewPageContainer(complete, modified *KeyValueLeafPage) *PageContainer {
	return &PageContainer{Complete: complete, Modified: modified}
}

// Close releases both pages exactly once, skipping Modified when it is the
// same page as Complete so the shared-page case is never double-closed
// (spec.md §4.8).
func (c *PageContainer) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.Complete != nil {
		c.Complete.Close()
	}
	if c.Modified != nil && c.Modified != c.Complete {
		c.Modified.Close()
	}
}

// TransactionIntentLog is a single writer transaction's private
// copy-on-write staging area: (complete, modified) page pairs it has
// dirtied live here, keyed by a monotonically increasing log key, until
// commit moves the modified pages to durable storage and clears the log.
// Grounded on tinySQL's mvcc.go per-transaction write set
// (TransactionManager.activeTx bookkeeping) and concurrency.go's use of
// atomic counters for monotonic IDs, generalized from row write-sets to
// page write-sets.
type TransactionIntentLog struct {
	mu       sync.Mutex
	entries  map[int32]*PageContainer
	nextKey  atomic.Int32
	pool     *BufferPool
	revision int32
}

// NewTransactionIntentLog creates an empty intent log for a writer
// operating at revision.
func NewTransactionIntentLog(pool *BufferPool, revision int32) *TransactionIntentLog {
	return &TransactionIntentLog{
		entries:  make(map[int32]*PageContainer),
		pool:     pool,
		revision: revision,
	}
}

// Put stages container under a fresh log key, first removing any
// buffer-pool cache entry that might otherwise be read concurrently with
// this writer's uncommitted change (spec.md §4.8: "put must remove from
// buffer-pool caches first" — single ownership). Returns the assigned log
// key.
func (l *TransactionIntentLog) Put(key Key, container *PageContainer) int32 {
	if cached := l.pool.Remove(key); cached != nil &&
		cached != container.Modified && cached != container.Complete {
		cached.Close()
	}

	logKey := l.nextKey.Add(1)
	l.mu.Lock()
	l.entries[logKey] = container
	l.mu.Unlock()
	return logKey
}

// Get returns the staged container for logKey, or nil if absent.
func (l *TransactionIntentLog) Get(logKey int32) *PageContainer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[logKey]
}

// IntentLogEntry pairs a staged container with the log key it was
// assigned under.
type IntentLogEntry struct {
	LogKey    int32
	Container *PageContainer
}

// Entries returns every staged (logKey, container) pair, ordered by
// ascending log key. Commit does not call it; it walks the transaction's
// own staged pages.
func (l *TransactionIntentLog) Entries() []IntentLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]IntentLogEntry, 0, len(l.entries))
	for k, c := range l.entries {
		out = append(out, IntentLogEntry{k, c})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].LogKey < out[j-1].LogKey; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Discharge removes logKey's entry from the log without closing its
// modified page, for the one case where Close() would be wrong: commit has
// durably written the modified page and handed it to the buffer pool, so
// the log's reference to it is no longer the owning one (spec.md §9's
// double-ownership warning). The pre-modification snapshot, if distinct,
// is still the log's to release and is closed here. A no-op if logKey is
// absent.
func (l *TransactionIntentLog) Discharge(logKey int32) {
	l.mu.Lock()
	c, ok := l.entries[logKey]
	if ok {
		delete(l.entries, logKey)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	if c.Complete != nil && c.Complete != c.Modified {
		c.Complete.Close()
	}
}

// Clear closes every still-staged container exactly once (PageContainer.Close
// is itself idempotent and skips a Modified that aliases Complete) and
// empties the log. Called after Abort, or after Commit has discharged every
// page whose ownership it transferred to the buffer pool — anything left in
// the log at that point was never durably written and must still be
// released.
func (l *TransactionIntentLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.entries {
		c.Close()
	}
	l.entries = make(map[int32]*PageContainer)
}

// Len reports the number of currently staged pages.
func (l *TransactionIntentLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
