package pager

// PageGuard is a scoped handle on a live, pinned KeyValueLeafPage. Holding
// one guarantees the page cannot be evicted or reset out from under the
// caller; releasing it is the only way the sweeper can ever reclaim the
// frame. Grounded on tinySQL's bufferpool.go pinning around getPage/
// unpinPage, generalized from a single pin counter to a guard object that
// also carries the version the page had at acquisition time, so a caller
// holding a guard across a blocking operation can detect frame reuse.
type PageGuard struct {
	page    *KeyValueLeafPage
	version uint32
	done    bool
}

// newPageGuard acquires a guard on page. Must only be called from inside
// the owning shard's per-key critical section (bufferpool.go's
// GetAndGuard), never as a separate check-then-act step, or a concurrent
// sweep could evict the frame between the check and the guard.
func newPageGuard(page *KeyValueLeafPage) *PageGuard {
	page.AcquireGuard()
	return &PageGuard{page: page, version: page.Version()}
}

// Page returns the guarded page. Valid to call any number of times before
// Release.
func (g *PageGuard) Page() *KeyValueLeafPage { return g.page }

// Revalidate reports ErrVersionMismatch if the frame has been reused
// (reset and reassigned to a different record page) since the guard was
// acquired. Callers that block while holding a guard (e.g. across an I/O
// wait for a sibling fragment) should revalidate before trusting the
// page's contents again.
func (g *PageGuard) Revalidate() error {
	if g.page.Version() != g.version {
		return ErrVersionMismatch
	}
	return nil
}

// Release decrements the page's guard count. Idempotent; a second Release
// on an already-released guard is a no-op rather than a double-decrement.
func (g *PageGuard) Release() {
	if g.done {
		return
	}
	g.done = true
	g.page.ReleaseGuard()
}
