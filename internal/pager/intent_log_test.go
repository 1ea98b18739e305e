package pager

import "testing"

func TestIntentLogPutRemovesBufferPoolEntryFirst(t *testing.T) {
	alloc := newTestAllocator()
	pool := NewBufferPool(8, 0)
	key := Key{ResourceID: 1, PageKey: 5, LogKey: UnsetLogKey}

	cached, _ := NewKeyValueLeafPage(alloc, 5, 1, IndexTypeDocument, false)
	pool.PutIfAbsent(key, cached, nil)

	staged, _ := NewKeyValueLeafPage(alloc, 5, 2, IndexTypeDocument, false)
	log := NewTransactionIntentLog(pool, 2)
	logKey := log.Put(key, NewPageContainer(staged, staged))

	if _, ok := pool.GetAndGuard(key); ok {
		t.Fatalf("Put must evict the old buffer-pool entry for the same key before staging")
	}
	c := log.Get(logKey)
	if c == nil || c.Modified != staged {
		t.Fatalf("expected the staged container to hold the new page")
	}
}

func TestIntentLogClearClosesEveryContainerOnce(t *testing.T) {
	alloc := newTestAllocator()
	pool := NewBufferPool(8, 0)
	log := NewTransactionIntentLog(pool, 1)

	p1, _ := NewKeyValueLeafPage(alloc, 1, 1, IndexTypeDocument, false)
	p2, _ := NewKeyValueLeafPage(alloc, 2, 1, IndexTypeDocument, false)
	log.Put(Key{ResourceID: 1, PageKey: 1}, NewPageContainer(p1, p1))
	log.Put(Key{ResourceID: 1, PageKey: 2}, NewPageContainer(p2, p2))

	log.Clear()
	if !p1.IsClosed() || !p2.IsClosed() {
		t.Fatalf("expected every staged page to be closed after Clear")
	}
	if log.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Clear", log.Len())
	}
}

func TestIntentLogClearClosesBothHalvesOfDistinctPair(t *testing.T) {
	alloc := newTestAllocator()
	pool := NewBufferPool(8, 0)
	log := NewTransactionIntentLog(pool, 2)

	complete, _ := NewKeyValueLeafPage(alloc, 1, 1, IndexTypeDocument, false)
	modified, _ := NewKeyValueLeafPage(alloc, 1, 2, IndexTypeDocument, false)
	log.Put(Key{ResourceID: 1, PageKey: 1}, NewPageContainer(complete, modified))

	log.Clear()
	if !complete.IsClosed() {
		t.Fatalf("expected the pre-modification snapshot to be closed")
	}
	if !modified.IsClosed() {
		t.Fatalf("expected the working copy to be closed")
	}
}

func TestIntentLogDischargeClosesSnapshotButNotModified(t *testing.T) {
	alloc := newTestAllocator()
	pool := NewBufferPool(8, 0)
	log := NewTransactionIntentLog(pool, 2)

	complete, _ := NewKeyValueLeafPage(alloc, 1, 1, IndexTypeDocument, false)
	modified, _ := NewKeyValueLeafPage(alloc, 1, 2, IndexTypeDocument, false)
	logKey := log.Put(Key{ResourceID: 1, PageKey: 1}, NewPageContainer(complete, modified))

	log.Discharge(logKey)
	if !complete.IsClosed() {
		t.Fatalf("Discharge should release the snapshot the log still owns")
	}
	if modified.IsClosed() {
		t.Fatalf("Discharge must not close the modified page whose ownership moved to the pool")
	}
	if log.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Discharge", log.Len())
	}
}

func TestPageContainerCloseIsIdempotentAndSkipsSharedPage(t *testing.T) {
	alloc := newTestAllocator()
	p, _ := NewKeyValueLeafPage(alloc, 1, 1, IndexTypeDocument, false)
	c := NewPageContainer(p, p)
	c.Close()
	c.Close() // must not double-close the shared underlying page
	if !p.IsClosed() {
		t.Fatalf("expected page to be closed")
	}
}

func TestIntentLogEntriesOrderedByLogKey(t *testing.T) {
	alloc := newTestAllocator()
	pool := NewBufferPool(8, 0)
	log := NewTransactionIntentLog(pool, 1)
	for i := 0; i < 5; i++ {
		p, _ := NewKeyValueLeafPage(alloc, int64(i), 1, IndexTypeDocument, false)
		log.Put(Key{ResourceID: 1, PageKey: int64(i)}, NewPageContainer(p, p))
	}
	entries := log.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i].LogKey <= entries[i-1].LogKey {
			t.Fatalf("Entries() not sorted ascending by LogKey: %+v", entries)
		}
	}
}
