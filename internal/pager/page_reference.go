package pager

import "sync/atomic"

// PageReference is the unique, MVCC-safe handle a page is addressed by.
// Equality and hashing use (DatabaseID, ResourceID, PageKey, LogKey); the
// swizzled in-memory pointer is incidental and participates in neither,
// grounded on tinySQL's btree_page.go InternalEntry{ChildID, Key} — a child
// pointer embedded in a parent, generalized here to a composite, revision-
// aliasing handle per spec.md §4.3.
//
// PageKey aliases multiple revisions of the same record page: any cache
// whose lifetime spans revisions must wrap PageReference in a key that adds
// the revision explicitly (see revisionedKey in combiner.go).
type PageReference struct {
	DatabaseID uint64
	ResourceID uint64
	PageKey    int64 // byte offset of the most recent fragment, or NullPageKey
	LogKey     int32 // index in the writer's intent log, or UnsetLogKey

	page atomic.Pointer[KeyValueLeafPage]

	// Checksum/hash bytes for on-disk integrity; opaque to this package's
	// own logic beyond round-tripping them through (de)serialization.
	Checksum uint32
	Hash     [8]byte
}

// Key is the comparable identity of a PageReference, usable as a map key.
type Key struct {
	DatabaseID uint64
	ResourceID uint64
	PageKey    int64
	LogKey     int32
}

// CacheKey returns the composite identity used for equality and hashing.
func (r *PageReference) CacheKey() Key {
	return Key{r.DatabaseID, r.ResourceID, r.PageKey, r.LogKey}
}

// FixupResource stamps the database/resource IDs onto a reference that was
// just deserialized from disk bearing only a PageKey — mirroring how a
// traditional buffer tag combines an on-disk block number with relation
// context supplied by the reader (spec.md §4.3).
func (r *PageReference) FixupResource(databaseID, resourceID uint64) {
	r.DatabaseID = databaseID
	r.ResourceID = resourceID
}

// SetPage swizzles the in-memory pointer. The target must remain guarded
// for the swizzle's lifetime; only the buffer pool clears it (sweeper
// eviction and BufferPool.Clear), and only under the owning shard's lock
// (see bufferpool.go).
func (r *PageReference) SetPage(p *KeyValueLeafPage) { r.page.Store(p) }

// GetPage reads the swizzled in-memory pointer, or nil if not resident.
func (r *PageReference) GetPage() *KeyValueLeafPage { return r.page.Load() }

// ClearSwizzle clears the in-memory pointer. Callers must hold the per-key
// lock for this reference's shard.
func (r *PageReference) ClearSwizzle() { r.page.Store(nil) }

// Clone produces a fresh PageReference sharing no mutable state, used when
// the trie writer copies a parent's child-pointer array under
// copy-on-write (spec.md §4.5).
func (r *PageReference) Clone() *PageReference {
	c := &PageReference{
		DatabaseID: r.DatabaseID,
		ResourceID: r.ResourceID,
		PageKey:    r.PageKey,
		LogKey:     r.LogKey,
		Checksum:   r.Checksum,
		Hash:       r.Hash,
	}
	return c
}
