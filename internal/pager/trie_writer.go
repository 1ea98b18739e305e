package pager

// trieLevels is the number of 7-bit (Fanout=128) levels needed to address
// any non-negative int64 record page key: 9 levels cover 63 bits.
const trieLevels = 9

// IndirectResolver fetches the IndirectPage a PageReference points at,
// loading it from durable storage if it is not already resident. The
// engine façade supplies the concrete implementation; the trie writer
// itself never touches a file descriptor.
type IndirectResolver interface {
	ResolveIndirect(ref *PageReference) (*IndirectPage, error)
}

// trieWriter materializes and mutates the indirect-page trie that maps a
// record page key to its owning leaf, copy-on-write. Deliberately
// unexported: the engine façade is the only thing that constructs one, and
// exposes just the two operations a writer transaction needs
// (prepareRecordPage, createTree) rather than a general-purpose tree API
// (spec.md §4.5 calls out that making this type part of the public surface
// was a mistake worth not repeating). Grounded on tinySQL's btree.go
// insertNonFull path-copying descent, generalized from a sorted B-tree
// split/merge to a fixed-fanout bit-decomposed trie that never splits.
type trieWriter struct {
	resolver IndirectResolver
}

// newTrieWriter creates a trieWriter backed by resolver.
func newTrieWriter(resolver IndirectResolver) *trieWriter {
	return &trieWriter{resolver: resolver}
}

// createTree returns a fresh, empty root for a resource that has no
// record pages yet.
func (w *trieWriter) createTree() *IndirectPage {
	return NewIndirectPage()
}

// pathStep is one cloned IndirectPage along the copy-on-write path from
// root to leaf, together with the slot index within it that the next step
// down (or, at the last step, the leaf itself) occupies.
type pathStep struct {
	page  *IndirectPage
	index int
}

// prepareRecordPage walks from root down to the leaf level for
// recordPageKey, cloning every IndirectPage it visits along the way
// (copy-on-write: siblings off the path are never touched or
// reallocated), and returns the full top-down path. The caller (the
// engine façade) writes pages bottom-up: once a child has a durable
// PageKey, it calls FixupChild on the step above to install that
// reference before writing the parent in turn.
func (w *trieWriter) prepareRecordPage(root *IndirectPage, recordPageKey int64) ([]pathStep, error) {
	indices := decomposeKey(recordPageKey, trieLevels)

	path := make([]pathStep, 0, trieLevels)
	cur := root.Clone()
	for lvl := 0; lvl < trieLevels-1; lvl++ {
		idx := indices[lvl]
		path = append(path, pathStep{page: cur, index: idx})
		child, err := w.resolveOrCreateChild(cur, idx)
		if err != nil {
			return nil, err
		}
		cur = child.Clone()
	}
	path = append(path, pathStep{page: cur, index: indices[trieLevels-1]})
	return path, nil
}

// FixupChild installs ref as the PageReference at step's index, called by
// the engine façade once the page one level down has been durably written
// and its on-disk key is known.
func (s pathStep) FixupChild(ref *PageReference) {
	s.page.SetChild(s.index, ref)
}

// resolveOrCreateChild returns the existing child IndirectPage at idx
// (resolving its PageReference through w.resolver if needed), or a fresh
// empty one if idx is unoccupied.
func (w *trieWriter) resolveOrCreateChild(parent *IndirectPage, idx int) (*IndirectPage, error) {
	ref := parent.Child(idx)
	if ref == nil {
		return NewIndirectPage(), nil
	}
	return w.resolver.ResolveIndirect(ref)
}
