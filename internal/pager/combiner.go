package pager

import (
	"fmt"

	"github.com/kallisti-db/pagestore/internal/pager/slab"
)

// VersioningStrategy selects how a record page's fragment chain is
// combined into the materialized page for a given revision (spec.md §4.4).
type VersioningStrategy uint8

const (
	VersioningFull VersioningStrategy = iota
	VersioningDifferential
	VersioningIncremental
	VersioningSlidingSnapshot
)

func ParseVersioningStrategy(s string) (VersioningStrategy, error) {
	switch s {
	case "FULL":
		return VersioningFull, nil
	case "DIFFERENTIAL":
		return VersioningDifferential, nil
	case "INCREMENTAL":
		return VersioningIncremental, nil
	case "SLIDING_SNAPSHOT":
		return VersioningSlidingSnapshot, nil
	default:
		return 0, fmt.Errorf("pager: unknown versioning strategy %q", s)
	}
}

// revisionedKey wraps a PageReference's composite identity together with
// an explicit revision, for caches whose lifetime spans revisions.
// PageReference equality itself deliberately excludes revision (spec.md
// §9's third open question). The combiner keeps no cache of its own
// (each materialized page goes straight to the caller), so no map in this
// package is keyed by revisionedKey.
type revisionedKey struct {
	Key
	Revision int32
}

// Combiner reconstructs a record page at a requested revision from its
// on-disk fragment chain. Grounded on tinySQL's btree.go tree-walk-and-
// accumulate shape (findLeaf/iterative descent) and mvcc.go's RowVersion
// chain-walk (IsVisible stopping at the first visible version), generalized
// here from row-version chains to page-fragment chains; no teacher file
// implements multi-strategy page reconstruction directly.
type Combiner struct {
	Strategy      VersioningStrategy
	SlidingWindow int
	alloc         *slab.Allocator
}

// NewCombiner creates a Combiner for the given strategy and allocator.
func NewCombiner(alloc *slab.Allocator, strategy VersioningStrategy, slidingWindow int) *Combiner {
	if slidingWindow <= 0 {
		slidingWindow = 1
	}
	return &Combiner{Strategy: strategy, SlidingWindow: slidingWindow, alloc: alloc}
}

// Combine takes fragments ordered newest-first ([F_r, F_{r-1}, ..., F_base])
// and produces a single fresh materialized page representing revision r.
// Every input is assumed pinned or owned by the caller; any intermediate
// page this function allocates while combining is closed before return
// (spec.md §4.4's leak-hotspot warning). The caller owns the result and
// must Close it when done.
func (c *Combiner) Combine(fragments []*KeyValueLeafPage, revision int32) (*KeyValueLeafPage, error) {
	if len(fragments) == 0 {
		return nil, fmt.Errorf("pager: combine called with no fragments")
	}

	switch c.Strategy {
	case VersioningFull:
		return c.cloneAsResult(fragments[0], revision)

	case VersioningDifferential:
		base := fragments[len(fragments)-1]
		newest := fragments[0]
		if len(fragments) == 1 {
			return c.cloneAsResult(newest, revision)
		}
		return c.overlay([]*KeyValueLeafPage{newest, base}, revision)

	case VersioningIncremental:
		return c.overlay(fragments, revision)

	case VersioningSlidingSnapshot:
		window := fragments
		if len(window) > c.SlidingWindow {
			window = window[:c.SlidingWindow]
		}
		// window holds exactly what the spec requires when the chain is
		// shorter than SlidingWindow: overlay whatever is available
		// (decided Open Question #1, see DESIGN.md).
		return c.overlay(window, revision)

	default:
		return nil, fmt.Errorf("pager: unknown versioning strategy %d", c.Strategy)
	}
}

// cloneAsResult produces a fresh page with the requested revision stamped
// on, copying src's slots. The combined page's revision is independent of
// the newest fragment's own stored revision (spec.md §4.4).
func (c *Combiner) cloneAsResult(src *KeyValueLeafPage, revision int32) (*KeyValueLeafPage, error) {
	out, err := NewKeyValueLeafPage(c.alloc, src.RecordPageKey, revision, src.IndexType, src.deweyEnabled)
	if err != nil {
		return nil, err
	}
	copySlots(src, out)
	return out, nil
}

// overlay folds fragments (newest first) into a single fresh page: newer
// slots win over older ones, matching spec.md's INCREMENTAL semantics
// (also used, windowed, for SLIDING_SNAPSHOT and two-deep for
// DIFFERENTIAL). Intermediate accumulation happens directly on the result
// page, so there is exactly one allocated page involved beyond the
// caller-owned inputs — satisfying the "no leaked intermediate" testable
// property (spec.md §8 scenario 6).
func (c *Combiner) overlay(fragments []*KeyValueLeafPage, revision int32) (*KeyValueLeafPage, error) {
	base := fragments[len(fragments)-1]
	out, err := NewKeyValueLeafPage(c.alloc, base.RecordPageKey, revision, base.IndexType, base.deweyEnabled)
	if err != nil {
		return nil, err
	}
	// Oldest to newest, so later writes in the loop (newer fragments) win.
	for i := len(fragments) - 1; i >= 0; i-- {
		copySlots(fragments[i], out)
	}
	return out, nil
}

// copySlots copies every occupied slot (and DeweyID, if enabled) from src
// into dst, overwriting whatever dst already held at that slot.
func copySlots(src, dst *KeyValueLeafPage) {
	for i := 0; i < NDP; i++ {
		if v := src.GetSlot(i); v != nil {
			dst.SetSlot(i, append([]byte(nil), v...))
			if src.IsOverlong(i) {
				if ref := src.Reference(i); ref != nil {
					dst.SetReference(i, ref)
				}
			}
		}
		if src.deweyEnabled && dst.deweyEnabled {
			if d := src.GetDeweyID(i); d != nil {
				dst.SetDeweyID(i, append([]byte(nil), d...))
			}
		}
	}
}
