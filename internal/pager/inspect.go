package pager

import (
	"fmt"
	"os"
	"strings"

	"github.com/kallisti-db/pagestore/internal/pager/slab"
)

// Inspection & verification tools for an offline fragment-store file.
//
// Grounded on tinySQL's storage/pager/inspect.go (InspectPage/VerifyDB/
// DumpTree/InspectWAL/InspectSuperblock), generalized from a fixed-page-size
// B+Tree file to the append-only, variable-length fragment store described
// in spec.md §6: every page is read by seeking to its length-prefixed
// offset rather than by multiplying a fixed page size.

// FragmentInfo holds inspection information about a single on-disk
// fragment.
type FragmentInfo struct {
	PageKey  int64
	Kind     PageKind
	KindStr  string
	Version  uint8
	RecordPageKey int64
	Revision int32
	IndexType IndexType
	CRC       uint32
	CRCValid  bool

	// KeyValueLeaf specifics.
	SlotCount           int
	LastSlotIndex       int32
	PreviousFragmentKey int64
	ReferenceCount      int

	// Indirect specifics.
	ChildCount int

	// RevisionRoot specifics.
	ResourceID      uint64
	CommitTimestamp int64
	PreviousRootKey int64
	HasTrieRoot     bool
}

// InspectFragment reads a single fragment at pageKey and returns detailed
// information about it, without requiring a live StorageEngine.
func InspectFragment(storePath string, pageKey int64) (*FragmentInfo, error) {
	store, err := openFragmentStore(storePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	data, err := store.Read(pageKey)
	if err != nil {
		return nil, fmt.Errorf("pager: inspect fragment %d: %w", pageKey, err)
	}

	hdr, hlen := UnmarshalHeader(data)
	crcValid := VerifyPageCRC(data, hlen) == nil

	info := &FragmentInfo{
		PageKey:       pageKey,
		Kind:          hdr.Kind,
		KindStr:       hdr.Kind.String(),
		Version:       hdr.Version,
		RecordPageKey: hdr.RecordPageKey,
		Revision:      hdr.Revision,
		IndexType:     hdr.IndexType,
		CRC:           hdr.CRC,
		CRCValid:      crcValid,
	}

	switch hdr.Kind {
	case PageKindKeyValueLeaf:
		alloc := slab.New(slab.Config{})
		leaf, err := DeserializeKeyValueLeafPage(alloc, data)
		if err != nil {
			return info, fmt.Errorf("pager: decode leaf fragment %d: %w", pageKey, err)
		}
		defer leaf.Close()
		count := 0
		for i := 0; i < NDP; i++ {
			if leaf.HasSlot(i) {
				count++
			}
		}
		info.SlotCount = count
		info.LastSlotIndex = leaf.LastSlotIndex()
		info.PreviousFragmentKey = leaf.PreviousFragmentKey
		info.ReferenceCount = len(leaf.References())

	case PageKindIndirect:
		ip, _, err := DeserializeIndirectPage(data)
		if err != nil {
			return info, fmt.Errorf("pager: decode indirect fragment %d: %w", pageKey, err)
		}
		info.ChildCount = ip.ChildCount()

	case PageKindRevisionRoot:
		rr, err := DeserializeRevisionRootPage(data)
		if err != nil {
			return info, fmt.Errorf("pager: decode revision root %d: %w", pageKey, err)
		}
		info.ResourceID = rr.ResourceID
		info.CommitTimestamp = rr.CommitTimestamp
		info.PreviousRootKey = rr.PreviousRootKey
		info.HasTrieRoot = rr.IndirectRoot != nil

	case PageKindName, PageKindPathSummary, PageKindCAS, PageKindPath:
		mp, err := DeserializeMetadataPage(data)
		if err != nil {
			return info, fmt.Errorf("pager: decode metadata page %d: %w", pageKey, err)
		}
		info.HasTrieRoot = mp.TrieRoot != nil
	}

	return info, nil
}

// VerifyStore walks every fragment reachable by linear scan of the store
// file from offset 0, re-checking each one's CRC. Returns a list of issues
// found (empty = healthy). Unlike a fixed-page-size file, a corrupt length
// prefix can desynchronize the scan; VerifyStore reports that as a single
// terminal issue rather than guessing at resynchronization.
func VerifyStore(storePath string) ([]string, error) {
	f, err := os.Open(storePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	f.Close()

	store, err := openFragmentStore(storePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var issues []string
	var off int64
	for off < size {
		data, err := store.Read(off)
		if err != nil {
			issues = append(issues, fmt.Sprintf("offset %d: %v (scan truncated)", off, err))
			break
		}
		hdr, hlen := UnmarshalHeader(data)
		if err := VerifyPageCRC(data, hlen); err != nil {
			issues = append(issues, fmt.Sprintf("fragment at %d: %v", off, err))
		}
		off += 4 + int64(len(data))
		_ = hdr
	}
	return issues, nil
}

// DumpChain renders a human-readable dump of a record page's fragment
// chain, following PreviousFragmentKey from newest to oldest, mirroring
// tinySQL's DumpTree but walking a version chain instead of a B+Tree.
func DumpChain(storePath string, newestPageKey int64) (string, error) {
	store, err := openFragmentStore(storePath)
	if err != nil {
		return "", err
	}
	defer store.Close()

	alloc := slab.New(slab.Config{})
	var sb strings.Builder
	key := newestPageKey
	depth := 0
	for key != NullPageKey {
		data, err := store.Read(key)
		if err != nil {
			return sb.String(), fmt.Errorf("pager: dump chain at %d: %w", key, err)
		}
		leaf, err := DeserializeKeyValueLeafPage(alloc, data)
		if err != nil {
			return sb.String(), fmt.Errorf("pager: decode fragment at %d: %w", key, err)
		}
		occupied := 0
		for i := 0; i < NDP; i++ {
			if leaf.HasSlot(i) {
				occupied++
			}
		}
		fmt.Fprintf(&sb, "%sfragment@%d revision=%d slots=%d prev=%d\n",
			strings.Repeat("  ", depth), key, leaf.Revision, occupied, leaf.PreviousFragmentKey)
		next := leaf.PreviousFragmentKey
		leaf.Close()
		key = next
		depth++
	}
	return sb.String(), nil
}

// DumpRevisions renders the backward-linked revision-root chain starting
// at newestRootKey, newest first: one line per committed revision with its
// timestamp and whether the revision carries a record-page trie.
func DumpRevisions(storePath string, newestRootKey int64) (string, error) {
	store, err := openFragmentStore(storePath)
	if err != nil {
		return "", err
	}
	defer store.Close()

	var sb strings.Builder
	key := newestRootKey
	for key != NullPageKey {
		data, err := store.Read(key)
		if err != nil {
			return sb.String(), fmt.Errorf("pager: dump revisions at %d: %w", key, err)
		}
		rr, err := DeserializeRevisionRootPage(data)
		if err != nil {
			return sb.String(), fmt.Errorf("pager: decode revision root at %d: %w", key, err)
		}
		fmt.Fprintf(&sb, "revision=%d root@%d resource=%d committedAt=%d trie=%v prev=%d\n",
			rr.Revision, key, rr.ResourceID, rr.CommitTimestamp, rr.IndirectRoot != nil, rr.PreviousRootKey)
		key = rr.PreviousRootKey
	}
	return sb.String(), nil
}
