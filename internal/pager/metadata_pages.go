package pager

import (
	"encoding/binary"
	"fmt"
)

// Metadata pages, grounded on tinySQL's superblock.go/catalog.go pattern of
// a small fixed-layout header page carrying a handful of child pointers and
// scalar counters.
//
// A RevisionRootPage is written once per commit, after every data and
// indirect page of that commit is durable and before the resource's current
// revision is advanced. Revision roots form a backward-linked chain through
// PreviousRootKey, so opening a resource at an older revision is a chain
// walk rather than a directory scan.
type RevisionRootPage struct {
	ResourceID      uint64
	Revision        int32
	CommitTimestamp int64

	// IndirectRoot points at the top-level indirect page of this revision's
	// record-page trie. Nil while the resource has never committed a record
	// page; a revision that commits none carries the previous root forward.
	IndirectRoot *PageReference

	// PreviousRootKey is the PageKey of the previous revision's root page,
	// or NullPageKey for the first revision of the resource.
	PreviousRootKey int64

	// Each secondary structure owns a private trie reached through its own
	// metadata page; the core stores the references and never interprets
	// what the tries contain.
	NameRef        *PageReference
	PathSummaryRef *PageReference
	CASRef         *PageReference
	PathRef        *PageReference
}

// revisionRootFixedSize is the body size after the header: resourceID(8) +
// commitTimestamp(8) + previousRootKey(8) + five presence-prefixed refs.
const revisionRootFixedSize = 8 + 8 + 8 + 5*pageReferenceWireSizeWithPresence

func putOptionalRef(buf []byte, ref *PageReference) int {
	if ref == nil {
		for i := 0; i < pageReferenceWireSizeWithPresence; i++ {
			buf[i] = 0
		}
		return pageReferenceWireSizeWithPresence
	}
	buf[0] = 1
	marshalPageReference(ref, buf[1:])
	return pageReferenceWireSizeWithPresence
}

func getOptionalRef(buf []byte) (*PageReference, int) {
	if buf[0] != 1 {
		return nil, pageReferenceWireSizeWithPresence
	}
	return unmarshalPageReference(buf[1:]), pageReferenceWireSizeWithPresence
}

// Serialize encodes the revision root into the on-disk page format.
func (rr *RevisionRootPage) Serialize() []byte {
	hdr := PageHeader{
		Kind:          PageKindRevisionRoot,
		Version:       CurrentFormatVersion,
		RecordPageKey: 0,
		Revision:      rr.Revision,
		IndexType:     IndexTypeDocument,
	}
	hdrBuf := make([]byte, 32)
	hlen := MarshalHeader(&hdr, hdrBuf)

	buf := make([]byte, hlen+revisionRootFixedSize)
	copy(buf, hdrBuf[:hlen])
	off := hlen
	binary.LittleEndian.PutUint64(buf[off:], rr.ResourceID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(rr.CommitTimestamp))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(rr.PreviousRootKey))
	off += 8
	off += putOptionalRef(buf[off:], rr.IndirectRoot)
	off += putOptionalRef(buf[off:], rr.NameRef)
	off += putOptionalRef(buf[off:], rr.PathSummaryRef)
	off += putOptionalRef(buf[off:], rr.CASRef)
	off += putOptionalRef(buf[off:], rr.PathRef)
	SetPageCRC(buf, hlen)
	return buf
}

// DeserializeRevisionRootPage decodes buf into a RevisionRootPage,
// verifying kind and CRC.
func DeserializeRevisionRootPage(buf []byte) (*RevisionRootPage, error) {
	hdr, hlen := UnmarshalHeader(buf)
	if err := VerifyPageCRC(buf, hlen); err != nil {
		return nil, err
	}
	if hdr.Kind != PageKindRevisionRoot {
		return nil, fmt.Errorf("pager: expected RevisionRoot page, got %s", hdr.Kind)
	}
	rr := &RevisionRootPage{Revision: hdr.Revision}
	off := hlen
	rr.ResourceID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	rr.CommitTimestamp = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	rr.PreviousRootKey = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	var n int
	rr.IndirectRoot, n = getOptionalRef(buf[off:])
	off += n
	rr.NameRef, n = getOptionalRef(buf[off:])
	off += n
	rr.PathSummaryRef, n = getOptionalRef(buf[off:])
	off += n
	rr.CASRef, n = getOptionalRef(buf[off:])
	off += n
	rr.PathRef, n = getOptionalRef(buf[off:])
	off += n
	return rr, nil
}

// MetadataPage is the common shape of NamePage, PathSummaryPage, CASPage,
// and PathPage: a single embedded PageReference to the structure's own
// private indirect-page trie root, walked with the same trie code the
// engine uses for record pages. The core never interprets the trie's
// contents.
type MetadataPage struct {
	Kind     PageKind
	TrieRoot *PageReference
}

// NewMetadataPage creates an empty metadata page of the given kind. Kind
// must be one of the four metadata page kinds.
func NewMetadataPage(kind PageKind) (*MetadataPage, error) {
	switch kind {
	case PageKindName, PageKindPathSummary, PageKindCAS, PageKindPath:
		return &MetadataPage{Kind: kind}, nil
	default:
		return nil, fmt.Errorf("pager: %s is not a metadata page kind", kind)
	}
}

// Serialize encodes the metadata page for the given revision.
func (m *MetadataPage) Serialize(revision int32) []byte {
	hdr := PageHeader{
		Kind:          m.Kind,
		Version:       CurrentFormatVersion,
		RecordPageKey: 0,
		Revision:      revision,
		IndexType:     IndexTypeDocument,
	}
	hdrBuf := make([]byte, 32)
	hlen := MarshalHeader(&hdr, hdrBuf)

	buf := make([]byte, hlen+pageReferenceWireSizeWithPresence)
	copy(buf, hdrBuf[:hlen])
	putOptionalRef(buf[hlen:], m.TrieRoot)
	SetPageCRC(buf, hlen)
	return buf
}

// DeserializeMetadataPage decodes buf into a MetadataPage of any of the
// four metadata kinds.
func DeserializeMetadataPage(buf []byte) (*MetadataPage, error) {
	hdr, hlen := UnmarshalHeader(buf)
	if err := VerifyPageCRC(buf, hlen); err != nil {
		return nil, err
	}
	switch hdr.Kind {
	case PageKindName, PageKindPathSummary, PageKindCAS, PageKindPath:
	default:
		return nil, fmt.Errorf("pager: expected a metadata page, got %s", hdr.Kind)
	}
	m := &MetadataPage{Kind: hdr.Kind}
	m.TrieRoot, _ = getOptionalRef(buf[hlen:])
	return m, nil
}
