// Package pager implements the page-level storage engine: an off-heap slab
// allocator, key-value leaf pages, an indirect-page trie, a versioning
// combiner, a sharded MVCC-aware buffer pool with clock-sweep eviction, and
// a per-writer transaction intent log.
//
// Every page on disk carries a small fixed header (kind, format version, the
// record-page key it belongs to, the revision it was written at, and an
// index-type tag) followed by a type-specific body. All multi-byte fields
// are little-endian. The header's CRC32-C checksum covers the entire page
// with the checksum field itself zeroed during computation.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// PageKind identifies the kind of data stored in a page.
type PageKind uint8

const (
	PageKindKeyValueLeaf  PageKind = 0x01
	PageKindIndirect      PageKind = 0x02
	PageKindRevisionRoot  PageKind = 0x03
	PageKindName          PageKind = 0x04
	PageKindPathSummary   PageKind = 0x05
	PageKindCAS           PageKind = 0x06
	PageKindPath          PageKind = 0x07
)

func (k PageKind) String() string {
	switch k {
	case PageKindKeyValueLeaf:
		return "KeyValueLeaf"
	case PageKindIndirect:
		return "Indirect"
	case PageKindRevisionRoot:
		return "RevisionRoot"
	case PageKindName:
		return "Name"
	case PageKindPathSummary:
		return "PathSummary"
	case PageKindCAS:
		return "CAS"
	case PageKindPath:
		return "Path"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(k))
	}
}

// IndexType tags which logical index a record page belongs to.
type IndexType uint8

const (
	IndexTypeDocument IndexType = 0x01
	IndexTypeName     IndexType = 0x02
	IndexTypePath     IndexType = 0x03
	IndexTypeCAS      IndexType = 0x04
)

const (
	// CurrentFormatVersion is the on-disk page format version.
	CurrentFormatVersion uint8 = 1

	// NDP is the fixed record-slot capacity of a KeyValueLeafPage.
	NDP = 1024

	// Fanout is the fixed child-pointer capacity of an indirect page.
	Fanout = 128

	// NullPageKey marks a PageReference that has never been persisted.
	NullPageKey int64 = -1

	// UnsetLogKey marks a PageReference with no intent-log entry.
	UnsetLogKey int32 = -1
)

// pageHeaderFixedSize is the byte length of the header's fixed-width
// fields: kind(1) + version(1) + revision(4) + indexType(1). The full
// on-disk header also carries recordPageKey as a varlong (max 10 bytes,
// between version and revision) followed by CRC32(4). Varlong is encoded
// with binary.PutVarint, so the header has a variable length;
// MarshalHeader writes it compactly and returns the number of bytes
// consumed.
const pageHeaderFixedSize = 1 + 1 + 4 + 1

// PageHeader is the common header present at the start of every page.
type PageHeader struct {
	Kind          PageKind
	Version       uint8
	RecordPageKey int64
	Revision      int32
	IndexType     IndexType
	CRC           uint32
}

// MarshalHeader writes h into the start of buf and returns the number of
// bytes the header occupied (the varlong-encoded RecordPageKey makes this
// variable). The CRC field is written as zero; callers compute the real CRC
// over the whole page afterwards with SetPageCRC.
func MarshalHeader(h *PageHeader, buf []byte) int {
	buf[0] = byte(h.Kind)
	buf[1] = h.Version
	n := binary.PutVarint(buf[2:], h.RecordPageKey)
	off := 2 + n
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.Revision))
	off += 4
	buf[off] = byte(h.IndexType)
	off++
	binary.LittleEndian.PutUint32(buf[off:], 0) // CRC placeholder
	off += 4
	return off
}

// UnmarshalHeader reads a PageHeader from the start of buf and returns the
// header along with the number of bytes it occupied.
func UnmarshalHeader(buf []byte) (PageHeader, int) {
	var h PageHeader
	h.Kind = PageKind(buf[0])
	h.Version = buf[1]
	rpk, n := binary.Varint(buf[2:])
	h.RecordPageKey = rpk
	off := 2 + n
	h.Revision = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	h.IndexType = IndexType(buf[off])
	off++
	h.CRC = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	return h, off
}

// crcTable is the CRC32 (Castagnoli) table used for all page checksums.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// crcFieldOffset locates the 4-byte CRC field within a header-prefixed page,
// given the header length returned by MarshalHeader/UnmarshalHeader.
func crcFieldOffset(headerLen int) int { return headerLen - 4 }

// ComputePageCRC computes the CRC32-C of a full page, treating the header's
// CRC field as zero during computation.
func ComputePageCRC(page []byte, headerLen int) uint32 {
	off := crcFieldOffset(headerLen)
	h := crc32.New(crcTable)
	h.Write(page[:off])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(page[off+4:])
	return h.Sum32()
}

// SetPageCRC computes and writes the CRC into the page header.
func SetPageCRC(page []byte, headerLen int) {
	c := ComputePageCRC(page, headerLen)
	binary.LittleEndian.PutUint32(page[crcFieldOffset(headerLen):], c)
}

// VerifyPageCRC checks the CRC32-C checksum of a page.
func VerifyPageCRC(page []byte, headerLen int) error {
	off := crcFieldOffset(headerLen)
	stored := binary.LittleEndian.Uint32(page[off:])
	computed := ComputePageCRC(page, headerLen)
	if stored != computed {
		return fmt.Errorf("pager: CRC mismatch: stored=%08x computed=%08x", stored, computed)
	}
	return nil
}
