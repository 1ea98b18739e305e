package pager

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/kallisti-db/pagestore/internal/pager/slab"
)

// Serialize encodes p into the on-disk page format described in spec.md §6:
// the common header, last_slot_index, the NDP-entry slot-offset table, the
// slot_memory arena, the mirrored DeweyID block when enabled, the two
// presence bitmaps, and the overlong PageReference table.
// DeserializeKeyValueLeafPage copies slot_memory into a freshly allocated
// segment; it does not slice it out of the input buffer.
func (p *KeyValueLeafPage) Serialize() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	hdr := PageHeader{
		Kind:          PageKindKeyValueLeaf,
		Version:       CurrentFormatVersion,
		RecordPageKey: p.RecordPageKey,
		Revision:      p.Revision,
		IndexType:     p.IndexType,
	}
	hdrBuf := make([]byte, 32)
	hlen := MarshalHeader(&hdr, hdrBuf)

	size := hlen + 1 + 8 + 4 + NDP*4 + 4 + p.slotMemUsed
	if p.deweyEnabled {
		size += NDP*4 + 4 + p.deweyMemUsed
	}
	size += NDP/8*2 + 4 + p.overlongTableSize()

	buf := make([]byte, size)
	copy(buf, hdrBuf[:hlen])
	off := hlen

	if p.deweyEnabled {
		buf[off] = 1
	}
	off++

	binary.LittleEndian.PutUint64(buf[off:], uint64(p.PreviousFragmentKey))
	off += 8

	binary.LittleEndian.PutUint32(buf[off:], uint32(p.lastSlotIndex))
	off += 4
	for i := 0; i < NDP; i++ {
		binary.LittleEndian.PutUint32(buf[off:], uint32(p.slotOffsets[i]))
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(p.slotMemUsed))
	off += 4
	copy(buf[off:], p.slotMem.Data[:p.slotMemUsed])
	off += p.slotMemUsed

	if p.deweyEnabled {
		binary.LittleEndian.PutUint32(buf[off:], uint32(p.lastDeweyIdx))
		off += 4
		for i := 0; i < NDP; i++ {
			binary.LittleEndian.PutUint32(buf[off:], uint32(p.deweyOffsets[i]))
			off += 4
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(p.deweyMemUsed))
		off += 4
		copy(buf[off:], p.deweyMem.Data[:p.deweyMemUsed])
		off += p.deweyMemUsed
	}

	for i := range p.entriesBitmap {
		binary.LittleEndian.PutUint64(buf[off:], p.entriesBitmap[i])
		off += 8
	}
	for i := range p.overlongBitmap {
		binary.LittleEndian.PutUint64(buf[off:], p.overlongBitmap[i])
		off += 8
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(p.references)))
	off += 4
	for slot, ref := range p.references {
		binary.LittleEndian.PutUint32(buf[off:], uint32(slot))
		off += 4
		off += marshalPageReference(ref, buf[off:])
	}

	SetPageCRC(buf, hlen)
	return buf
}

func (p *KeyValueLeafPage) overlongTableSize() int {
	return len(p.references) * (4 + pageReferenceWireSize)
}

// pageReferenceWireSize is the fixed on-disk size of a PageReference.
const pageReferenceWireSize = 8 + 8 + 8 + 4 + 4 + 8 // db+resource+pagekey+logkey+checksum+hash

func marshalPageReference(r *PageReference, buf []byte) int {
	binary.LittleEndian.PutUint64(buf[0:], r.DatabaseID)
	binary.LittleEndian.PutUint64(buf[8:], r.ResourceID)
	binary.LittleEndian.PutUint64(buf[16:], uint64(r.PageKey))
	binary.LittleEndian.PutUint32(buf[24:], uint32(r.LogKey))
	binary.LittleEndian.PutUint32(buf[28:], r.Checksum)
	copy(buf[32:40], r.Hash[:])
	return pageReferenceWireSize
}

func unmarshalPageReference(buf []byte) *PageReference {
	r := &PageReference{
		DatabaseID: binary.LittleEndian.Uint64(buf[0:]),
		ResourceID: binary.LittleEndian.Uint64(buf[8:]),
		PageKey:    int64(binary.LittleEndian.Uint64(buf[16:])),
		LogKey:     int32(binary.LittleEndian.Uint32(buf[24:])),
		Checksum:   binary.LittleEndian.Uint32(buf[28:]),
	}
	copy(r.Hash[:], buf[32:40])
	return r
}

// DeserializeKeyValueLeafPage decodes buf (as produced by Serialize) into a
// live page, allocating its slot/dewey memory from alloc and copying the
// persisted bytes in. Returns an error on CRC or format-version mismatch.
func DeserializeKeyValueLeafPage(alloc *slab.Allocator, buf []byte) (*KeyValueLeafPage, error) {
	hdr, hlen := UnmarshalHeader(buf)
	if err := VerifyPageCRC(buf, hlen); err != nil {
		return nil, err
	}
	if hdr.Kind != PageKindKeyValueLeaf {
		return nil, fmt.Errorf("pager: expected KeyValueLeaf page, got %s", hdr.Kind)
	}
	if hdr.Version != CurrentFormatVersion {
		return nil, fmt.Errorf("pager: unsupported leaf page format version %d", hdr.Version)
	}

	off := hlen
	deweyEnabled := buf[off] == 1
	off++
	prevFragment := int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	lastSlot := int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	var slotOffsets [NDP]int32
	for i := 0; i < NDP; i++ {
		slotOffsets[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	slotMemSize := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	p := &KeyValueLeafPage{
		alloc:         alloc,
		references:    make(map[int32]*PageReference),
		RecordPageKey: hdr.RecordPageKey,
		Revision:      hdr.Revision,
		IndexType:     hdr.IndexType,
		lastSlotIndex:       lastSlot,
		lastDeweyIdx:        -1,
		deweyEnabled:        deweyEnabled,
		PreviousFragmentKey: prevFragment,
		logger:              log.Default(),
	}
	p.slotOffsets = slotOffsets
	for i := range p.deweyOffsets {
		p.deweyOffsets[i] = -1
	}

	segSize := slotMemSize
	if segSize < initialSlotMemSize {
		segSize = initialSlotMemSize
	}
	seg, err := alloc.Allocate(segSize)
	if err != nil {
		return nil, fmt.Errorf("pager: allocate slot memory on deserialize: %w", err)
	}
	copy(seg.Data, buf[off:off+slotMemSize])
	p.slotMem = seg
	p.slotMemUsed = slotMemSize
	off += slotMemSize

	if deweyEnabled {
		p.lastDeweyIdx = int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		var deweyOffsets [NDP]int32
		for i := 0; i < NDP; i++ {
			deweyOffsets[i] = int32(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
		p.deweyOffsets = deweyOffsets
		deweyMemSize := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		dsegSize := deweyMemSize
		if dsegSize < initialSlotMemSize {
			dsegSize = initialSlotMemSize
		}
		dseg, err := alloc.Allocate(dsegSize)
		if err != nil {
			return nil, fmt.Errorf("pager: allocate dewey memory on deserialize: %w", err)
		}
		copy(dseg.Data, buf[off:off+deweyMemSize])
		p.deweyMem = dseg
		p.deweyMemUsed = deweyMemSize
		off += deweyMemSize
	}

	for i := range p.entriesBitmap {
		p.entriesBitmap[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	for i := range p.overlongBitmap {
		p.overlongBitmap[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}

	count := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	for i := 0; i < count; i++ {
		slot := int32(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		ref := unmarshalPageReference(buf[off:])
		off += pageReferenceWireSize
		p.references[slot] = ref
	}

	return p, nil
}
