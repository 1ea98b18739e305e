package pager

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/kallisti-db/pagestore/internal/pager/slab"
)

// initialSlotMemSize is the initial capacity of a fresh slot_memory segment
// (spec.md §4.2: "Initial capacity 64 KiB, grows by doubling").
const initialSlotMemSize = 64 << 10

// KeyValueLeafPage is the record page: a fixed capacity of NDP = 1024
// record slots backed by off-heap byte regions, grounded on tinySQL's
// slotted_page.go (forward-growing slot directory, backward/arena-style
// record bytes, InsertRecord/UpdateRecord/DeleteRecord/Compact), extended
// here with the spec's entries/overlong bitmaps, DeweyID table, and
// embedded-reference map for overlong records.
type KeyValueLeafPage struct {
	mu sync.Mutex

	alloc *slab.Allocator

	slotMem      *slab.Segment
	slotMemUsed  int // bytes of slotMem currently occupied by live+stale records
	deweyMem     *slab.Segment
	deweyMemUsed int
	deweyEnabled bool

	slotOffsets  [NDP]int32 // byte offset into slotMem.Data, or -1
	deweyOffsets [NDP]int32

	entriesBitmap  bitset
	overlongBitmap bitset

	references map[int32]*PageReference

	RecordPageKey int64
	Revision      int32
	IndexType     IndexType
	lastSlotIndex int32
	lastDeweyIdx  int32

	// PreviousFragmentKey links this on-disk fragment to the next-older
	// fragment of the same record page, forming the chain the versioning
	// combiner walks to materialize a page at a given revision. NullPageKey
	// marks the base of the chain.
	PreviousFragmentKey int64

	version    atomic.Uint32
	hot        atomic.Bool
	guardCount atomic.Int32
	closed     atomic.Bool

	logger *log.Logger
}

// bitset is a fixed NDP-bit presence/overflow bitmap.
type bitset [NDP / 64]uint64

func (b *bitset) set(i int)   { b[i/64] |= 1 << uint(i%64) }
func (b *bitset) clear(i int) { b[i/64] &^= 1 << uint(i%64) }
func (b *bitset) get(i int) bool {
	return b[i/64]&(1<<uint(i%64)) != 0
}
func (b *bitset) clearAll() { *b = bitset{} }

// NewKeyValueLeafPage creates a fresh, empty leaf page for recordPageKey at
// the given revision, allocating its initial 64 KiB slot-memory segment
// from alloc.
func NewKeyValueLeafPage(alloc *slab.Allocator, recordPageKey int64, revision int32, it IndexType, deweyIDsStored bool) (*KeyValueLeafPage, error) {
	seg, err := alloc.Allocate(initialSlotMemSize)
	if err != nil {
		return nil, fmt.Errorf("leaf page: allocate slot memory: %w", err)
	}
	p := &KeyValueLeafPage{
		alloc:         alloc,
		slotMem:       seg,
		deweyEnabled:  deweyIDsStored,
		references:    make(map[int32]*PageReference),
		RecordPageKey: recordPageKey,
		Revision:      revision,
		IndexType:     it,
		lastSlotIndex: -1,
		lastDeweyIdx:  -1,
		PreviousFragmentKey: NullPageKey,
		logger:        log.Default(),
	}
	for i := range p.slotOffsets {
		p.slotOffsets[i] = -1
		p.deweyOffsets[i] = -1
	}
	if deweyIDsStored {
		dseg, err := alloc.Allocate(initialSlotMemSize)
		if err != nil {
			alloc.Release(seg)
			return nil, fmt.Errorf("leaf page: allocate dewey memory: %w", err)
		}
		p.deweyMem = dseg
	}
	return p, nil
}

// Version returns the frame-reuse counter.
func (p *KeyValueLeafPage) Version() uint32 { return p.version.Load() }

// IsHot reports the clock second-chance bit.
func (p *KeyValueLeafPage) IsHot() bool { return p.hot.Load() }

// MarkHot sets the clock second-chance bit.
func (p *KeyValueLeafPage) MarkHot() { p.hot.Store(true) }

// ClearHot clears the clock second-chance bit.
func (p *KeyValueLeafPage) ClearHot() { p.hot.Store(false) }

// GuardCount reports the number of live guards on this page.
func (p *KeyValueLeafPage) GuardCount() int32 { return p.guardCount.Load() }

// AcquireGuard increments the guard count and marks the page hot. This must
// be called only inside the owning shard's per-key critical section (see
// bufferpool.go's GetAndGuard), never as a separate check-then-act step.
func (p *KeyValueLeafPage) AcquireGuard() {
	p.guardCount.Add(1)
	p.hot.Store(true)
}

// ReleaseGuard decrements the guard count. Never blocks.
func (p *KeyValueLeafPage) ReleaseGuard() { p.guardCount.Add(-1) }

// IsClosed reports whether Close has already completed.
func (p *KeyValueLeafPage) IsClosed() bool { return p.closed.Load() }

// LastSlotIndex returns the highest slot index ever set.
func (p *KeyValueLeafPage) LastSlotIndex() int32 { return p.lastSlotIndex }

// recordHeaderSize is the 4-byte length prefix preceding each slot's bytes
// in slot_memory, 4-byte aligned per spec.md §3.1.
const recordHeaderSize = 4

func align4(n int) int { return (n + 3) &^ 3 }

// SetSlot writes record slot with payload data. If the slot already holds a
// record whose stored capacity matches the new size, the bytes are
// overwritten in place; otherwise space is bump-allocated from the arena
// (compacting first on shortfall), and slot_offsets/last_slot_index are
// updated under a single critical section.
func (p *KeyValueLeafPage) SetSlot(slot int, data []byte) error {
	if slot < 0 || slot >= NDP {
		return ErrSlotOutOfRange
	}
	if len(data) == 0 {
		return ErrRejectedEmptySlot
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrPageClosed
	}

	need := recordHeaderSize + align4(len(data))

	if p.entriesBitmap.get(slot) {
		off := int(p.slotOffsets[slot])
		oldLen := int(binary.LittleEndian.Uint32(p.slotMem.Data[off:]))
		if align4(oldLen) == align4(len(data)) {
			binary.LittleEndian.PutUint32(p.slotMem.Data[off:], uint32(len(data)))
			copy(p.slotMem.Data[off+recordHeaderSize:], data)
			if slot > int(p.lastSlotIndex) {
				p.lastSlotIndex = int32(slot)
			}
			return nil
		}
	}

	if p.slotMemUsed+need > len(p.slotMem.Data) {
		p.compactLocked()
	}
	if p.slotMemUsed+need > len(p.slotMem.Data) {
		if err := p.growLocked(p.slotMemUsed + need); err != nil {
			return err
		}
	}

	off := p.slotMemUsed
	binary.LittleEndian.PutUint32(p.slotMem.Data[off:], uint32(len(data)))
	copy(p.slotMem.Data[off+recordHeaderSize:], data)
	p.slotMemUsed += need

	p.slotOffsets[slot] = int32(off)
	p.entriesBitmap.set(slot)
	if slot > int(p.lastSlotIndex) {
		p.lastSlotIndex = int32(slot)
	}
	return nil
}

// SetSlotDirect copies all of src into slot; it behaves exactly like
// SetSlot. DeserializeKeyValueLeafPage does not use it: it copies the
// persisted slot memory in one block.
func (p *KeyValueLeafPage) SetSlotDirect(slot int, src []byte) error {
	return p.SetSlot(slot, src)
}

// GetSlot returns a view over slot's bytes with the length prefix
// stripped, or nil if the slot is not set. The returned slice aliases the
// page's backing memory and is valid only while the caller holds a live
// guard on the page.
func (p *KeyValueLeafPage) GetSlot(slot int) []byte {
	if slot < 0 || slot >= NDP {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.entriesBitmap.get(slot) {
		return nil
	}
	off := int(p.slotOffsets[slot])
	n := int(binary.LittleEndian.Uint32(p.slotMem.Data[off:]))
	return p.slotMem.Data[off+recordHeaderSize : off+recordHeaderSize+n]
}

// HasSlot reports whether slot is occupied.
func (p *KeyValueLeafPage) HasSlot(slot int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entriesBitmap.get(slot)
}

// IsOverlong reports whether slot's record overflowed into an embedded
// child-page reference rather than being stored inline.
func (p *KeyValueLeafPage) IsOverlong(slot int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlongBitmap.get(slot)
}

// SetReference records an embedded PageReference for an overlong slot.
func (p *KeyValueLeafPage) SetReference(slot int, ref *PageReference) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overlongBitmap.set(slot)
	p.references[int32(slot)] = ref
}

// Reference returns the embedded PageReference for an overlong slot, or
// nil if none is set.
func (p *KeyValueLeafPage) Reference(slot int) *PageReference {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.references[int32(slot)]
}

// References returns every embedded PageReference this page carries,
// walked by the trie (spec.md §3.1's metadata-page contract).
func (p *KeyValueLeafPage) References() map[int32]*PageReference {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int32]*PageReference, len(p.references))
	for k, v := range p.references {
		out[k] = v
	}
	return out
}

// SetDeweyID writes a DeweyID label for slot, following the same
// length-prefixed layout as slot_memory. A no-op if DeweyID storage is
// disabled for this resource.
func (p *KeyValueLeafPage) SetDeweyID(slot int, data []byte) error {
	if !p.deweyEnabled {
		return nil
	}
	if slot < 0 || slot >= NDP {
		return ErrSlotOutOfRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	need := recordHeaderSize + align4(len(data))
	if p.deweyMemUsed+need > len(p.deweyMem.Data) {
		if err := p.growDeweyLocked(p.deweyMemUsed + need); err != nil {
			return err
		}
	}
	off := p.deweyMemUsed
	binary.LittleEndian.PutUint32(p.deweyMem.Data[off:], uint32(len(data)))
	copy(p.deweyMem.Data[off+recordHeaderSize:], data)
	p.deweyMemUsed += need
	p.deweyOffsets[slot] = int32(off)
	if slot > int(p.lastDeweyIdx) {
		p.lastDeweyIdx = int32(slot)
	}
	return nil
}

// GetDeweyID returns slot's DeweyID label, or nil if absent or disabled.
func (p *KeyValueLeafPage) GetDeweyID(slot int) []byte {
	if !p.deweyEnabled || slot < 0 || slot >= NDP {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	off := p.deweyOffsets[slot]
	if off < 0 {
		return nil
	}
	n := int(binary.LittleEndian.Uint32(p.deweyMem.Data[off:]))
	return p.deweyMem.Data[int(off)+recordHeaderSize : int(off)+recordHeaderSize+n]
}

// Clone produces a fresh page with the same record-page key, revision,
// index type, fragment link, and contents as p, backed by its own slab
// segments. Used by the write path to turn a materialized pre-modification
// snapshot into the working copy the writer mutates, so the snapshot
// itself stays untouched.
func (p *KeyValueLeafPage) Clone() (*KeyValueLeafPage, error) {
	out, err := NewKeyValueLeafPage(p.alloc, p.RecordPageKey, p.Revision, p.IndexType, p.deweyEnabled)
	if err != nil {
		return nil, err
	}
	out.PreviousFragmentKey = p.PreviousFragmentKey
	copySlots(p, out)
	return out, nil
}

// compactLocked reclaims space occupied by stale (overwritten, differently
// sized) record bytes by rewriting every live slot contiguously from the
// start of the arena. Callers must hold p.mu.
func (p *KeyValueLeafPage) compactLocked() {
	fresh := make([]byte, len(p.slotMem.Data))
	off := 0
	for i := 0; i < NDP; i++ {
		if !p.entriesBitmap.get(i) {
			continue
		}
		oldOff := int(p.slotOffsets[i])
		n := int(binary.LittleEndian.Uint32(p.slotMem.Data[oldOff:]))
		total := recordHeaderSize + align4(n)
		copy(fresh[off:], p.slotMem.Data[oldOff:oldOff+total])
		p.slotOffsets[i] = int32(off)
		off += total
	}
	copy(p.slotMem.Data, fresh[:off])
	p.slotMemUsed = off
}

// growLocked doubles slot_memory until it can hold need bytes, copying
// live bytes into the new segment and returning the old one to the
// allocator only after the copy has committed. Callers must hold p.mu.
func (p *KeyValueLeafPage) growLocked(need int) error {
	newSize := len(p.slotMem.Data)
	for newSize < need {
		newSize *= 2
	}
	seg, err := p.alloc.Allocate(newSize)
	if err != nil {
		return fmt.Errorf("leaf page: grow slot memory: %w", err)
	}
	copy(seg.Data, p.slotMem.Data[:p.slotMemUsed])
	old := p.slotMem
	p.slotMem = seg
	if err := p.alloc.Release(old); err != nil {
		p.logger.Printf("leaf page: release old slot segment after grow: %v", err)
	}
	return nil
}

func (p *KeyValueLeafPage) growDeweyLocked(need int) error {
	newSize := len(p.deweyMem.Data)
	for newSize < need {
		newSize *= 2
	}
	seg, err := p.alloc.Allocate(newSize)
	if err != nil {
		return fmt.Errorf("leaf page: grow dewey memory: %w", err)
	}
	copy(seg.Data, p.deweyMem.Data[:p.deweyMemUsed])
	old := p.deweyMem
	p.deweyMem = seg
	if err := p.alloc.Release(old); err != nil {
		p.logger.Printf("leaf page: release old dewey segment after grow: %v", err)
	}
	return nil
}

// Reset marks all slots absent, bumps the version counter, and clears the
// HOT bit so the next occupant of this frame starts from a clean slate. The
// backing segments themselves are kept, still attached to p.slotMem/p.deweyMem,
// for reuse by that next occupant; Reset does not madvise them away. The
// allocator only exposes MADV_DONTNEED at region granularity
// (freeUnusedRegionsForBudget, triggered by allocation pressure), because a
// region backs many same-class segments at once — calling madvise on a
// single segment's slice would discard the physical pages of every other
// live segment sharing that region. Per-segment release happens only when
// Close releases the segments back to the allocator, which may in turn
// reclaim the whole region once nothing else references it.
func (p *KeyValueLeafPage) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entriesBitmap.clearAll()
	p.overlongBitmap.clearAll()
	p.references = make(map[int32]*PageReference)
	for i := range p.slotOffsets {
		p.slotOffsets[i] = -1
		p.deweyOffsets[i] = -1
	}
	p.slotMemUsed = 0
	p.deweyMemUsed = 0
	p.lastSlotIndex = -1
	p.lastDeweyIdx = -1
	p.version.Add(1)
	p.hot.Store(false)
}

// Close performs the one-shot transition to closed, releasing both backing
// segments to the allocator. Idempotent. Refuses while guard_count > 0,
// logging a diagnostic and returning rather than erroring, matching
// spec.md §4.2.1.
func (p *KeyValueLeafPage) Close() {
	if p.closed.Load() {
		return
	}
	if p.guardCount.Load() > 0 {
		p.logger.Printf("leaf page: close refused, guard_count=%d for record page %d",
			p.guardCount.Load(), p.RecordPageKey)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return
	}
	if p.guardCount.Load() > 0 {
		return
	}
	if err := p.alloc.Release(p.slotMem); err != nil {
		p.logger.Printf("leaf page: release slot memory: %v", err)
	}
	if p.deweyMem != nil {
		if err := p.alloc.Release(p.deweyMem); err != nil {
			p.logger.Printf("leaf page: release dewey memory: %v", err)
		}
	}
	p.closed.Store(true)
}
