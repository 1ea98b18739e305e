package pager

import (
	"bytes"
	"testing"

	"github.com/kallisti-db/pagestore/internal/pager/slab"
)

func newTestAllocator() *slab.Allocator {
	return slab.New(slab.Config{RegionSize: 256 << 10, MaxBufferSize: 64 << 20, Parallelism: 1})
}

func TestLeafPageFreshRoundTrip(t *testing.T) {
	p, err := NewKeyValueLeafPage(newTestAllocator(), 0, 0, IndexTypeDocument, false)
	if err != nil {
		t.Fatalf("NewKeyValueLeafPage: %v", err)
	}
	if err := p.SetSlot(5, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("SetSlot: %v", err)
	}
	if got := p.GetSlot(5); !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("GetSlot(5) = %v, want [1 2 3]", got)
	}
	if got := p.GetSlot(6); got != nil {
		t.Fatalf("GetSlot(6) = %v, want nil", got)
	}
	if !p.HasSlot(5) {
		t.Fatalf("entries_bitmap[5] should be set")
	}
	if p.LastSlotIndex() != 5 {
		t.Fatalf("last_slot_index = %d, want 5", p.LastSlotIndex())
	}
}

func TestLeafPageRejectsEmptySlotZero(t *testing.T) {
	p, _ := NewKeyValueLeafPage(newTestAllocator(), 0, 0, IndexTypeDocument, false)
	if err := p.SetSlot(0, nil); err == nil {
		t.Fatalf("expected rejection of a zero-length payload at slot 0")
	}
}

func TestLeafPageAcceptsSlot1023(t *testing.T) {
	p, _ := NewKeyValueLeafPage(newTestAllocator(), 0, 0, IndexTypeDocument, false)
	if err := p.SetSlot(1023, []byte("x")); err != nil {
		t.Fatalf("SetSlot(1023): %v", err)
	}
	if p.LastSlotIndex() != 1023 {
		t.Fatalf("last_slot_index = %d, want 1023", p.LastSlotIndex())
	}
}

func TestLeafPageSlotOutOfRange(t *testing.T) {
	p, _ := NewKeyValueLeafPage(newTestAllocator(), 0, 0, IndexTypeDocument, false)
	if err := p.SetSlot(NDP, []byte("x")); err == nil {
		t.Fatalf("expected out-of-range error for slot NDP")
	}
}

func TestLeafPageGrowsOnOverflow(t *testing.T) {
	p, err := NewKeyValueLeafPage(newTestAllocator(), 0, 0, IndexTypeDocument, false)
	if err != nil {
		t.Fatalf("NewKeyValueLeafPage: %v", err)
	}
	payload := bytes.Repeat([]byte{0xAB}, 200)
	for i := 0; i < 500; i++ {
		if err := p.SetSlot(i, payload); err != nil {
			t.Fatalf("SetSlot(%d): %v", i, err)
		}
	}
	if len(p.slotMem.Data) < 128<<10 {
		t.Fatalf("expected slot memory to have grown to at least 128KiB, got %d bytes", len(p.slotMem.Data))
	}
	for i := 0; i < 500; i++ {
		if got := p.GetSlot(i); !bytes.Equal(got, payload) {
			t.Fatalf("slot %d corrupted after growth", i)
		}
	}
}

func TestLeafPageSerializeDeserializeRoundTrip(t *testing.T) {
	alloc := newTestAllocator()
	p, err := NewKeyValueLeafPage(alloc, 42, 3, IndexTypeDocument, false)
	if err != nil {
		t.Fatalf("NewKeyValueLeafPage: %v", err)
	}
	for i, v := range [][]byte{{1, 2}, {3, 4, 5}, {9}} {
		if err := p.SetSlot(i*10, v); err != nil {
			t.Fatalf("SetSlot: %v", err)
		}
	}
	ref := &PageReference{DatabaseID: 1, ResourceID: 2, PageKey: 100, LogKey: UnsetLogKey}
	p.SetReference(20, ref)

	buf := p.Serialize()
	p2, err := DeserializeKeyValueLeafPage(alloc, buf)
	if err != nil {
		t.Fatalf("DeserializeKeyValueLeafPage: %v", err)
	}
	if p2.RecordPageKey != 42 || p2.Revision != 3 {
		t.Fatalf("header mismatch: key=%d rev=%d", p2.RecordPageKey, p2.Revision)
	}
	for i, v := range [][]byte{{1, 2}, {3, 4, 5}, {9}} {
		if got := p2.GetSlot(i * 10); !bytes.Equal(got, v) {
			t.Fatalf("slot %d = %v, want %v", i*10, got, v)
		}
	}
	if !p2.IsOverlong(20) {
		t.Fatalf("expected slot 20 to be marked overlong after round-trip")
	}
	got := p2.Reference(20)
	if got == nil || got.PageKey != 100 {
		t.Fatalf("reference round-trip mismatch: %+v", got)
	}
}

func TestLeafPageCloseIsIdempotentAndRefusesWhileGuarded(t *testing.T) {
	p, _ := NewKeyValueLeafPage(newTestAllocator(), 0, 0, IndexTypeDocument, false)
	p.AcquireGuard()
	p.Close()
	if p.IsClosed() {
		t.Fatalf("close must refuse while guard_count > 0")
	}
	p.ReleaseGuard()
	p.Close()
	if !p.IsClosed() {
		t.Fatalf("expected page to be closed once unguarded")
	}
	p.Close() // idempotent
	if !p.IsClosed() {
		t.Fatalf("second close must remain a no-op, not un-close")
	}
}

func TestLeafPageResetBumpsVersion(t *testing.T) {
	p, _ := NewKeyValueLeafPage(newTestAllocator(), 0, 0, IndexTypeDocument, false)
	before := p.Version()
	p.SetSlot(0, []byte("x"))
	p.Reset()
	if p.Version() != before+1 {
		t.Fatalf("version = %d, want %d", p.Version(), before+1)
	}
	if p.HasSlot(0) {
		t.Fatalf("expected all slots cleared after reset")
	}
}
