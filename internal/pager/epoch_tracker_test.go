package pager

import "testing"

func TestEpochTrackerMinActiveRevision(t *testing.T) {
	tr := NewRevisionEpochTracker(0)
	if _, ok := tr.MinActiveRevision(); ok {
		t.Fatalf("expected no active revision on a fresh tracker")
	}

	t1, err := tr.Register(5)
	if err != nil {
		t.Fatalf("Register(5): %v", err)
	}
	t2, err := tr.Register(3)
	if err != nil {
		t.Fatalf("Register(3): %v", err)
	}
	if min, ok := tr.MinActiveRevision(); !ok || min != 3 {
		t.Fatalf("MinActiveRevision = (%d, %v), want (3, true)", min, ok)
	}

	t2.Release()
	if min, ok := tr.MinActiveRevision(); !ok || min != 5 {
		t.Fatalf("after releasing rev 3: MinActiveRevision = (%d, %v), want (5, true)", min, ok)
	}

	t1.Release()
	if _, ok := tr.MinActiveRevision(); ok {
		t.Fatalf("expected no active revision after all tickets released")
	}
}

func TestEpochTrackerExhaustion(t *testing.T) {
	tr := NewRevisionEpochTracker(8)
	if tr.Capacity() != 8 {
		t.Fatalf("Capacity = %d, want 8", tr.Capacity())
	}
	for i := 0; i < 8; i++ {
		if _, err := tr.Register(int32(i)); err != nil {
			t.Fatalf("Register(%d): unexpected error %v", i, err)
		}
	}
	if _, err := tr.Register(8); err != ErrEpochTrackerFull {
		t.Fatalf("expected ErrEpochTrackerFull once every slot is occupied, got %v", err)
	}
}

func TestEpochTrackerDefaultCapacity(t *testing.T) {
	tr := NewRevisionEpochTracker(0)
	if tr.Capacity() != defaultEpochSlots {
		t.Fatalf("Capacity = %d, want %d", tr.Capacity(), defaultEpochSlots)
	}
}

func TestEpochTrackerDoubleReleaseIsSafe(t *testing.T) {
	tr := NewRevisionEpochTracker(0)
	tk, _ := tr.Register(1)
	tk.Release()
	tk.Release() // must not panic or double-free a slot
	if n := tr.ActiveCount(); n != 0 {
		t.Fatalf("ActiveCount = %d, want 0", n)
	}
}
