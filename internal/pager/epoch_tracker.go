package pager

import (
	"sync"
)

// defaultEpochSlots bounds the number of concurrently active revisions the
// tracker holds when no explicit capacity is configured, per spec.md §4.6.
// A long-running reader beyond this bound is a configuration problem, not
// something the tracker silently works around.
const defaultEpochSlots = 1024

// Ticket is the handle a reader holds for the duration of its revision's
// visibility window. Release must be called exactly once.
type Ticket struct {
	slot     int
	revision int32
	tracker  *RevisionEpochTracker
}

// Release retires the ticket, freeing its slot and potentially advancing
// the tracker's oldest-active watermark.
func (t *Ticket) Release() {
	if t == nil || t.tracker == nil {
		return
	}
	t.tracker.release(t)
}

// RevisionEpochTracker records which revisions currently have live readers,
// so the buffer pool sweeper can tell which cached page revisions a live
// reader may still need (MinActiveRevision). Grounded on
// tinySQL's mvcc.go TransactionManager: a bounded table of active
// transaction IDs plus an oldest-active watermark recomputed on release,
// generalized here from transaction IDs to revision numbers.
type RevisionEpochTracker struct {
	mu           sync.Mutex
	slots        []int32 // revision held by slot, or -1 if free
	used         []bool
	oldestActive int32
	hasActive    bool
}

// NewRevisionEpochTracker creates an empty tracker with capacity slots; a
// non-positive capacity selects the default of 1024 (spec.md §6's
// epoch_slots option).
func NewRevisionEpochTracker(capacity int) *RevisionEpochTracker {
	if capacity <= 0 {
		capacity = defaultEpochSlots
	}
	t := &RevisionEpochTracker{
		slots: make([]int32, capacity),
		used:  make([]bool, capacity),
	}
	for i := range t.slots {
		t.slots[i] = -1
	}
	return t
}

// Capacity reports the tracker's fixed slot count.
func (t *RevisionEpochTracker) Capacity() int { return len(t.slots) }

// Register records revision as actively read and returns a Ticket the
// caller must Release when done. Returns ErrEpochTrackerFull if every slot
// is occupied.
func (t *RevisionEpochTracker) Register(revision int32) (*Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.used {
		if !t.used[i] {
			t.used[i] = true
			t.slots[i] = revision
			if !t.hasActive || revision < t.oldestActive {
				t.oldestActive = revision
				t.hasActive = true
			}
			return &Ticket{slot: i, revision: revision, tracker: t}, nil
		}
	}
	return nil, ErrEpochTrackerFull
}

func (t *RevisionEpochTracker) release(tk *Ticket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.used[tk.slot] {
		return
	}
	t.used[tk.slot] = false
	t.slots[tk.slot] = -1
	t.recomputeOldestLocked()
}

func (t *RevisionEpochTracker) recomputeOldestLocked() {
	t.hasActive = false
	var min int32
	for i := range t.used {
		if !t.used[i] {
			continue
		}
		if !t.hasActive || t.slots[i] < min {
			min = t.slots[i]
			t.hasActive = true
		}
	}
	t.oldestActive = min
}

// MinActiveRevision returns the lowest revision currently registered, and
// whether any revision is active at all. The sweeper keeps any cached page
// whose revision is at or above this value.
func (t *RevisionEpochTracker) MinActiveRevision() (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.oldestActive, t.hasActive
}

// ActiveCount reports the number of currently registered revisions, for
// metrics and tests.
func (t *RevisionEpochTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, u := range t.used {
		if u {
			n++
		}
	}
	return n
}
