// Package slab implements the off-heap slab allocator that backs every page
// body in the storage engine: fixed power-of-two size classes, region-based
// virtual reservations obtained via anonymous mmap, and proactive physical
// release via madvise(MADV_DONTNEED) under memory pressure.
//
// The mmap/madvise technique is grounded on
// _examples/calvinalkan-agent-task/pkg/slotcache/open.go's
// mmapAndCreateCache, adapted from a file-backed MAP_SHARED mapping to an
// anonymous MAP_PRIVATE one since slab regions here are never file-backed.
package slab

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// Size classes, 4 KiB through 256 KiB, doubling.
var sizeClasses = []int{
	4 << 10, 8 << 10, 16 << 10, 32 << 10, 64 << 10, 128 << 10, 256 << 10,
}

// classFor returns the index of the smallest size class able to hold size,
// or -1 if size exceeds the largest class.
func classFor(size int) int {
	for i, c := range sizeClasses {
		if size <= c {
			return i
		}
	}
	return -1
}

// Segment is a handle to an allocated, off-heap byte range. Data is valid
// until Release is called; callers receive semantically uninitialized
// memory (no zeroing on allocate, matching spec.md §4.1.1).
type Segment struct {
	Data  []byte
	class int
}

// Config controls the allocator's region sizing and virtual-memory budget.
type Config struct {
	// RegionSize is the size of each virtual reservation. Must be >=
	// Parallelism * the largest size class actually in demand. Default 1 MiB.
	RegionSize int
	// MaxBufferSize is the virtual-memory budget; a new region is refused
	// only when the budget would be exceeded AND the class's freed-region
	// queue is empty.
	MaxBufferSize int64
	// Parallelism sizes how many regions are requested per miss.
	Parallelism int
	Logger      *log.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RegionSize <= 0 {
		out.RegionSize = 1 << 20
	}
	if out.Parallelism <= 0 {
		out.Parallelism = 1
	}
	if out.MaxBufferSize <= 0 {
		out.MaxBufferSize = 256 << 20
	}
	if out.Logger == nil {
		out.Logger = log.Default()
	}
	return out
}

// classState holds the free list and bookkeeping for one size class.
type classState struct {
	size int

	mu        sync.Mutex // guards freedRegions
	freeCount atomic.Int32
	freeMu    sync.Mutex
	free      [][]byte // free segments, LIFO

	freedRegions []*region // regions whose physical pages were released

	regions   []*region
	nextStep  atomic.Int64 // next free-count threshold that triggers a release sweep
	releasing atomic.Bool  // CAS flag preventing overlapping release sweeps
}

// Allocator is the off-heap slab allocator. Allocate/Release are mutually
// exclusive only on the region-allocation and budget-release paths;
// steady-state allocate/release is a free-list pop/push under the class's
// own short lock.
type Allocator struct {
	cfg     Config
	classes []*classState

	mu            sync.Mutex // guards the region registries and region allocation
	regionsByID   map[uint64]*region
	sliceRegistry map[uintptr]*region // slice base address -> owning region
	nextRegion    uint64

	totalVirtual  atomic.Int64 // monotonic under steady state
	totalPhysical atomic.Int64
}

// New creates an Allocator with the given configuration.
func New(cfg Config) *Allocator {
	c := cfg.withDefaults()
	a := &Allocator{
		cfg:           c,
		regionsByID:   make(map[uint64]*region),
		sliceRegistry: make(map[uintptr]*region),
	}
	a.classes = make([]*classState, len(sizeClasses))
	for i, sz := range sizeClasses {
		a.classes[i] = &classState{size: sz}
		a.classes[i].nextStep.Store(6000)
	}
	return a
}

// Allocate rounds size up to the smallest size class and returns a segment.
func (a *Allocator) Allocate(size int) (*Segment, error) {
	ci := classFor(size)
	if ci == -1 {
		return nil, fmt.Errorf("%w: %d bytes exceeds the largest class", ErrNoSizeClass, size)
	}
	cs := a.classes[ci]

	if seg := a.popFree(cs); seg != nil {
		return &Segment{Data: seg, class: ci}, nil
	}

	if err := a.refill(ci, cs); err != nil {
		return nil, err
	}
	seg := a.popFree(cs)
	if seg == nil {
		return nil, ErrOutOfMemory
	}
	return &Segment{Data: seg, class: ci}, nil
}

func (a *Allocator) popFree(cs *classState) []byte {
	cs.freeMu.Lock()
	defer cs.freeMu.Unlock()
	n := len(cs.free)
	if n == 0 {
		return nil
	}
	seg := cs.free[n-1]
	cs.free = cs.free[:n-1]
	cs.freeCount.Add(-1)
	return seg
}

func (a *Allocator) pushFree(cs *classState, seg []byte) {
	cs.freeMu.Lock()
	cs.free = append(cs.free, seg)
	cs.freeMu.Unlock()
	cs.freeCount.Add(1)
}

// refill obtains regionsToAllocate := ceil(parallelism/slicesPerRegion)
// regions for class ci, preferring a freed region of the same class before
// reserving fresh virtual memory, per spec.md §4.1.1 step 3.
func (a *Allocator) refill(ci int, cs *classState) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-checked: another goroutine may have refilled already.
	cs.freeMu.Lock()
	haveFree := len(cs.free) > 0
	cs.freeMu.Unlock()
	if haveFree {
		return nil
	}

	slicesPerRegion := a.cfg.RegionSize / cs.size
	if slicesPerRegion < 1 {
		slicesPerRegion = 1
	}
	regionsNeeded := (a.cfg.Parallelism + slicesPerRegion - 1) / slicesPerRegion
	if regionsNeeded < 1 {
		regionsNeeded = 1
	}

	for i := 0; i < regionsNeeded; i++ {
		rg := a.reviveFreedRegion(cs)
		if rg == nil {
			budgetOK := a.totalVirtual.Load()+int64(a.cfg.RegionSize) <= a.cfg.MaxBufferSize
			if !budgetOK {
				if i == 0 {
					return ErrOutOfMemory
				}
				break
			}
			var err error
			rg, err = a.reserveRegion(ci, cs)
			if err != nil {
				if i == 0 {
					return err
				}
				break
			}
		}
		a.sliceRegion(cs, rg)
	}
	return nil
}

// Release returns a segment to its class's free list. Releasing an address
// this allocator does not own is a contract violation.
func (a *Allocator) Release(seg *Segment) error {
	if seg == nil || seg.class < 0 || seg.class >= len(a.classes) {
		return ErrUnknownSegment
	}
	cs := a.classes[seg.class]

	rg := a.regionOwning(seg.Data)
	if rg == nil {
		return ErrUnknownSegment
	}

	a.pushFree(cs, seg.Data)
	rg.unusedMu.Lock()
	rg.unusedCount++
	rg.unusedMu.Unlock()

	newCount := cs.freeCount.Load()
	step := cs.nextStep.Load()
	if int64(newCount) >= step {
		if cs.releasing.CompareAndSwap(false, true) {
			go func() {
				defer cs.releasing.Store(false)
				a.freeUnusedRegionsForBudget(seg.class, 0)
				cs.nextStep.Add(1000)
			}()
		}
	}
	return nil
}

// Stats reports the allocator's current virtual/physical byte counts.
type Stats struct {
	TotalVirtualBytes  int64
	TotalPhysicalBytes int64
}

// Stats returns the allocator's global counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		TotalVirtualBytes:  a.totalVirtual.Load(),
		TotalPhysicalBytes: a.totalPhysical.Load(),
	}
}
