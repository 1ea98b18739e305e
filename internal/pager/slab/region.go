package slab

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// region is a large contiguous virtual reservation sliced into equal-size
// segments belonging to one size class. The virtual mapping outlives the
// physical pages: madvise(MADV_DONTNEED) releases the latter while the
// former stays registered for O(1) reuse through the class's freed-region
// queue.
type region struct {
	base        []byte // the mmap'd backing slice; base address is &base[0]
	classIdx    int
	classSize   int
	sliceCount  int
	unusedMu    sync.Mutex
	unusedCount int  // slices currently on the free list that belong to this region
	mapped      bool // false once madvise(DONTNEED) has released physical pages
}

func (rg *region) containsAddr(addr uintptr) bool {
	start := uintptr(0)
	if len(rg.base) > 0 {
		start = sliceAddr(rg.base)
	}
	end := start + uintptr(len(rg.base))
	return addr >= start && addr < end
}

func sliceAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// reserveRegion maps a fresh anonymous region for class ci and registers it.
// Callers must hold a.mu.
func (a *Allocator) reserveRegion(ci int, cs *classState) (*region, error) {
	b, err := unix.Mmap(-1, 0, a.cfg.RegionSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap region: %v", ErrOutOfMemory, err)
	}
	sliceCount := a.cfg.RegionSize / cs.size
	rg := &region{base: b, classIdx: ci, classSize: cs.size, sliceCount: sliceCount, mapped: true}

	a.nextRegion++
	id := a.nextRegion
	a.regionsByID[id] = rg
	cs.regions = append(cs.regions, rg)

	a.totalVirtual.Add(int64(a.cfg.RegionSize))
	a.totalPhysical.Add(int64(a.cfg.RegionSize))
	return rg, nil
}

// reviveFreedRegion pops a physically released region off the class's freed
// queue, if one is available. The virtual mapping was retained across
// MADV_DONTNEED; touching the bytes again simply faults in fresh zeroed
// physical pages.
func (a *Allocator) reviveFreedRegion(cs *classState) *region {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	n := len(cs.freedRegions)
	if n == 0 {
		return nil
	}
	rg := cs.freedRegions[n-1]
	cs.freedRegions = cs.freedRegions[:n-1]
	rg.mapped = true
	a.totalPhysical.Add(int64(len(rg.base)))
	return rg
}

// sliceRegion cuts rg into classSize slices, registers each slice's base
// address in the reverse-lookup registry, and pushes them all onto the
// class's free list. Callers must hold a.mu.
func (a *Allocator) sliceRegion(cs *classState, rg *region) {
	for i := 0; i < rg.sliceCount; i++ {
		lo := i * rg.classSize
		hi := lo + rg.classSize
		slice := rg.base[lo:hi:hi]
		a.sliceRegistry[sliceAddr(slice)] = rg
		cs.freeMu.Lock()
		cs.free = append(cs.free, slice)
		cs.freeMu.Unlock()
		cs.freeCount.Add(1)
	}
	rg.unusedMu.Lock()
	rg.unusedCount = 0
	rg.unusedMu.Unlock()
}

// regionOwning locates the region that handed out data, or nil if the
// address is foreign to this allocator. An O(1) registry lookup: every
// slice's base address is registered when its region is sliced, so the
// release hot path never scans the region table.
func (a *Allocator) regionOwning(data []byte) *region {
	if len(data) == 0 {
		return nil
	}
	addr := sliceAddr(data)
	a.mu.Lock()
	defer a.mu.Unlock()
	rg := a.sliceRegistry[addr]
	if rg == nil || !rg.containsAddr(addr) {
		return nil
	}
	return rg
}

// freeUnusedRegionsForBudget walks regions of the given class whose every
// slice is currently free, releases their physical pages via
// MADV_DONTNEED, and moves them to the class's freed-region queue. Stops
// once the virtual budget (plus needed) is satisfied or no region
// qualifies, per spec.md §4.1.1.
func (a *Allocator) freeUnusedRegionsForBudget(classIdx int, needed int64) {
	cs := a.classes[classIdx]

	a.mu.Lock()
	candidates := append([]*region(nil), cs.regions...)
	a.mu.Unlock()

	for _, rg := range candidates {
		if a.totalVirtual.Load()+needed <= a.cfg.MaxBufferSize {
			return
		}
		rg.unusedMu.Lock()
		qualifies := rg.mapped && rg.unusedCount >= rg.sliceCount
		rg.unusedMu.Unlock()
		if !qualifies {
			continue
		}
		if err := unix.Madvise(rg.base, unix.MADV_DONTNEED); err != nil {
			// The segment stays off the freed queue; the class counter
			// remains the authority (spec.md §4.1.3).
			a.cfg.Logger.Printf("slab: madvise(DONTNEED) failed for region: %v", err)
			continue
		}
		a.removeFreeSlicesOfRegion(cs, rg)

		rg.mapped = false
		a.cfg.Logger.Printf("slab: released physical pages of a %d-byte region", len(rg.base))

		cs.mu.Lock()
		cs.freedRegions = append(cs.freedRegions, rg)
		cs.mu.Unlock()

		released := int64(len(rg.base))
		for {
			cur := a.totalPhysical.Load()
			next := cur - released
			if next < 0 {
				next = 0
			}
			if a.totalPhysical.CompareAndSwap(cur, next) {
				break
			}
		}
	}
}

// removeFreeSlicesOfRegion drops this region's slices from the class free
// list so a subsequent Allocate cannot hand out memory whose physical pages
// were just released.
func (a *Allocator) removeFreeSlicesOfRegion(cs *classState, rg *region) {
	addr := sliceAddr(rg.base)
	end := addr + uintptr(len(rg.base))
	cs.freeMu.Lock()
	kept := cs.free[:0]
	for _, s := range cs.free {
		sa := sliceAddr(s)
		if sa >= addr && sa < end {
			cs.freeCount.Add(-1)
			continue
		}
		kept = append(kept, s)
	}
	cs.free = kept
	cs.freeMu.Unlock()
}
