package slab

import "errors"

var (
	// ErrOutOfMemory is returned when the allocator can neither reuse a
	// freed region nor reserve a new one within the configured budget.
	ErrOutOfMemory = errors.New("slab: out of memory")

	// ErrUnknownSegment is returned when Release is called with an address
	// that does not belong to any region this allocator owns.
	ErrUnknownSegment = errors.New("slab: release of unknown segment")

	// ErrNoSizeClass is returned when a requested size exceeds the largest
	// defined size class.
	ErrNoSizeClass = errors.New("slab: no size class for requested size")
)
