package memalloc

import "sync"

var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
)

// Default returns the process-wide Allocator, constructing it on first
// use.
func Default() *Allocator {
	defaultOnce.Do(func() {
		defaultAlloc = New()
	})
	return defaultAlloc
}

// Allocate requests size bytes from the default Allocator.
func Allocate(size int) uintptr {
	return Default().Allocate(size)
}

// Deallocate returns a block previously obtained from Allocate to the
// default Allocator.
func Deallocate(ptr uintptr, size int) {
	Default().Deallocate(ptr, size)
}
