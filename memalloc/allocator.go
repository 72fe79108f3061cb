// Package memalloc wires ThreadCache, CentralCache, and PageCache into a
// single process-wide allocator. It is the outer layer the other three
// packages deliberately don't provide themselves: singleton wiring,
// borrow-pool bookkeeping, and the plain Go-slice convenience surface a
// caller actually calls Allocate/Deallocate through.
package memalloc

import (
	"github.com/afiff2/memory-pool/centralcache"
	"github.com/afiff2/memory-pool/pagecache"
)

// Stats is a point-in-time snapshot of the allocator's resident memory,
// as tracked at the PageCache tier.
type Stats = pagecache.Stats

// Allocator is a complete three-tier allocator instance. The zero value
// is not usable; construct with New.
type Allocator struct {
	pc   *pagecache.PageCache
	cc   *centralcache.CentralCache
	pool *tcPool
}

// New constructs an Allocator backed by real OS virtual memory.
func New() *Allocator {
	pc := pagecache.New(pagecache.UnixOS)
	cc := centralcache.New(pc)
	return &Allocator{
		pc:   pc,
		cc:   cc,
		pool: newTCPool(cc, pc),
	}
}

// newWithOS is used by tests to substitute a fake OS collaborator.
func newWithOS(os pagecache.OS) *Allocator {
	pc := pagecache.New(os)
	cc := centralcache.New(pc)
	return &Allocator{
		pc:   pc,
		cc:   cc,
		pool: newTCPool(cc, pc),
	}
}

// Allocate returns the address of a block of at least size bytes, or 0 on
// failure. Requests larger than sizeclass.MaxBytes are served directly by
// PageCache; everything else goes through a borrowed ThreadCache.
func (a *Allocator) Allocate(size int) uintptr {
	tc := a.pool.get()
	defer a.pool.put(tc)
	return tc.Allocate(size)
}

// Deallocate returns a block previously obtained from Allocate. ptr == 0
// is a silent no-op; size must match the size originally requested.
func (a *Allocator) Deallocate(ptr uintptr, size int) {
	if ptr == 0 {
		return
	}
	tc := a.pool.get()
	defer a.pool.put(tc)
	tc.Deallocate(ptr, size)
}

// Stats reports the allocator's current resident memory, as tracked by
// its PageCache.
func (a *Allocator) Stats() Stats {
	return a.pc.Stats()
}

// Close releases every byte of OS memory this Allocator ever mapped.
// Callers must not use the Allocator afterward.
func (a *Allocator) Close() {
	a.pool.drainAll()
	a.pc.Close()
}
