// Package threadcache implements the unsynchronized front cache that sits
// between a single caller and CentralCache — the top tier of the
// allocator's three-tier cache hierarchy. A ThreadCache is never shared:
// exactly one owner touches it for its entire lifetime, so none of its
// operations take a lock.
package threadcache

import (
	"github.com/afiff2/memory-pool/centralcache"
	"github.com/afiff2/memory-pool/pagecache"
	"github.com/afiff2/memory-pool/sizeclass"
)

// returnThreshold is the per-class cap, in bytes, on a ThreadCache's own
// free list before it starts returning blocks to CentralCache.
const returnThreshold = 256 * 1024

// ThreadCache is the per-owner front cache. It is not safe for concurrent
// use: callers must guarantee single-owner access, typically by drawing
// instances from a borrow-pool (see the memalloc package).
type ThreadCache struct {
	cc *centralcache.CentralCache
	pc *pagecache.PageCache

	freeList     [sizeclass.NumClasses]uintptr
	freeListSize [sizeclass.NumClasses]int
}

// New constructs a ThreadCache drawing from cc for ordinary requests and
// pc directly for requests larger than sizeclass.MaxBytes.
func New(cc *centralcache.CentralCache, pc *pagecache.PageCache) *ThreadCache {
	return &ThreadCache{cc: cc, pc: pc}
}

// Allocate returns a pointer to at least size bytes, or 0 on failure.
func (tc *ThreadCache) Allocate(size int) uintptr {
	if size <= 0 {
		size = sizeclass.Alignment
	}

	if size > sizeclass.MaxBytes {
		numPages := sizeclass.PagesForBytes(size)
		addr, ok := tc.pc.AllocateSpan(numPages)
		if !ok {
			return 0
		}
		return addr
	}

	index, ok := sizeclass.GetIndex(size)
	if !ok {
		return 0
	}

	if ptr := tc.freeList[index]; ptr != 0 {
		tc.freeList[index] = readNext(ptr)
		tc.freeListSize[index]--
		return ptr
	}

	return tc.fetchFromCentral(index)
}

// Deallocate returns a previously allocated block of size bytes. ptr == 0
// is a silent no-op; size <= 0 is treated as Alignment, as in Allocate.
func (tc *ThreadCache) Deallocate(ptr uintptr, size int) {
	if ptr == 0 {
		return
	}
	if size <= 0 {
		size = sizeclass.Alignment
	}
	if size > sizeclass.MaxBytes {
		tc.pc.DeallocateSpan(ptr)
		return
	}

	index, ok := sizeclass.GetIndex(size)
	if !ok {
		return
	}

	writeNext(ptr, tc.freeList[index])
	tc.freeList[index] = ptr
	tc.freeListSize[index]++

	if tc.shouldReturnToCentral(index) {
		tc.returnToCentral(index)
	}
}

// Stats reports the number of blocks currently cached locally, summed
// over every class, and their total byte footprint.
func (tc *ThreadCache) Stats() (blocks int, bytes int) {
	for index := 0; index < sizeclass.NumClasses; index++ {
		n := tc.freeListSize[index]
		if n == 0 {
			continue
		}
		blockSize, _ := sizeclass.GetSize(index)
		blocks += n
		bytes += n * blockSize
	}
	return blocks, bytes
}

// Drain returns every block currently cached by tc back to CentralCache,
// leaving every class empty. memalloc's borrow-pool keeps an instance's
// free lists intact while it sits in the pool and calls this only when it
// discards an instance (the pool is full) or when the Allocator closes.
func (tc *ThreadCache) Drain() {
	for index := 0; index < sizeclass.NumClasses; index++ {
		if tc.freeList[index] == 0 {
			continue
		}
		tc.cc.ReturnRange(tc.freeList[index], index)
		tc.freeList[index] = 0
		tc.freeListSize[index] = 0
	}
}

func (tc *ThreadCache) shouldReturnToCentral(index int) bool {
	blockSize, ok := sizeclass.GetSize(index)
	if !ok {
		return false
	}
	return tc.freeListSize[index]*blockSize > returnThreshold
}

func (tc *ThreadCache) fetchFromCentral(index int) uintptr {
	batch := sizeclass.BatchCount(index)
	head, count := tc.cc.FetchRange(index, batch)
	if head == 0 {
		return 0
	}

	tc.freeList[index] = readNext(head)
	tc.freeListSize[index] += count - 1
	return head
}

func (tc *ThreadCache) returnToCentral(index int) {
	total := tc.freeListSize[index]
	keep := total / 2
	if keep < 1 {
		keep = 1
	}

	cur := tc.freeList[index]
	for i := 1; i < keep; i++ {
		cur = readNext(cur)
	}
	retHead := readNext(cur)
	writeNext(cur, 0)

	tc.freeListSize[index] = keep
	tc.cc.ReturnRange(retHead, index)
}
