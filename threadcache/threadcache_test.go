package threadcache

import (
	"testing"

	"github.com/afiff2/memory-pool/centralcache"
	"github.com/afiff2/memory-pool/pagecache"
	"github.com/afiff2/memory-pool/sizeclass"
)

func newTestCache() (*ThreadCache, *pagecache.PageCache) {
	pc := pagecache.New(pagecache.UnixOS)
	cc := centralcache.New(pc)
	return New(cc, pc), pc
}

func TestAllocateDeallocateRoundTrip(t *testing.T) {
	tc, pc := newTestCache()
	defer pc.Close()

	sizes := []int{1, 16, 17, 512, 513, 4096, 4097, 65536, 65537, sizeclass.MaxBytes}
	for _, size := range sizes {
		ptr := tc.Allocate(size)
		if ptr == 0 {
			t.Fatalf("Allocate(%d) returned 0", size)
		}
		tc.Deallocate(ptr, size)
	}
}

func TestAllocateZeroUsesAlignment(t *testing.T) {
	tc, pc := newTestCache()
	defer pc.Close()

	ptr := tc.Allocate(0)
	if ptr == 0 {
		t.Fatal("Allocate(0) should still succeed, treated as a minimal request")
	}
	tc.Deallocate(ptr, 0)
}

func TestDeallocateNilIsNoop(t *testing.T) {
	tc, pc := newTestCache()
	defer pc.Close()

	tc.Deallocate(0, 128)
}

func TestLargeObjectBypassesCentralCache(t *testing.T) {
	tc, pc := newTestCache()
	defer pc.Close()

	size := sizeclass.MaxBytes + 1
	ptr := tc.Allocate(size)
	if ptr == 0 {
		t.Fatal("Allocate(MaxBytes+1) failed")
	}
	statsBefore := pc.Stats()
	tc.Deallocate(ptr, size)
	statsAfter := pc.Stats()
	if statsAfter.FreeBytes <= statsBefore.FreeBytes {
		t.Error("large object deallocation should return the span directly to PageCache")
	}
}

// TestFreeListReuse verifies a freed small block is served back out of the
// thread-local free list without another CentralCache round trip: the
// second allocation of the same size returns the same address the first
// deallocation just released, since it must have come off the head of the
// class's free list.
func TestFreeListReuse(t *testing.T) {
	tc, pc := newTestCache()
	defer pc.Close()

	const size = 64
	p1 := tc.Allocate(size)
	if p1 == 0 {
		t.Fatal("Allocate failed")
	}
	tc.Deallocate(p1, size)

	p2 := tc.Allocate(size)
	if p2 != p1 {
		t.Errorf("Allocate after Deallocate = %v, want reused address %v", p2, p1)
	}
}

// TestReturnsHalfOnThreshold drives one class past its 256 KiB local cap
// and verifies the free list shrinks (some blocks moved back to
// CentralCache) rather than growing without bound.
func TestReturnsHalfOnThreshold(t *testing.T) {
	tc, pc := newTestCache()
	defer pc.Close()

	const size = 4096
	index, ok := sizeclass.GetIndex(size)
	if !ok {
		t.Fatal("GetIndex failed")
	}

	// Enough blocks to push freeListSize*blockSize past returnThreshold.
	n := returnThreshold/size + 8
	ptrs := make([]uintptr, 0, n)
	for i := 0; i < n; i++ {
		p := tc.Allocate(size)
		if p == 0 {
			t.Fatalf("Allocate(%d) failed at i=%d", size, i)
		}
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		tc.Deallocate(p, size)
	}

	if tc.freeListSize[index]*size > returnThreshold {
		t.Errorf("freeListSize*blockSize = %d, exceeds threshold %d",
			tc.freeListSize[index]*size, returnThreshold)
	}
}

func TestDrainEmptiesFreeLists(t *testing.T) {
	tc, pc := newTestCache()
	defer pc.Close()

	for _, size := range []int{16, 512, 4096, 65536} {
		p := tc.Allocate(size)
		if p == 0 {
			t.Fatalf("Allocate(%d) failed", size)
		}
		tc.Deallocate(p, size)
	}

	tc.Drain()

	for i, size := range tc.freeList {
		if size != 0 {
			t.Errorf("class %d still has a cached block after Drain", i)
		}
	}
	for i, n := range tc.freeListSize {
		if n != 0 {
			t.Errorf("class %d freeListSize = %d after Drain, want 0", i, n)
		}
	}

	blocks, bytes := tc.Stats()
	if blocks != 0 || bytes != 0 {
		t.Errorf("Stats() after Drain = (%d, %d), want (0, 0)", blocks, bytes)
	}
}

func TestStatsReflectsCachedBlocks(t *testing.T) {
	tc, pc := newTestCache()
	defer pc.Close()

	const size = 64
	p := tc.Allocate(size)
	if p == 0 {
		t.Fatal("Allocate failed")
	}
	tc.Deallocate(p, size)

	blocks, bytes := tc.Stats()
	if blocks == 0 || bytes == 0 {
		t.Errorf("Stats() = (%d, %d), want both > 0 after caching a freed block", blocks, bytes)
	}
}
