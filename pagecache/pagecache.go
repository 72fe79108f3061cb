// Package pagecache implements the process-wide pool of variable-length
// page runs backed by OS virtual memory — the bottom tier of the
// allocator's three-tier cache hierarchy.
package pagecache

import (
	"sort"
	"sync"

	"github.com/afiff2/memory-pool/sizeclass"
)

const pageSize = uintptr(sizeclass.PageSize)

// Stats is a point-in-time snapshot of PageCache's resident memory.
type Stats struct {
	MappedBytes int // bytes obtained from the OS for runs, still mapped; run-record slab pages are not counted
	FreeBytes   int // bytes currently idle in freeRuns
	RunCount    int // number of live runs (free + in-use)
}

// PageCache is the top-level page-run allocator. All state is guarded by
// a single mutex. centralcache calls in while holding a class's spin-flag,
// so the lock order is class-flag before page-mutex, never the reverse.
type PageCache struct {
	mu sync.Mutex

	os   OS
	pool *runPool

	freeRuns map[int]*run // numPages -> head of a doubly-linked free list
	freeKeys []int        // sorted ascending, kept in sync with freeRuns

	runStart map[uintptr]*run // base address -> run (free and in-use)
	runEnd   map[uintptr]*run // end address -> run (free and in-use)

	mappedBytes int
}

// New constructs a PageCache backed by the given OS collaborator.
func New(os OS) *PageCache {
	return &PageCache{
		os:       os,
		pool:     newRunPool(os),
		freeRuns: make(map[int]*run),
		runStart: make(map[uintptr]*run),
		runEnd:   make(map[uintptr]*run),
	}
}

// AllocateSpan serves a request for numPages contiguous pages by
// first-fit over the free-run index, splitting a larger run if one is
// found, or falling through to the OS on a miss.
func (pc *PageCache) AllocateSpan(numPages int) (uintptr, bool) {
	if numPages <= 0 {
		return 0, false
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if key, found := pc.lowerBoundKey(numPages); found {
		head := pc.freeRuns[key]
		pc.detachFree(head)

		if head.numPages > numPages {
			tail := pc.pool.get()
			if tail == nil {
				pc.pushFree(head)
				return 0, false
			}
			tail.base = head.base + uintptr(numPages)*pageSize
			tail.numPages = head.numPages - numPages

			delete(pc.runEnd, head.end())
			head.numPages = numPages

			pc.registerRun(tail)
			pc.pushFree(tail)
			pc.registerRun(head)
		}
		return head.base, true
	}

	base, ok := pc.os.Map(numPages * int(pageSize))
	if !ok {
		return 0, false
	}
	pc.mappedBytes += numPages * int(pageSize)

	r := pc.pool.get()
	if r == nil {
		pc.os.Unmap(base, numPages*int(pageSize))
		pc.mappedBytes -= numPages * int(pageSize)
		return 0, false
	}
	r.base = base
	r.numPages = numPages
	pc.registerRun(r)
	return base, true
}

// DeallocateSpan returns a previously allocated span to the free-run
// index, coalescing with any adjacent free neighbors. An address this
// PageCache never handed out is silently ignored.
func (pc *PageCache) DeallocateSpan(addr uintptr) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	r, ok := pc.runStart[addr]
	if !ok {
		return
	}

	if right, ok := pc.runStart[r.end()]; ok && pc.detachFree(right) {
		pc.unregisterRun(right)
		delete(pc.runEnd, r.end())
		r.numPages += right.numPages
		pc.runEnd[r.end()] = r
		pc.pool.put(right)
	}

	if left, ok := pc.runEnd[r.base]; ok && pc.detachFree(left) {
		delete(pc.runEnd, left.end())
		left.numPages += r.numPages
		pc.runEnd[left.end()] = left

		delete(pc.runStart, r.base)
		pc.pool.put(r)
		r = left
	}

	pc.pushFree(r)
}

// Close unmaps every span this PageCache ever obtained from the OS,
// including any backing the record pool's own slab pages.
func (pc *PageCache) Close() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	for addr, r := range pc.runStart {
		pc.os.Unmap(addr, r.numPages*int(pageSize))
	}
	pc.runStart = make(map[uintptr]*run)
	pc.runEnd = make(map[uintptr]*run)
	pc.freeRuns = make(map[int]*run)
	pc.freeKeys = nil
	pc.mappedBytes = 0
	pc.pool.close()
}

// Stats returns a snapshot of PageCache's current resident memory.
func (pc *PageCache) Stats() Stats {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	freeBytes := 0
	for pages, head := range pc.freeRuns {
		for r := head; r != nil; r = r.next {
			freeBytes += pages * int(pageSize)
		}
	}
	return Stats{
		MappedBytes: pc.mappedBytes,
		FreeBytes:   freeBytes,
		RunCount:    len(pc.runStart),
	}
}

func (pc *PageCache) lowerBoundKey(numPages int) (int, bool) {
	i := sort.SearchInts(pc.freeKeys, numPages)
	if i < len(pc.freeKeys) {
		return pc.freeKeys[i], true
	}
	return 0, false
}

func (pc *PageCache) insertKey(k int) {
	i := sort.SearchInts(pc.freeKeys, k)
	if i < len(pc.freeKeys) && pc.freeKeys[i] == k {
		return
	}
	pc.freeKeys = append(pc.freeKeys, 0)
	copy(pc.freeKeys[i+1:], pc.freeKeys[i:])
	pc.freeKeys[i] = k
}

func (pc *PageCache) removeKey(k int) {
	i := sort.SearchInts(pc.freeKeys, k)
	if i >= len(pc.freeKeys) || pc.freeKeys[i] != k {
		return
	}
	pc.freeKeys = append(pc.freeKeys[:i], pc.freeKeys[i+1:]...)
}

func (pc *PageCache) pushFree(r *run) {
	head := pc.freeRuns[r.numPages]
	r.free = true
	r.next = head
	r.prev = nil
	if head != nil {
		head.prev = r
	} else {
		pc.insertKey(r.numPages)
	}
	pc.freeRuns[r.numPages] = r
}

// detachFree removes r from its free-run bucket if it is actually there,
// and reports whether it was. A run with free==false is left untouched.
func (pc *PageCache) detachFree(r *run) bool {
	if r == nil || !r.free {
		return false
	}
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		pc.freeRuns[r.numPages] = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	}
	if pc.freeRuns[r.numPages] == nil {
		delete(pc.freeRuns, r.numPages)
		pc.removeKey(r.numPages)
	}
	r.prev, r.next, r.free = nil, nil, false
	return true
}

func (pc *PageCache) registerRun(r *run) {
	pc.runStart[r.base] = r
	pc.runEnd[r.end()] = r
}

func (pc *PageCache) unregisterRun(r *run) {
	delete(pc.runStart, r.base)
	delete(pc.runEnd, r.end())
}
