// Package centralcache implements the process-wide, per-size-class span
// pool — the middle tier of the allocator's three-tier cache hierarchy.
// It hands out batches of blocks carved from partially-used spans to
// ThreadCaches, and reclaims batches back, tracking block occupancy per
// span via a bitmap.
package centralcache

import (
	"runtime"
	"sync/atomic"

	"github.com/afiff2/memory-pool/pagecache"
	"github.com/afiff2/memory-pool/sizeclass"
)

// maxBytesPerIndex bounds the idle (fully-free) memory a class may keep
// cached before it starts returning spans to PageCache.
const maxBytesPerIndex = 4 * 1024 * 1024

// spinFlag is a test-and-set spin-flag: acquire with acquire semantics,
// release with release semantics, a failed acquirer yields before retrying
// rather than spinning unbounded.
type spinFlag struct {
	held atomic.Int32
}

func (f *spinFlag) lock() {
	for !f.held.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (f *spinFlag) unlock() {
	f.held.Store(0)
}

// classState holds everything CentralCache tracks for a single size class.
// Every public operation holds lock for its whole duration; different
// classes never synchronize with each other.
type classState struct {
	lock spinFlag

	freeList   *span
	emptyCount int

	index *spanIndex
	pool  *spanPool

	_ [24]byte // pads to a 64-byte cache line so adjacent classes' spin-flags never false-share
}

// CentralCache is the middle tier shared by every ThreadCache in the
// process. It is backed by exactly one PageCache.
type CentralCache struct {
	pc      *pagecache.PageCache
	classes [sizeclass.NumClasses]*classState
}

// New constructs a CentralCache drawing pages from pc.
func New(pc *pagecache.PageCache) *CentralCache {
	cc := &CentralCache{pc: pc}
	for i := range cc.classes {
		byPage := i < sizeclass.PageIndexedClasses
		cs := &classState{index: newSpanIndex(byPage)}
		cs.pool = newSpanPool(func() (uintptr, bool) { return cc.pc.AllocateSpan(1) })
		cc.classes[i] = cs
	}
	return cc
}

// Stats is a point-in-time snapshot of one size class's span pool.
type Stats struct {
	SpanCount  int // spans currently on the free list
	EmptyCount int // of those, spans that are fully free
}

// Stats reports class index's current free-list occupancy. An
// out-of-range index reports the zero value.
func (cc *CentralCache) Stats(index int) Stats {
	if index < 0 || index >= sizeclass.NumClasses {
		return Stats{}
	}
	cs := cc.classes[index]

	cs.lock.lock()
	defer cs.lock.unlock()

	count := 0
	for s := cs.freeList; s != nil; s = s.next {
		count++
	}
	return Stats{SpanCount: count, EmptyCount: cs.emptyCount}
}

// FetchRange returns up to maxBatch blocks of class index, chained via
// each block's first word. maxBatch == 0 or an out-of-range index yields
// (0, 0) without locking.
func (cc *CentralCache) FetchRange(index, maxBatch int) (head uintptr, count int) {
	if index < 0 || index >= sizeclass.NumClasses || maxBatch == 0 {
		return 0, 0
	}
	cs := cc.classes[index]

	cs.lock.lock()
	defer cs.lock.unlock()

	if cs.freeList == nil {
		s := cc.fetchFromPageCache(index)
		if s == nil {
			return 0, 0
		}
		cs.pushFront(s)
		cs.emptyCount++
	}

	s := cs.freeList
	wasEmpty := s.allFree()
	blockSize, _ := sizeclass.GetSize(index)

	head, count = s.allocateBatch(maxBatch, blockSize)

	if wasEmpty && count > 0 {
		cs.emptyCount--
	}
	if s.allAllocated() {
		cs.removeFromList(s)
	}
	return head, count
}

// ReturnRange walks the singly-linked chain rooted at start, returning
// each block to its owning span. The chain need not be contiguous within
// a single span. A block that cannot be resolved to any span is a fatal
// misuse of the allocator (double-free or a size mismatch) and panics
// with ErrCorruptState rather than risk mutating an unrelated span.
func (cc *CentralCache) ReturnRange(start uintptr, index int) {
	if start == 0 || index < 0 || index >= sizeclass.NumClasses {
		return
	}
	cs := cc.classes[index]
	blockSize, _ := sizeclass.GetSize(index)
	spanBytes := blockSize * blockCount
	maxEmptySpans := (maxBytesPerIndex + spanBytes - 1) / spanBytes
	if maxEmptySpans < 1 {
		maxEmptySpans = 1
	}

	cs.lock.lock()
	defer cs.lock.unlock()

	p := start
	for p != 0 {
		s := cs.index.resolve(p)
		if s == nil {
			panicCorruptState(p)
		}
		next := readNext(p)

		blkIdx := int((p - s.base) / uintptr(blockSize))
		wasFull := s.allAllocated()
		wasEmpty := s.allFree()

		s.setFree(blkIdx)

		if wasFull {
			cs.pushFront(s)
		}
		if !wasEmpty && s.allFree() {
			cs.emptyCount++
			if cs.emptyCount > maxEmptySpans {
				cc.returnToPageCache(index, s)
			}
		}

		p = next
	}
}

func (cc *CentralCache) fetchFromPageCache(index int) *span {
	pages := sizeclass.SpanPages(index)
	base, ok := cc.pc.AllocateSpan(pages)
	if !ok {
		return nil
	}

	cs := cc.classes[index]
	s := cs.pool.get()
	if s == nil {
		cc.pc.DeallocateSpan(base)
		return nil
	}
	s.base = base
	s.numPages = pages
	s.freeAll()
	s.next, s.prev = nil, nil

	cs.index.register(s)
	return s
}

func (cc *CentralCache) returnToPageCache(index int, s *span) {
	cs := cc.classes[index]
	cs.emptyCount--
	cs.removeFromList(s)
	cs.index.unregister(s)

	base := s.base
	cs.pool.put(s)
	cc.pc.DeallocateSpan(base)
}

func (cs *classState) pushFront(s *span) {
	old := cs.freeList
	s.prev = nil
	s.next = old
	if old != nil {
		old.prev = s
	}
	cs.freeList = s
}

func (cs *classState) removeFromList(s *span) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		cs.freeList = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.prev, s.next = nil, nil
}
