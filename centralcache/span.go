package centralcache

import (
	"math/bits"
	"unsafe"

	"github.com/afiff2/memory-pool/sizeclass"
)

const (
	blockCount  = sizeclass.BlockCount
	bitmapWords = blockCount / 32
)

// span tracks the block occupancy of one contiguous run of pages owned by
// exactly one size class. Its bitmap bit i is set iff block i is allocated
// to a ThreadCache or beyond; freeCount is always the number of zero bits.
type span struct {
	base      uintptr
	numPages  int
	freeCount int
	bitmap    [bitmapWords]uint32

	prev *span
	next *span

	poolNext *span // link used only while the record sits in a spanPool free list
}

func (s *span) setAllocated(idx int) {
	w, b := idx>>5, uint(idx&31)
	if s.bitmap[w]&(1<<b) == 0 {
		s.bitmap[w] |= 1 << b
		s.freeCount--
	}
}

func (s *span) setFree(idx int) {
	w, b := idx>>5, uint(idx&31)
	if s.bitmap[w]&(1<<b) != 0 {
		s.bitmap[w] &^= 1 << b
		s.freeCount++
	}
}

func (s *span) allFree() bool      { return s.freeCount == blockCount }
func (s *span) allAllocated() bool { return s.freeCount == 0 }

func (s *span) freeAll() {
	for i := range s.bitmap {
		s.bitmap[i] = 0
	}
	s.freeCount = blockCount
}

// allocateBatch carves up to min(maxBatch, freeCount) blocks from the
// bitmap, chaining them in strictly increasing block-index order by writing
// the address of the next block into each carved block's first word.
func (s *span) allocateBatch(maxBatch, blockSize int) (head uintptr, count int) {
	toGrab := maxBatch
	if s.freeCount < toGrab {
		toGrab = s.freeCount
	}
	var tail uintptr
	for w := 0; w < bitmapWords && count < toGrab; w++ {
		avail := ^s.bitmap[w]
		for avail != 0 && count < toGrab {
			b := bits.TrailingZeros32(avail)
			idx := w*32 + b
			s.setAllocated(idx)

			blk := s.base + uintptr(idx*blockSize)
			if head == 0 {
				head = blk
			} else {
				writeNext(tail, blk)
			}
			tail = blk
			count++

			avail &= avail - 1
		}
	}
	if tail != 0 {
		writeNext(tail, 0)
	}
	return head, count
}

// spanPool hands out span records carved from slab pages fetched from
// PageCache one at a time, mirroring the record pool used for pagecache's
// own run records. Each size class owns its own pool so that the pool's
// internal free list is protected by the same spin-flag that guards the
// class as a whole.
type spanPool struct {
	fetchPage func() (uintptr, bool)
	slabs     []uintptr
	freeHead  *span
}

const spanSlabHeaderSize = 64

func newSpanPool(fetchPage func() (uintptr, bool)) *spanPool {
	return &spanPool{fetchPage: fetchPage}
}

func (p *spanPool) allocateSlab() bool {
	base, ok := p.fetchPage()
	if !ok {
		return false
	}
	p.slabs = append(p.slabs, base)

	recSize := unsafe.Sizeof(span{})
	count := (int(sizeclass.PageSize) - spanSlabHeaderSize) / int(recSize)
	slotBase := base + spanSlabHeaderSize
	for i := 0; i < count; i++ {
		s := (*span)(unsafe.Pointer(slotBase + uintptr(i)*recSize))
		*s = span{}
		s.poolNext = p.freeHead
		p.freeHead = s
	}
	return true
}

func (p *spanPool) get() *span {
	if p.freeHead == nil {
		if !p.allocateSlab() {
			return nil
		}
	}
	s := p.freeHead
	p.freeHead = s.poolNext
	*s = span{}
	return s
}

func (p *spanPool) put(s *span) {
	if s == nil {
		return
	}
	*s = span{}
	s.poolNext = p.freeHead
	p.freeHead = s
}
