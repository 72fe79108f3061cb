package centralcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/afiff2/memory-pool/pagecache"
	"github.com/afiff2/memory-pool/sizeclass"
)

func TestFetchRangeZeroBatchOrBadIndex(t *testing.T) {
	pc := pagecache.New(pagecache.UnixOS)
	defer pc.Close()
	cc := New(pc)

	if head, count := cc.FetchRange(0, 0); head != 0 || count != 0 {
		t.Errorf("FetchRange(0,0) = (%v,%v), want (0,0)", head, count)
	}
	if head, count := cc.FetchRange(sizeclass.NumClasses, 4); head != 0 || count != 0 {
		t.Errorf("FetchRange(out-of-range,4) = (%v,%v), want (0,0)", head, count)
	}
}

// TestBitmapCorrectness drains an entire fresh span with batches of up to
// blockCount blocks, verifies it becomes unreachable from the free list
// once fully allocated, then frees every block back in reverse order and
// verifies the span is fully free again and emptyCount rose back to 1.
func TestBitmapCorrectness(t *testing.T) {
	pc := pagecache.New(pagecache.UnixOS)
	defer pc.Close()
	cc := New(pc)

	const index = 0 // smallest class, BatchCount == 64
	var blocks []uintptr
	for len(blocks) < blockCount {
		head, count := cc.FetchRange(index, blockCount)
		if count == 0 {
			t.Fatalf("FetchRange returned 0 blocks after %d carved", len(blocks))
		}
		for p := head; p != 0; {
			next := readNext(p)
			blocks = append(blocks, p)
			p = next
		}
	}
	if len(blocks) != blockCount {
		t.Fatalf("carved %d blocks, want %d", len(blocks), blockCount)
	}

	cs := cc.classes[index]
	if cs.freeList != nil {
		t.Error("span should be unlinked from freeList once fully allocated")
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		writeNext(blocks[i], 0)
		cc.ReturnRange(blocks[i], index)
	}

	if cs.freeList == nil || !cs.freeList.allFree() {
		t.Error("span should be back on freeList and fully free")
	}
	if cs.emptyCount != 1 {
		t.Errorf("emptyCount = %d after freeing every block, want 1", cs.emptyCount)
	}
}

// TestIdleSpanCap forces enough spans into existence that the class would
// otherwise accumulate more idle memory than its cap allows, then releases
// everything and verifies the excess was handed back to PageCache rather
// than retained.
func TestIdleSpanCap(t *testing.T) {
	pc := pagecache.New(pagecache.UnixOS)
	defer pc.Close()
	cc := New(pc)

	const index = 0
	blockSize, _ := sizeclass.GetSize(index)
	spanBytes := blockSize * blockCount
	maxEmptySpans := (maxBytesPerIndex + spanBytes - 1) / spanBytes
	if maxEmptySpans < 1 {
		maxEmptySpans = 1
	}

	numSpans := maxEmptySpans + 3
	var allBlocks [][]uintptr
	for s := 0; s < numSpans; s++ {
		var blocks []uintptr
		for len(blocks) < blockCount {
			head, count := cc.FetchRange(index, blockCount)
			if count == 0 {
				t.Fatalf("FetchRange exhausted early at span %d", s)
			}
			for p := head; p != 0; {
				next := readNext(p)
				blocks = append(blocks, p)
				p = next
			}
		}
		allBlocks = append(allBlocks, blocks)
	}

	statsBefore := pc.Stats()

	for _, blocks := range allBlocks {
		for i := len(blocks) - 1; i >= 0; i-- {
			writeNext(blocks[i], 0)
			cc.ReturnRange(blocks[i], index)
		}
	}

	statsAfter := pc.Stats()
	classStats := cc.Stats(index)

	require.LessOrEqualf(t, classStats.EmptyCount, maxEmptySpans,
		"emptyCount exceeds cap: %+v", classStats)
	require.Equal(t, maxEmptySpans, classStats.EmptyCount,
		"expected the excess spans to have been returned, leaving exactly the cap")
	require.Greater(t, statsAfter.FreeBytes, statsBefore.FreeBytes,
		"expected PageCache to receive returned spans")
}

// TestReturnRangeCorruptState verifies that returning a block which does
// not resolve to any tracked span is treated as a fatal caller-misuse
// assertion rather than silently mutating an unrelated span.
func TestReturnRangeCorruptState(t *testing.T) {
	pc := pagecache.New(pagecache.UnixOS)
	defer pc.Close()
	cc := New(pc)

	const index = 0
	require.Panics(t, func() {
		cc.ReturnRange(0xdeadbeef, index)
	})
}
