package centralcache

import (
	"sort"

	"github.com/afiff2/memory-pool/sizeclass"
)

const pageMask = ^(uintptr(sizeclass.PageSize) - 1)

// spanIndex resolves a block address to the span that owns it. Small and
// Medium classes register one entry per page (cheap lookup, many spans
// live at once); Large and X-Large classes keep far fewer, larger spans
// and are indexed by base address with a predecessor search instead, since
// Go has no ordered map equivalent to the reference's std::map::upper_bound.
type spanIndex struct {
	byPage bool

	pages map[uintptr]*span

	bases []uintptr
	spans []*span
}

func newSpanIndex(byPage bool) *spanIndex {
	idx := &spanIndex{byPage: byPage}
	if byPage {
		idx.pages = make(map[uintptr]*span)
	}
	return idx
}

func (idx *spanIndex) register(s *span) {
	if idx.byPage {
		for p := 0; p < s.numPages; p++ {
			idx.pages[s.base+uintptr(p)*uintptr(sizeclass.PageSize)] = s
		}
		return
	}
	i := sort.Search(len(idx.bases), func(i int) bool { return idx.bases[i] >= s.base })
	idx.bases = append(idx.bases, 0)
	idx.spans = append(idx.spans, nil)
	copy(idx.bases[i+1:], idx.bases[i:])
	copy(idx.spans[i+1:], idx.spans[i:])
	idx.bases[i] = s.base
	idx.spans[i] = s
}

func (idx *spanIndex) unregister(s *span) {
	if idx.byPage {
		for p := 0; p < s.numPages; p++ {
			delete(idx.pages, s.base+uintptr(p)*uintptr(sizeclass.PageSize))
		}
		return
	}
	i := sort.Search(len(idx.bases), func(i int) bool { return idx.bases[i] >= s.base })
	if i >= len(idx.bases) || idx.bases[i] != s.base {
		return
	}
	idx.bases = append(idx.bases[:i], idx.bases[i+1:]...)
	idx.spans = append(idx.spans[:i], idx.spans[i+1:]...)
}

// resolve returns the span owning addr, or nil.
func (idx *spanIndex) resolve(addr uintptr) *span {
	if idx.byPage {
		return idx.pages[addr&pageMask]
	}
	// upper_bound: first base > addr, then step back one.
	i := sort.Search(len(idx.bases), func(i int) bool { return idx.bases[i] > addr })
	if i == 0 {
		return nil
	}
	s := idx.spans[i-1]
	if addr >= s.base+uintptr(s.numPages)*uintptr(sizeclass.PageSize) {
		return nil
	}
	return s
}
