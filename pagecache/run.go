package pagecache

import "unsafe"

// run describes a contiguous range of pages. A run is "free" (present in
// a freeRuns bucket and both boundary maps) or "in-use" (present only in
// the boundary maps). The free flag is an O(1) stand-in for the "search
// the bucket for this run" membership test in the reference design.
type run struct {
	base     uintptr
	numPages int
	prev     *run
	next     *run
	free     bool

	poolNext *run // link used only while the record sits in runPool's free list
}

func (r *run) end() uintptr {
	return r.base + uintptr(r.numPages)*pageSize
}

// runPool hands out run records carved from slab pages fetched from the
// OS one at a time, mirroring the reference PageCache::SpanPool: spans and
// runs both need metadata that outlives and is independent of the Go
// heap, so records live in raw mapped memory rather than as ordinary
// heap-allocated structs.
type runPool struct {
	os       OS
	slabs    []uintptr
	freeHead *run
}

const slabHeaderSize = 64

func newRunPool(os OS) *runPool {
	return &runPool{os: os}
}

func (p *runPool) allocateSlab() bool {
	base, ok := p.os.Map(int(pageSize))
	if !ok {
		return false
	}
	p.slabs = append(p.slabs, base)

	recSize := unsafe.Sizeof(run{})
	count := (int(pageSize) - slabHeaderSize) / int(recSize)
	slotBase := base + slabHeaderSize
	for i := 0; i < count; i++ {
		r := (*run)(unsafe.Pointer(slotBase + uintptr(i)*recSize))
		*r = run{}
		r.poolNext = p.freeHead
		p.freeHead = r
	}
	return true
}

func (p *runPool) get() *run {
	if p.freeHead == nil {
		if !p.allocateSlab() {
			return nil
		}
	}
	r := p.freeHead
	p.freeHead = r.poolNext
	*r = run{}
	return r
}

func (p *runPool) put(r *run) {
	if r == nil {
		return
	}
	*r = run{}
	r.poolNext = p.freeHead
	p.freeHead = r
}

// close unmaps every slab page this pool ever fetched.
func (p *runPool) close() {
	for _, base := range p.slabs {
		p.os.Unmap(base, int(pageSize))
	}
	p.slabs = nil
	p.freeHead = nil
}
