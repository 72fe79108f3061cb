package memalloc

import (
	"runtime"

	"github.com/afiff2/memory-pool/centralcache"
	"github.com/afiff2/memory-pool/pagecache"
	"github.com/afiff2/memory-pool/threadcache"
)

// tcPool is a buffered-channel borrow-pool standing in for the OS-thread
// affinity a real ThreadCache assumes: Get hands out an idle instance (or
// builds a fresh one), Put returns it. A borrowed instance keeps its free
// lists intact across borrows, so cached batches are not wasted between
// calls; an instance is only drained back to CentralCache when the pool
// is already full and would otherwise discard it outright.
type tcPool struct {
	ch chan *threadcache.ThreadCache
	cc *centralcache.CentralCache
	pc *pagecache.PageCache
}

func newTCPool(cc *centralcache.CentralCache, pc *pagecache.PageCache) *tcPool {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return &tcPool{
		ch: make(chan *threadcache.ThreadCache, n),
		cc: cc,
		pc: pc,
	}
}

func (p *tcPool) get() *threadcache.ThreadCache {
	select {
	case tc := <-p.ch:
		return tc
	default:
		return threadcache.New(p.cc, p.pc)
	}
}

func (p *tcPool) put(tc *threadcache.ThreadCache) {
	select {
	case p.ch <- tc:
	default:
		tc.Drain()
	}
}

// drainAll drains and discards every instance currently idle in the pool.
// Instances checked out at the moment of the call are not reachable and
// are left to the caller holding them.
func (p *tcPool) drainAll() {
	for {
		select {
		case tc := <-p.ch:
			tc.Drain()
		default:
			return
		}
	}
}
