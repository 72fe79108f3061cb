package centralcache

import "unsafe"

// writeNext stores the free-list link for a block: the address of the next
// block in the chain, written into the block's own first word. Blocks
// carved by allocateBatch are never touched by Go's allocator, so the raw
// write is safe.
func writeNext(addr uintptr, next uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = next
}

func readNext(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}
