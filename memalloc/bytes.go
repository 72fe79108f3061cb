package memalloc

import "unsafe"

// Bytes reinterprets a pointer returned by Allocate as a byte slice of
// the requested size, for callers that want to read or write through the
// allocation directly rather than handle a raw uintptr.
func Bytes(ptr uintptr, size int) []byte {
	if ptr == 0 || size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
}
