package pagecache

import "unsafe"

// addrOf returns the address of a byte slice's backing storage.
func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// bytesAt reinterprets a raw address and length as a byte slice. The
// caller must guarantee addr/length describe a single live mapping.
func bytesAt(addr uintptr, length int) []byte {
	if addr == 0 || length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}
