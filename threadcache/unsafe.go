package threadcache

import "unsafe"

func writeNext(addr uintptr, next uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = next
}

func readNext(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}
