package pagecache

import "golang.org/x/sys/unix"

// OS is the allocator's two-call contract with the operating system:
// page-granular anonymous virtual memory, mapped and unmapped as whole
// spans. bytes is always a whole number of pages.
type OS interface {
	// Map returns the base address of a fresh, zeroed, read/write,
	// private anonymous mapping of the given size, or ok=false if the OS
	// refuses.
	Map(bytes int) (addr uintptr, ok bool)
	// Unmap releases a mapping previously returned by Map. addr and bytes
	// must match a prior Map call exactly.
	Unmap(addr uintptr, bytes int)
}

// unixOS is the production OS implementation, backed by mmap/munmap.
type unixOS struct{}

// UnixOS is the default OS collaborator on platforms with mmap/munmap.
var UnixOS OS = unixOS{}

func (unixOS) Map(bytes int) (uintptr, bool) {
	data, err := unix.Mmap(-1, 0, bytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, false
	}
	return addrOf(data), true
}

func (unixOS) Unmap(addr uintptr, bytes int) {
	_ = unix.Munmap(bytesAt(addr, bytes))
}
