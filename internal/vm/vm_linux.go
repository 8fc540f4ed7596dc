//go:build linux

package vm

import (
	"golang.org/x/sys/unix"
)

func mmap(size uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	return uintptr(Ptr2addr(b)), nil
}

func munmap(p, size uintptr) error {
	return unix.Munmap(addr2slice(p, size))
}

// Linux has no reusable/reuse advice pair; fall back to the willneed/dontneed
// pair instead.
func hintIdle(p, size uintptr) error {
	return unix.Madvise(addr2slice(p, size), unix.MADV_DONTNEED)
}

func hintResident(p, size uintptr) error {
	return unix.Madvise(addr2slice(p, size), unix.MADV_WILLNEED)
}
