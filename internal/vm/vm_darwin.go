//go:build darwin

package vm

import (
	"golang.org/x/sys/unix"
)

func mmap(size uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	return Ptr2addr(b), nil
}

func munmap(p, size uintptr) error {
	return unix.Munmap(addr2slice(p, size))
}

// Darwin offers the preferred reusable/reuse advice pair: REUSABLE marks
// pages discardable under memory pressure without unmapping them, REUSE
// un-discards them before the mutator touches them again.
func hintIdle(p, size uintptr) error {
	return unix.Madvise(addr2slice(p, size), unix.MADV_FREE_REUSABLE)
}

func hintResident(p, size uintptr) error {
	return unix.Madvise(addr2slice(p, size), unix.MADV_FREE_REUSE)
}
