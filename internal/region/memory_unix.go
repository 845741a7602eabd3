//go:build unix

package region

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapAligned over-allocates size+align bytes via an anonymous mmap, then
// returns both the untouched full mapping (which munmap must be called with
// verbatim) and the REGION_SIZE-aligned window inside it, mirroring the
// over-allocate-then-align technique used for system allocations elsewhere
// in this codebase. The full mapping is kept alive for the region's entire
// lifetime and is released in one munmap call, exactly once, when the
// region is actually destroyed (not when it is merely recycled through the
// free-region cache).
func mapAligned(size, align uintptr) (window, full []byte, err error) {
	raw, err := unix.Mmap(-1, 0, int(size+align), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("region: mmap %d bytes: %w", size+align, err)
	}

	base := addrOf(raw)
	aligned := (base + align - 1) &^ (align - 1)
	offset := aligned - base

	return raw[offset : offset+size : offset+size], raw, nil
}

func unmapAligned(full []byte) error {
	if full == nil {
		return nil
	}

	return unix.Munmap(full)
}
