//go:build windows

package region

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mapAligned over-reserves size+align bytes with VirtualAlloc and returns
// the REGION_SIZE-aligned window inside it. Unlike the unix mmap path,
// VirtualFree(MEM_RELEASE) requires the exact base address VirtualAlloc
// returned and a zero size, so the "full" mapping here is represented by its
// base address rather than a slice.
func mapAligned(size, align uintptr) (window, full []byte, err error) {
	reserveSize := size + align

	base, err := windows.VirtualAlloc(0, reserveSize, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, nil, fmt.Errorf("region: VirtualAlloc %d bytes: %w", reserveSize, err)
	}

	aligned := (base + align - 1) &^ (align - 1)
	offset := aligned - base

	full = unsafe.Slice((*byte)(unsafe.Pointer(base)), int(reserveSize))

	return full[offset : offset+size : offset+size], full, nil
}

// unmapAligned releases the reservation. VirtualFree with MEM_RELEASE
// requires the exact base VirtualAlloc returned and a zero size, which is
// why full must be the untrimmed mapping mapAligned produced.
func unmapAligned(full []byte) error {
	if full == nil {
		return nil
	}

	base := uintptr(unsafe.Pointer(&full[0]))

	return windows.VirtualFree(base, 0, windows.MEM_RELEASE)
}
