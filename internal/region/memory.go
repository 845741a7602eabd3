package region

import "unsafe"

// addrOf returns the address of a byte slice's backing array. Used by both
// platform-specific aligned-allocation paths to compute the alignment
// offset inside an over-allocated reservation.
func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
