// Package region implements the fixed-size, self-aligned memory regions the
// collector carves into uniform cells, and the registry that maps an
// arbitrary heap address back to its owning region in O(1).
package region

import (
	"sync/atomic"
	"unsafe"
)

// Color is the two-bit tri-color state carried by every cell's property
// byte. WHITE is unreached/garbage, GREY is "on the work queue", DARK is an
// old-generation survivor, BLACK is the transient "fully scanned during full
// GC" state collapsed back to DARK at full-GC end.
type Color uint8

const (
	White Color = iota
	Grey
	Dark
	Black
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Grey:
		return "grey"
	case Dark:
		return "dark"
	case Black:
		return "black"
	default:
		return "invalid"
	}
}

const (
	propInUse    = 1 << 7
	propIsLarge  = 1 << 6
	propColorBit = 0b11
)

// The property byte's fields are in_use (bit 7), is_large (bit 6), color
// (bits 0-1). It sits as the first byte of the cell, which is always 4-byte
// aligned because cell sizes are a power of two no smaller than 64 — so a
// CAS over the containing 4-byte word never reaches outside the cell and
// never touches a neighboring cell's property byte.

// word32At returns the 4-byte-aligned *uint32 whose low byte is the property
// byte at cellAddr.
func word32At(cellAddr unsafe.Pointer) *uint32 {
	return (*uint32)(cellAddr)
}

func loadProp(cellAddr unsafe.Pointer) byte {
	return byte(atomic.LoadUint32(word32At(cellAddr)))
}

func casProp(cellAddr unsafe.Pointer, old, newb byte) bool {
	w := word32At(cellAddr)

	for {
		cur := atomic.LoadUint32(w)
		if byte(cur) != old {
			return false
		}

		next := (cur &^ 0xff) | uint32(newb)
		if atomic.CompareAndSwapUint32(w, cur, next) {
			return true
		}
	}
}

// IsInUse reports whether the cell at cellAddr is currently allocated.
func IsInUse(cellAddr unsafe.Pointer) bool {
	return loadProp(cellAddr)&propInUse != 0
}

// IsLarge reports whether the cell's is_large bit is set. The collector uses
// it to find a large object's scanner in the large-object set and to skip
// region old-object accounting for it; large objects proper live in the
// large-object set, not in a region.
func IsLarge(cellAddr unsafe.Pointer) bool {
	return loadProp(cellAddr)&propIsLarge != 0
}

// GetColor reads the current color without mutating anything else.
func GetColor(cellAddr unsafe.Pointer) Color {
	return Color(loadProp(cellAddr) & propColorBit)
}

// SetInUse marks a freshly bump/freelist-allocated cell live, color WHITE.
func SetInUse(cellAddr unsafe.Pointer) {
	w := word32At(cellAddr)

	for {
		cur := atomic.LoadUint32(w)
		next := (cur &^ 0xff) | propInUse
		if atomic.CompareAndSwapUint32(w, cur, next) {
			return
		}
	}
}

// SetNotInUse clears in_use and resets color to WHITE, as happens when a
// cell is overwritten with an EmptyCell entry during sweep.
func SetNotInUse(cellAddr unsafe.Pointer) {
	w := word32At(cellAddr)

	for {
		cur := atomic.LoadUint32(w)
		next := cur &^ 0xff
		if atomic.CompareAndSwapUint32(w, cur, next) {
			return
		}
	}
}

// TrySetColor performs try_set_color: succeeds iff the current color equals
// expected, preserving in_use/is_large.
func TrySetColor(cellAddr unsafe.Pointer, expected, desired Color) bool {
	for {
		cur := loadProp(cellAddr)
		if Color(cur&propColorBit) != expected {
			return false
		}

		next := (cur &^ propColorBit) | byte(desired)
		if casProp(cellAddr, cur, next) {
			return true
		}
	}
}

// SetColor loops until the CAS succeeds and returns the color observed
// immediately prior to the transition.
func SetColor(cellAddr unsafe.Pointer, desired Color) Color {
	for {
		cur := loadProp(cellAddr)
		prior := Color(cur & propColorBit)
		next := (cur &^ propColorBit) | byte(desired)

		if casProp(cellAddr, cur, next) {
			return prior
		}
	}
}

// MarkLarge sets is_large alongside in_use for an object allocated directly
// from the large-object path.
func MarkLarge(cellAddr unsafe.Pointer) {
	w := word32At(cellAddr)

	for {
		cur := atomic.LoadUint32(w)
		next := (cur &^ 0xff) | propInUse | propIsLarge
		if atomic.CompareAndSwapUint32(w, cur, next) {
			return
		}
	}
}
