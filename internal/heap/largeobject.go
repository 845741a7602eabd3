package heap

import (
	"sync"
	"unsafe"

	"github.com/orizon-lang/heapcore/internal/region"
)

// largeEntry tracks the scanner and backing storage for one large object.
// The object's property byte lives as the first byte of payload itself
// (exactly like a regular cell), so the region package's CAS helpers work
// unmodified on a large object's address.
type largeEntry struct {
	addr    unsafe.Pointer
	payload []byte
	scanner region.Scanner
}

// LargeObjectSet is the strict set of large heap-object pointers, guarded by
// a read/write lock since inserts are rare and the read path (write-barrier
// classification, conservative scan) dominates.
type LargeObjectSet struct {
	mu      sync.RWMutex
	objects map[uintptr]*largeEntry
}

// NewLargeObjectSet constructs an empty set.
func NewLargeObjectSet() *LargeObjectSet {
	return &LargeObjectSet{objects: make(map[uintptr]*largeEntry)}
}

// Allocate reserves size bytes for a large object, registers it WHITE, and
// returns the address the mutator treats as the object's identity (the same
// address the property byte lives at).
func (s *LargeObjectSet) Allocate(size uintptr, scanner region.Scanner) unsafe.Pointer {
	payload := make([]byte, size)
	addr := unsafe.Pointer(unsafe.SliceData(payload))
	entry := &largeEntry{addr: addr, payload: payload, scanner: scanner}
	region.MarkLarge(addr)

	s.mu.Lock()
	s.objects[uintptr(addr)] = entry
	s.mu.Unlock()

	return addr
}

// Register inserts a pointer the embedder allocated directly (the
// register_large entry point in §6): the embedder is responsible for the
// memory, the set only tracks it for tracing and sweep.
func (s *LargeObjectSet) Register(ptr unsafe.Pointer, scanner region.Scanner) {
	region.MarkLarge(ptr)

	s.mu.Lock()
	s.objects[uintptr(ptr)] = &largeEntry{addr: ptr, scanner: scanner}
	s.mu.Unlock()
}

// SetScanner updates the scan operation for an already-registered large
// object, without touching its backing payload. Used when the scanner
// cannot be constructed until after Allocate has returned the object's
// address (a fixed-field scanner needs the base address to compute its
// slot offsets).
func (s *LargeObjectSet) SetScanner(addr uintptr, scanner region.Scanner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.objects[addr]; ok {
		e.scanner = scanner
	}
}

// Has reports whether addr is a currently registered large object.
func (s *LargeObjectSet) Has(addr uintptr) bool {
	s.mu.RLock()
	_, ok := s.objects[addr]
	s.mu.RUnlock()

	return ok
}

// Scanner returns the registered scan operation for ptr.
func (s *LargeObjectSet) Scanner(ptr unsafe.Pointer) region.Scanner {
	s.mu.RLock()
	e, ok := s.objects[uintptr(ptr)]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	return e.scanner
}

// YoungSweep removes every WHITE large object and leaves everything else
// (GREY, DARK, BLACK) untouched, mirroring young_sweep's large-object pass:
// a young cycle never recolors a large object, it only reclaims the ones
// that turned out unreachable.
func (s *LargeObjectSet) YoungSweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	survivors := 0

	for addr, e := range s.objects {
		if region.GetColor(e.addr) == region.White {
			delete(s.objects, addr)
			continue
		}

		survivors++
	}

	return survivors
}

// FullSweep removes every large object whose color is not survivor,
// resetting survivors to resetTo. Returns the survivor count. Swept inline
// under the writer lock, as the spec requires.
func (s *LargeObjectSet) FullSweep(survivor, resetTo region.Color) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	survivors := 0

	for addr, e := range s.objects {
		if region.GetColor(e.addr) == survivor {
			region.SetColor(e.addr, resetTo)
			survivors++

			continue
		}

		delete(s.objects, addr)
	}

	return survivors
}

// Len reports the current number of registered large objects.
func (s *LargeObjectSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.objects)
}
