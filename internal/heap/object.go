package heap

import "unsafe"

// Handle is the mutator-facing view of a heap-allocated cell: its address
// plus the heap it belongs to, used to route field writes through the write
// barrier without the caller having to look up the owning heap itself.
type Handle struct {
	heap *Heap
	ptr  unsafe.Pointer
}

// Ptr returns the cell's raw address. Valid only until the next collection
// cycle sweeps it away; callers must re-resolve after any safepoint if they
// need to retain it across one.
func (h Handle) Ptr() unsafe.Pointer { return h.ptr }

// SetField performs an in-heap reference-slot write: it stores ref into the
// word at byte offset within the cell and runs the write barrier for the
// owning object, exactly the way a hosted language's generated bytecode
// would instrument a field store.
func (h Handle) SetField(offset uintptr, ref Handle) {
	slot := (*unsafe.Pointer)(unsafe.Add(h.ptr, offset))
	*slot = ref.ptr

	h.heap.BarrierStatic(h.ptr, ref.ptr)
}

// Field reads back a reference slot previously written with SetField.
func (h Handle) Field(offset uintptr) unsafe.Pointer {
	slot := (*unsafe.Pointer)(unsafe.Add(h.ptr, offset))
	return *slot
}

// FieldScanner is a Scanner built from a fixed list of byte offsets, each of
// which holds one outgoing reference slot. It covers the common case of a
// fixed-shape object (no embedder-specific hidden-class machinery) without
// requiring a bespoke Scan method per type.
type FieldScanner struct {
	Base    unsafe.Pointer
	Offsets []uintptr
}

// Scan implements region.Scanner.
func (f FieldScanner) Scan(emit func(ref unsafe.Pointer)) {
	for _, off := range f.Offsets {
		slot := (*unsafe.Pointer)(unsafe.Add(f.Base, off))
		if *slot != nil {
			emit(*slot)
		}
	}
}

// AllocateObject is a convenience wrapper over ThreadAllocator.Allocate for
// a fixed-shape object: it allocates size bytes, registers a FieldScanner
// covering refOffsets, and returns a Handle through which the caller issues
// barriered field writes.
func (t *ThreadAllocator) AllocateObject(size uintptr, refOffsets []uintptr, reportRoots RootScanFunc) (Handle, error) {
	ptr, err := t.Allocate(size, nil, reportRoots)
	if err != nil {
		return Handle{}, err
	}

	scanner := FieldScanner{Base: ptr, Offsets: refOffsets}

	if size > t.heap.geometry.MaxCellSize() {
		t.heap.largeSet.SetScanner(uintptr(ptr), scanner)
	} else if r, rok := t.heap.registry.RegionAt(t.heap.registry.RegionOfPointer(uintptr(ptr))); rok {
		r.SetScanner(ptr, scanner)
	}

	return Handle{heap: t.heap, ptr: ptr}, nil
}
