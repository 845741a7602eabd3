package heap

import (
	"testing"
	"unsafe"

	"github.com/orizon-lang/heapcore/internal/region"
)

func TestFieldScanner_Scan_SkipsNilSlots(t *testing.T) {
	buf := make([]byte, 16)
	base := unsafe.Pointer(&buf[0])

	var child int
	childPtr := unsafe.Pointer(&child)

	slot0 := (*unsafe.Pointer)(unsafe.Add(base, 0))
	*slot0 = childPtr

	fs := FieldScanner{Base: base, Offsets: []uintptr{0, 8}}

	var got []unsafe.Pointer
	fs.Scan(func(ref unsafe.Pointer) { got = append(got, ref) })

	if len(got) != 1 || got[0] != childPtr {
		t.Fatalf("got %v, want a single emit for the non-nil slot", got)
	}
}

func TestThreadAllocator_AllocateObject_SmallCell_RegistersScanner(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	handle, err := ta.AllocateObject(32, []uintptr{0}, nil)
	if err != nil {
		t.Fatalf("AllocateObject: %v", err)
	}

	if !region.IsInUse(handle.Ptr()) {
		t.Fatal("expected the allocated object to be in_use")
	}

	base := h.registry.RegionOfPointer(uintptr(handle.Ptr()))

	r, ok := h.registry.RegionAt(base)
	if !ok {
		t.Fatal("expected the owning region to be registered")
	}

	if r.ScannerOf(handle.Ptr()) == nil {
		t.Fatal("expected AllocateObject to register a FieldScanner for the cell")
	}
}

func TestThreadAllocator_AllocateObject_Large_RegistersScanner(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	big := h.geometry.MaxCellSize() + 1

	handle, err := ta.AllocateObject(big, nil, nil)
	if err != nil {
		t.Fatalf("AllocateObject: %v", err)
	}

	if !region.IsLarge(handle.Ptr()) {
		t.Fatal("expected the oversized object to be tracked as large")
	}

	if h.largeSet.Scanner(handle.Ptr()) == nil {
		t.Fatal("expected AllocateObject to register a scanner for the large object")
	}

	if !h.largeSet.Has(uintptr(handle.Ptr())) {
		t.Fatal("expected the large object's backing payload to still be tracked")
	}
}

func TestHandle_SetFieldAndField_RoundTrip(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	parent, err := ta.AllocateObject(32, []uintptr{0}, nil)
	if err != nil {
		t.Fatalf("AllocateObject(parent): %v", err)
	}

	child, err := ta.AllocateObject(32, nil, nil)
	if err != nil {
		t.Fatalf("AllocateObject(child): %v", err)
	}

	parent.SetField(0, child)

	if got := parent.Field(0); got != child.Ptr() {
		t.Fatalf("Field(0) = %v, want %v", got, child.Ptr())
	}
}
