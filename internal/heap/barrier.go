package heap

import (
	"unsafe"

	"github.com/orizon-lang/heapcore/internal/gcerrors"
	"github.com/orizon-lang/heapcore/internal/region"
)

// reGrey is shared by every barrier entry point: it enqueues target, setting
// it GREY, unless it is already GREY (re-enqueuing an already-grey object
// would let the same object occupy the work queue twice and break the
// "applying the same barrier twice is equivalent to once" law). A WHITE
// target is a fresh promotion into this cycle's live set and bumps the
// owning region's old-object count, exactly like every other promotion path.
func (h *Heap) reGrey(target unsafe.Pointer) {
	prior := region.SetColor(target, region.Grey)
	if prior == region.Grey {
		return
	}

	if prior == region.White {
		h.bumpOldObjectCount(target)
	}

	h.queue.Enqueue(target)
}

// reGreyIfWhite is the young-cycle root rule, used at initial mark and at the
// stop-the-world rescan: only a currently WHITE root is promoted, via a CAS that tolerates racing with a worker scanning
// the same object through another path.
func (h *Heap) reGreyIfWhite(ref unsafe.Pointer) {
	if ref == nil {
		return
	}

	if region.GetColor(ref) != region.White {
		return
	}

	if region.TrySetColor(ref, region.White, region.Grey) {
		h.bumpOldObjectCount(ref)
		h.queue.Enqueue(ref)
	}
}

// writeBarrier is the core write_barrier(target, ref) contract: target is an
// object whose slot was just overwritten with ref. It is safe to call with a
// nil ref.
func (h *Heap) writeBarrier(target, ref unsafe.Pointer) {
	if ref == nil || target == nil {
		return
	}

	refColor := region.GetColor(ref)
	targetColor := region.GetColor(target)

	if refColor == region.White && (targetColor == region.Dark || targetColor == region.Black) {
		h.reGrey(target)
		return
	}

	// During full-GC mark, a DARK ref may not yet have been rescanned by
	// this cycle and would otherwise be reclaimed by the full sweep despite
	// target still holding a live reference to it.
	if h.Phase() == PhaseFullMark || h.Phase() == PhaseFullSTW {
		if refColor == region.Dark && (targetColor == region.Dark || targetColor == region.Black) {
			h.reGrey(target)
		}
	}
}

// BarrierStatic is barrier_static(target, ref): the caller already holds
// both object pointers.
func (h *Heap) BarrierStatic(target, ref unsafe.Pointer) {
	h.writeBarrier(target, ref)
}

// classifySlot resolves the cell-aligned object address owning slotAddr by
// region lookup. Outside any region, slotAddr resolves only if it is itself
// the start address of a registered large object; an interior address of a
// large object does not resolve.
func (h *Heap) classifySlot(slotAddr uintptr) (unsafe.Pointer, bool) {
	if cell, inRegion, found := h.registry.IsInRegion(slotAddr); found {
		if !inRegion || !region.IsInUse(cell) {
			return nil, false
		}

		return cell, true
	}

	base := slotAddr
	if h.largeSet.Has(base) {
		return unsafe.Pointer(base), true
	}

	return nil, false
}

// BarrierInRegion is barrier_in_region(slot_addr, ref): the barrier derives
// the enclosing object from slotAddr by region lookup and cell alignment.
// The caller asserts slotAddr belongs to a live cell; use BarrierIfInHeap
// when that cannot be guaranteed.
func (h *Heap) BarrierInRegion(slotAddr uintptr, ref unsafe.Pointer) {
	target, ok := h.classifySlot(slotAddr)
	gcerrors.Assert(ok, "BarrierInRegion: slot %x does not resolve to a live cell", slotAddr)

	h.writeBarrier(target, ref)
}

// BarrierIfInHeap is barrier_if_in_heap(slot_addr, ref): like
// BarrierInRegion, but slotAddr resolving to nothing (outside any region, or
// its cell not in use) is a legal no-op rather than an error.
func (h *Heap) BarrierIfInHeap(slotAddr uintptr, ref unsafe.Pointer) {
	target, ok := h.classifySlot(slotAddr)
	if !ok {
		return
	}

	h.writeBarrier(target, ref)
}
