package heap

import (
	"unsafe"

	"github.com/orizon-lang/heapcore/internal/gcerrors"
	"github.com/orizon-lang/heapcore/internal/region"
)

// ThreadAllocator is the only producer of new heap objects for the
// goroutine that owns it: no cross-goroutine allocation into another
// allocator's cached region is permitted. Callers typically keep one
// ThreadAllocator per goroutine that allocates, created via Heap.NewAllocator
// and discarded (after SetInactive, if still active) when the goroutine
// exits.
type ThreadAllocator struct {
	heap *Heap

	localRound uint64
	active     bool

	cached []*region.Region // one lazily-populated region per size class
}

// NewAllocator constructs a ThreadAllocator bound to h and joins the
// stop-the-world mutator population in the active state.
func (h *Heap) NewAllocator() *ThreadAllocator {
	t := &ThreadAllocator{
		heap:   h,
		cached: make([]*region.Region, h.geometry.LevelCount()),
		active: true,
	}

	h.stw.enterActive()

	return t
}

// checkpoint implements the safepoint check in allocate's step 1: if the
// collector's round has advanced past this allocator's local copy, it
// reports this goroutine's roots and advances the checkpoint; otherwise, if
// a pause is in effect, it reports this goroutine's roots and then parks
// until resume, matching the literal two-call safepoint protocol (report,
// then either advance or park).
func (t *ThreadAllocator) checkpoint(reportRoots RootScanFunc) {
	global := t.heap.currentRound()

	if t.localRound != global {
		if reportRoots != nil {
			reportRoots(t.reportRoot)
		}

		t.localRound = global
		t.heap.reportedCount.Add(1)

		return
	}

	if t.heap.stw.pauseRequested.Load() && reportRoots != nil {
		reportRoots(t.reportRoot)
	}

	t.heap.stw.checkpoint()
}

func (t *ThreadAllocator) reportRoot(ref unsafe.Pointer) {
	if ref == nil {
		return
	}

	prior := region.SetColor(ref, region.Grey)
	if prior == region.Grey {
		return
	}

	if prior == region.White {
		t.heap.bumpOldObjectCount(ref)
	}

	t.heap.queue.Enqueue(ref)
}

// Allocate implements allocate(size, report_roots): a safepoint check
// followed by bump/freelist allocation from this goroutine's cached region
// for size's size class, requesting a fresh region on exhaustion. Large
// requests (size > the largest cell size class) bypass regions entirely and
// go through the large-object set instead — the Go-native completion of the
// allocation path the reference implementation left as a placeholder.
func (t *ThreadAllocator) Allocate(size uintptr, scanner region.Scanner, reportRoots RootScanFunc) (unsafe.Pointer, error) {
	t.checkpoint(reportRoots)

	if size > t.heap.geometry.MaxCellSize() {
		ptr := t.heap.largeSet.Allocate(size, scanner)
		return ptr, nil
	}

	level, ok := t.heap.geometry.LevelForSize(size)
	if !ok {
		return nil, gcerrors.InvalidSize(size, "ThreadAllocator.Allocate")
	}

	for {
		r := t.cached[level]
		if r == nil {
			next, err := t.heap.requestRegion(level)
			if err != nil {
				return nil, err
			}

			r = next
			t.cached[level] = r
		}

		ptr, ok := r.Allocate()
		if ok {
			if scanner != nil {
				r.SetScanner(ptr, scanner)
			}

			return ptr, nil
		}

		t.heap.publishFull(r)
		t.cached[level] = nil
	}
}

// SetInactive releases this allocator's hold on the stop-the-world
// protocol and reports its roots first, so a thread blocking on non-GC I/O
// does not prevent collection from proceeding.
func (t *ThreadAllocator) SetInactive(reportRoots RootScanFunc) {
	if !t.active {
		return
	}

	if reportRoots != nil {
		reportRoots(t.reportRoot)
	}

	t.heap.stw.exitActive()
	t.active = false
}

// SetActive reverses SetInactive, rejoining the stop-the-world population.
func (t *ThreadAllocator) SetActive() {
	if t.active {
		return
	}

	t.heap.stw.enterActive()
	t.active = true
	t.localRound = t.heap.currentRound() - 1 // force a checkpoint report on next allocate
}

// Close releases this allocator's hold on the mutator population entirely.
// Call when the owning goroutine will never allocate again.
func (t *ThreadAllocator) Close() {
	if t.active {
		t.heap.stw.exitActive()
		t.active = false
	}
}
