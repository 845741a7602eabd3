package heap

import (
	"testing"

	"github.com/orizon-lang/heapcore/internal/region"
)

func TestThreadAllocator_Allocate_SmallCell(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	ptr, err := ta.Allocate(32, nil, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if !region.IsInUse(ptr) {
		t.Fatal("expected the allocated cell to be in_use")
	}
}

func TestThreadAllocator_Allocate_LargeBypassesRegions(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	big := h.geometry.MaxCellSize() + 1

	ptr, err := ta.Allocate(big, nil, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if !region.IsLarge(ptr) {
		t.Fatal("expected an oversized request to be tracked as a large object")
	}

	if h.LargeObjectCount() != 1 {
		t.Fatalf("LargeObjectCount() = %d, want 1", h.LargeObjectCount())
	}
}

func TestThreadAllocator_Allocate_ExhaustsRegionThenGetsFresh(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	r, err := ta.Allocate(32, nil, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	level, ok := h.geometry.LevelForSize(32)
	if !ok {
		t.Fatal("expected 32 bytes to resolve to a level")
	}

	cached := ta.cached[level]
	if cached == nil {
		t.Fatal("expected a cached region for the size class")
	}

	for i := 0; i < cached.CellCount(); i++ {
		if _, err := ta.Allocate(32, nil, nil); err != nil {
			t.Fatalf("Allocate iteration %d: %v", i, err)
		}
	}

	if ta.cached[level] == cached {
		t.Fatal("expected the original region to be replaced once exhausted")
	}

	_ = r
}

func TestThreadAllocator_Checkpoint_ReportsRootsOnNewRound(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	h.bumpRound()

	var reported bool

	ta.checkpoint(func(emit Emit) { reported = true })

	if !reported {
		t.Fatal("expected checkpoint to report roots on a new round")
	}

	if h.reportedCount.Load() != 1 {
		t.Fatalf("reportedCount = %d, want 1", h.reportedCount.Load())
	}
}

func TestThreadAllocator_Checkpoint_ReportsRootsDuringPauseWithoutRoundAdvance(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	// Simulate a pause already in effect without going through
	// requestPause, which would block on this very goroutine's RLock.
	h.stw.pauseRequested.Store(true)

	var reported bool

	ta.checkpoint(func(emit Emit) {
		reported = true
		// Clear the pause before stw.checkpoint() runs so this goroutine
		// does not park waiting for a resume nobody will send.
		h.stw.pauseRequested.Store(false)
	})

	if !reported {
		t.Fatal("expected checkpoint to report roots when a pause is in effect, even with no round advance")
	}
}

func TestThreadAllocator_Checkpoint_NoPauseNoRoundAdvance_DoesNotReport(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	var reported bool

	ta.checkpoint(func(emit Emit) { reported = true })

	if reported {
		t.Fatal("did not expect a root report with neither a round advance nor a pause in effect")
	}
}

func TestThreadAllocator_ReportRoot_WhiteRef_BumpsOldObjectCount(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()
	defer ta.Close()

	r, next := allocTestCell(t, h)

	ref := unsafePointerFromUintptr(next())

	before := r.OldObjectCount()

	ta.reportRoot(ref)

	if got := r.OldObjectCount(); got != before+1 {
		t.Fatalf("OldObjectCount() = %d, want %d (reportRoot must census a white->grey promotion)", got, before+1)
	}

	if region.GetColor(ref) != region.Grey {
		t.Fatalf("ref color = %v, want grey", region.GetColor(ref))
	}
}

func TestThreadAllocator_SetInactiveThenActive_ForcesNextCheckpoint(t *testing.T) {
	h := NewHeap()
	ta := h.NewAllocator()

	ta.SetInactive(nil)
	ta.SetActive()

	var reported bool
	ta.checkpoint(func(emit Emit) { reported = true })

	if !reported {
		t.Fatal("expected SetActive to force a root report on the next checkpoint")
	}

	ta.Close()
}
