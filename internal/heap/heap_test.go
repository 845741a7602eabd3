package heap

import (
	"testing"
	"time"
	"unsafe"

	"github.com/orizon-lang/heapcore/internal/region"
)

func TestPhase_String(t *testing.T) {
	cases := map[Phase]string{
		PhaseIdle:       "idle",
		PhaseYoungMark:  "young-mark",
		PhaseYoungSTW:   "young-stw",
		PhaseYoungSweep: "young-sweep",
		PhaseFullMark:   "full-mark",
		PhaseFullSTW:    "full-stw",
		PhaseFullSweep:  "full-sweep",
		Phase(99):       "unknown",
	}

	for p, want := range cases {
		if got := p.String(); got != want {
			t.Fatalf("Phase(%d).String() = %q, want %q", p, got, want)
		}
	}
}

func TestNewHeap_DefaultsApplied(t *testing.T) {
	h := NewHeap()

	if h.LiveRegionCount() != 0 {
		t.Fatalf("LiveRegionCount() = %d, want 0", h.LiveRegionCount())
	}

	if h.Phase() != PhaseIdle {
		t.Fatalf("Phase() = %v, want idle", h.Phase())
	}

	if h.Config().WorkerCount != 1 {
		t.Fatalf("WorkerCount = %d, want 1", h.Config().WorkerCount)
	}
}

func TestHeap_RequestRegion_HonorsMaxRegionCount(t *testing.T) {
	h := NewHeap(WithMaxRegionCount(1))

	if _, err := h.requestRegion(0); err != nil {
		t.Fatalf("requestRegion(0): %v", err)
	}

	if _, err := h.requestRegion(0); err == nil {
		t.Fatal("expected the second region request to fail past MaxRegionCount")
	}
}

func TestHeap_RequestRegion_ReusesFreeList(t *testing.T) {
	h := NewHeap()

	r, err := h.requestRegion(0)
	if err != nil {
		t.Fatalf("requestRegion: %v", err)
	}

	h.freeLists[0].Push(r)

	r2, err := h.requestRegion(0)
	if err != nil {
		t.Fatalf("requestRegion: %v", err)
	}

	if r2 != r {
		t.Fatal("expected requestRegion to pop the free list before allocating fresh")
	}
}

func TestHeap_ClassifyHeapWord(t *testing.T) {
	h := NewHeap()

	if _, ok := h.classifyHeapWord(0); ok {
		t.Fatal("expected a zero word to never classify as a heap pointer")
	}

	r, err := h.requestRegion(0)
	if err != nil {
		t.Fatalf("requestRegion: %v", err)
	}

	ptr, ok := r.Allocate()
	if !ok {
		t.Fatal("expected region allocate to succeed")
	}

	cell, ok := h.classifyHeapWord(uintptr(ptr))
	if !ok || cell != ptr {
		t.Fatalf("classifyHeapWord(%v) = (%v, %v), want (%v, true)", ptr, cell, ok, ptr)
	}

	large := h.largeSet.Allocate(4096, nil)

	cell, ok = h.classifyHeapWord(uintptr(large))
	if !ok || cell != large {
		t.Fatalf("classifyHeapWord(%v) = (%v, %v), want (%v, true)", large, cell, ok, large)
	}
}

func TestHeap_RegisterLarge(t *testing.T) {
	h := NewHeap()

	var obj int

	ptr := unsafe.Pointer(&obj)
	h.RegisterLarge(ptr, nil)

	if !h.largeSet.Has(uintptr(ptr)) {
		t.Fatal("expected RegisterLarge to track the embedder-owned pointer")
	}

	if region.GetColor(ptr) != region.White {
		t.Fatalf("color = %v, want white for a freshly registered object", region.GetColor(ptr))
	}
}

func TestHeap_StartMonitorClose_StopsCleanly(t *testing.T) {
	h := NewHeap(WithMonitorInterval(time.Millisecond))

	h.StartMonitor()
	h.StartMonitor() // double-start must be a no-op, not a second goroutine

	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})

	go func() {
		h.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after stopping the monitor goroutine")
	}
}

func TestHeap_StartMonitor_DrivesAutomaticFullGCWithoutExplicitCollect(t *testing.T) {
	h := NewHeap(WithMonitorInterval(time.Millisecond), WithMaxRegionCount(2))

	// Push the live region count past MaxRegionCount so ShouldFullGC holds
	// as soon as the monitor ticks, without ever calling h.Collect directly.
	// The regions come straight from the registry (requestRegion refuses to
	// go past the cap) and are published to the full list, which is what a
	// full GC sweeps.
	for i := 0; i < 3; i++ {
		r, err := h.registry.New(0)
		if err != nil {
			t.Fatalf("registry.New: %v", err)
		}

		h.publishFull(r)
	}

	if h.LiveRegionCount() != 3 {
		t.Fatalf("LiveRegionCount() = %d, want 3 before collection", h.LiveRegionCount())
	}

	h.StartMonitor()
	defer h.Close()

	deadline := time.After(time.Second)

	for {
		if h.LiveRegionCount() < 3 {
			break
		}

		select {
		case <-deadline:
			t.Fatal("expected StartMonitor's automatic collection to reclaim unrooted regions without an explicit Collect call")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHeap_RegisterConservativeWords(t *testing.T) {
	h := NewHeap()

	r, err := h.requestRegion(0)
	if err != nil {
		t.Fatalf("requestRegion: %v", err)
	}

	ptr, ok := r.Allocate()
	if !ok {
		t.Fatal("expected region allocate to succeed")
	}

	h.RegisterConservativeWords(func() []uintptr {
		return []uintptr{0, uintptr(ptr)}
	})

	var got []unsafe.Pointer
	h.rootScans.ScanAll(func(ref unsafe.Pointer) { got = append(got, ref) })

	if len(got) != 1 || got[0] != ptr {
		t.Fatalf("got %v, want a single root resolving to %v", got, ptr)
	}
}
