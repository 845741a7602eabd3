package heap

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/heapcore/internal/concurrent"
	"github.com/orizon-lang/heapcore/internal/gcerrors"
	"github.com/orizon-lang/heapcore/internal/region"
)

// Phase identifies which part of a collection cycle, if any, is in
// progress. The write barrier's full-mark DARK-ref rule consults it.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseYoungMark
	PhaseYoungSTW
	PhaseYoungSweep
	PhaseFullMark
	PhaseFullSTW
	PhaseFullSweep
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseYoungMark:
		return "young-mark"
	case PhaseYoungSTW:
		return "young-stw"
	case PhaseYoungSweep:
		return "young-sweep"
	case PhaseFullMark:
		return "full-mark"
	case PhaseFullSTW:
		return "full-stw"
	case PhaseFullSweep:
		return "full-sweep"
	default:
		return "unknown"
	}
}

type regionList = concurrent.List[region.Region, *region.Region]

// Heap is the composition root (component O): the explicitly constructed
// struct a caller builds to obtain a ready-to-use collector, holding every
// other component by reference rather than through package-level globals so
// tests can instantiate as many isolated heaps as they need.
type Heap struct {
	config   *Config
	geometry region.Geometry
	logger   *log.Logger

	registry *region.Registry

	freeLists      []regionList
	fullList       regionList
	youngCleaning  regionList
	fullCleaning   regionList
	remarkingLists []regionList

	queue     *concurrent.WorkQueue[unsafe.Pointer]
	largeSet  *LargeObjectSet
	rootScans *RootScanRegistry
	scheduler *Scheduler

	phase atomic.Int32

	round          atomic.Uint64
	reportedCount  atomic.Int64
	gatheringCount atomic.Int64

	youngRequested atomic.Bool
	fullRequested  atomic.Bool

	stw *stopTheWorld

	cycleMu sync.Mutex // serializes young/full GC cycles

	monitorStop chan struct{}
	monitorDone chan struct{}
}

// NewHeap constructs a Heap ready to allocate from. It is the caller's
// responsibility to keep it alive for as long as any ThreadAllocator built
// from it is in use.
func NewHeap(opts ...Option) *Heap {
	cfg := NewConfig(opts...)
	geom := cfg.geometry()

	h := &Heap{
		config:    cfg,
		geometry:  geom,
		logger:    cfg.Logger,
		registry:  region.NewRegistry(geom, cfg.FreeRegionCache),
		queue:     concurrent.NewWorkQueue[unsafe.Pointer](cfg.WorkQueueCapacity),
		largeSet:  NewLargeObjectSet(),
		rootScans: NewRootScanRegistry(),
		stw:       newStopTheWorld(),
	}

	h.freeLists = make([]regionList, geom.LevelCount())
	h.remarkingLists = make([]regionList, geom.LevelCount())
	h.scheduler = NewScheduler(cfg)

	return h
}

// Config returns the immutable configuration this heap was built with.
func (h *Heap) Config() *Config { return h.config }

// Geometry returns the region/cell layout this heap was built with.
func (h *Heap) Geometry() region.Geometry { return h.geometry }

// LiveRegionCount reports the number of currently registered regions.
func (h *Heap) LiveRegionCount() int64 { return h.registry.LiveCount() }

// LargeObjectCount reports the number of currently tracked large objects.
func (h *Heap) LargeObjectCount() int { return h.largeSet.Len() }

// Phase reports the collector's current phase.
func (h *Heap) Phase() Phase { return Phase(h.phase.Load()) }

// RegisterRootScan appends fn to the root-scan registry (the
// register_root_scan entry point in §6).
func (h *Heap) RegisterRootScan(fn RootScanFunc) {
	h.rootScans.Register(fn)
}

// RegisterConservativeWords registers an explicit word-buffer as a
// conservative root source (the Go-native specialization of
// register_root_scan for stacks Go cannot walk directly).
func (h *Heap) RegisterConservativeWords(words func() []uintptr) {
	h.rootScans.RegisterConservativeWords(words, h.classifyHeapWord)
}

func (h *Heap) classifyHeapWord(w uintptr) (unsafe.Pointer, bool) {
	if w == 0 {
		return nil, false
	}

	if cell, inRegion, found := h.registry.IsInRegion(w); found && inRegion && region.IsInUse(cell) {
		return cell, true
	}

	if h.largeSet.Has(w) {
		return unsafe.Pointer(w), true
	}

	return nil, false
}

// RegisterLarge wraps an embedder-allocated pointer so it participates in
// tracing and sweep as a large object (the register_large entry point).
func (h *Heap) RegisterLarge(ptr unsafe.Pointer, scanner region.Scanner) {
	h.largeSet.Register(ptr, scanner)
}

// requestRegion obtains a region for level from the per-level free list,
// falling back to the registry (which itself recycles from the free-region
// cache before allocating fresh OS memory). Returns a heap-exhaustion error
// and requests a full GC if max_region_count has been reached.
func (h *Heap) requestRegion(level int) (*region.Region, error) {
	if r := h.freeLists[level].Pop(); r != nil {
		return r, nil
	}

	if int64(h.config.MaxRegionCount) > 0 && h.registry.LiveCount() >= int64(h.config.MaxRegionCount) {
		h.RequestFullGC()
		return nil, gcerrors.HeapExhausted(int(h.registry.LiveCount()), h.config.MaxRegionCount)
	}

	return h.registry.New(level)
}

// publishFull hands an exhausted region to the full list, where it becomes
// eligible for the next young/full cycle's cleaning pass.
func (h *Heap) publishFull(r *region.Region) {
	h.fullList.Push(r)
}

// bumpRound advances the global safepoint round, used by ThreadAllocator to
// detect that it owes a root report.
func (h *Heap) bumpRound() uint64 {
	return h.round.Add(1)
}

func (h *Heap) currentRound() uint64 { return h.round.Load() }

// StartMonitor launches the background goroutine that ticks on
// Config.MonitorInterval for the lifetime of the heap, feeding the
// scheduler and, on every tick, driving a collection cycle itself: whichever
// of the young/full predicates holds (if any) runs through the same Collect
// path an explicit caller would use. It runs until Close is called; calling
// it twice without an intervening Close is a no-op.
func (h *Heap) StartMonitor() {
	if h.monitorStop != nil {
		return
	}

	h.monitorStop = make(chan struct{})
	h.monitorDone = make(chan struct{})

	go func() {
		defer close(h.monitorDone)

		h.scheduler.runMonitor(h.monitorStop, h.registry.LiveCount, func() error {
			return h.Collect(context.Background(), false, false)
		}, h.logger)
	}()
}

// Close stops the monitor goroutine, if running, and waits for it to exit.
func (h *Heap) Close() {
	if h.monitorStop == nil {
		return
	}

	close(h.monitorStop)
	<-h.monitorDone

	h.monitorStop = nil
	h.monitorDone = nil
}
