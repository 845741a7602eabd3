package heap

import (
	"context"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/heapcore/internal/region"
)

// workerBalanceFactor bounds how many objects a mark worker drains from its
// local queue before re-checking whether it owes the global queue a
// feedback batch, keeping one worker from hoarding a long dependency chain.
const workerBalanceFactor = 128

// RequestYoungGC and RequestFullGC let mutator-side code (an allocator that
// just saw its region list run dry, for instance) ask the monitor loop to
// run a cycle sooner than its next scheduled check would. Requests are
// sticky booleans consumed (and cleared) by the next Collect call.
func (h *Heap) RequestYoungGC() { h.youngRequested.Store(true) }

// RequestFullGC is the explicit counterpart to RequestYoungGC for a caller
// that already knows only a full cycle will help (e.g. MaxRegionCount was
// just reached).
func (h *Heap) RequestFullGC() { h.fullRequested.Store(true) }

// Collect runs exactly one collection cycle: a full GC if the scheduler's
// full-GC predicate holds (or full is forced), otherwise a young GC if the
// young predicate holds (or young is forced). Safe to call concurrently;
// cycles are serialized internally.
func (h *Heap) Collect(ctx context.Context, forceFull, forceYoung bool) error {
	h.cycleMu.Lock()
	defer h.cycleMu.Unlock()

	live := h.registry.LiveCount()
	requestedFull := h.fullRequested.Swap(false)
	requestedYoung := h.youngRequested.Swap(false)

	switch {
	case forceFull || requestedFull || h.scheduler.ShouldFullGC(live):
		return h.runFullGC(ctx)
	case forceYoung || requestedYoung || h.scheduler.ShouldYoungGC(h.queue.Occupancy(), h.queue.Cap(), live):
		return h.runYoungGC(ctx)
	default:
		return nil
	}
}

func (h *Heap) dispatchMarkWorkers(ctx context.Context, scan func(unsafe.Pointer, *[]unsafe.Pointer), waitForReported bool) error {
	g, ctx := errgroup.WithContext(ctx)
	n := h.config.WorkerCount
	if n < 1 {
		n = 1
	}

	for i := 0; i < n; i++ {
		g.Go(func() error {
			return h.markWorker(ctx, scan, waitForReported)
		})
	}

	return g.Wait()
}

// markWorker runs the global-gather / local-process / feedback loop
// described for both young and full mark phases, parameterized by scan
// (which encodes the phase-specific color-transition rule) and whether the
// worker must wait for every mutator to have reported before treating an
// empty queue as termination.
func (h *Heap) markWorker(ctx context.Context, scan func(ref unsafe.Pointer, local *[]unsafe.Pointer), waitForReported bool) error {
	var local []unsafe.Pointer

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		queueSize := h.queue.Occupancy()
		if queueSize == 0 && len(local) == 0 && (!waitForReported || h.allMutatorsReported()) {
			return nil
		}

		gathering := h.gatheringCount.Add(1)
		batch := (int64(queueSize) + gathering) / (gathering + 1)

		for ; batch > 0; batch-- {
			v, ok := h.queue.TryDequeue()
			if !ok {
				break
			}

			local = append(local, v)
		}

		h.gatheringCount.Add(-1)

		for len(local) > 0 {
			n := workerBalanceFactor
			if n > len(local) {
				n = len(local)
			}

			batch := local[:n]
			local = local[n:]

			for _, obj := range batch {
				scan(obj, &local)
			}

			feedback := len(local) / 2
			for feedback > 0 {
				tail := local[len(local)-1]
				if !h.queue.TryEnqueue(tail) {
					break
				}

				local = local[:len(local)-1]
				feedback--
			}
		}
	}
}

func (h *Heap) allMutatorsReported() bool {
	return h.reportedCount.Load() >= h.stw.totalMutators.Load()
}

func (h *Heap) scannerOf(ptr unsafe.Pointer) region.Scanner {
	if region.IsLarge(ptr) {
		return h.largeSet.Scanner(ptr)
	}

	base := h.registry.RegionOfPointer(uintptr(ptr))

	r, ok := h.registry.RegionAt(base)
	if !ok {
		return nil
	}

	return r.ScannerOf(ptr)
}

func (h *Heap) emitRef(local *[]unsafe.Pointer, promote func(ref unsafe.Pointer)) func(ref unsafe.Pointer) {
	return func(ref unsafe.Pointer) {
		if ref == nil {
			return
		}

		promote(ref)
	}
}

// youngScan is the young-mark color rule: a WHITE reference is promoted to
// GREY and queued exactly once; anything else (already GREY or DARK) is
// skipped.
func (h *Heap) youngScan(ref unsafe.Pointer, local *[]unsafe.Pointer) {
	for {
		color := region.GetColor(ref)
		if color != region.White {
			return
		}

		if region.TrySetColor(ref, region.White, region.Grey) {
			h.bumpOldObjectCount(ref)
			*local = append(*local, ref)

			return
		}
	}
}

// fullScan is the full-mark color rule: both WHITE and DARK references are
// re-examined; WHITE transitions are also promoted for old-object
// accounting, DARK transitions are queued without re-accounting.
func (h *Heap) fullScan(ref unsafe.Pointer, local *[]unsafe.Pointer) {
	color := region.GetColor(ref)
	if color != region.White && color != region.Dark {
		return
	}

	prior := region.SetColor(ref, region.Grey)

	switch {
	case prior == region.White:
		h.bumpOldObjectCount(ref)
		*local = append(*local, ref)
	case prior != region.Grey:
		*local = append(*local, ref)
	}
}

func (h *Heap) bumpOldObjectCount(ref unsafe.Pointer) {
	if region.IsLarge(ref) {
		return
	}

	base := h.registry.RegionOfPointer(uintptr(ref))

	r, ok := h.registry.RegionAt(base)
	if !ok {
		return
	}

	r.IncreaseOldObjectCount(1)
}

// processYoung implements the young-mark process step: promote each object
// popped from the local queue straight to DARK (its final color for this
// cycle) and scan it for outgoing references, unless it was already DARK
// (raced with another worker or a root rescan).
func (h *Heap) processYoung(obj unsafe.Pointer, local *[]unsafe.Pointer) {
	if region.SetColor(obj, region.Dark) == region.Dark {
		return
	}

	s := h.scannerOf(obj)
	if s == nil {
		return
	}

	s.Scan(h.emitRef(local, func(ref unsafe.Pointer) { h.youngScan(ref, local) }))
}

// processFull implements the full-mark process step: promote to the
// transient BLACK state (collapsed back to DARK at full-GC end) and scan.
func (h *Heap) processFull(obj unsafe.Pointer, local *[]unsafe.Pointer) {
	if region.SetColor(obj, region.Black) == region.Black {
		return
	}

	s := h.scannerOf(obj)
	if s == nil {
		return
	}

	s.Scan(h.emitRef(local, func(ref unsafe.Pointer) { h.fullScan(ref, local) }))
}

// runYoungGC drives the young collection cycle exactly as described for
// component F: initial mark with a round bump, a short STW root rescan,
// stealing the full list into the young-cleaning list, then a concurrent
// sweep that either destroys an empty region or rebuilds its freelist.
func (h *Heap) runYoungGC(ctx context.Context) error {
	h.scheduler.OnYoungGCStart()
	h.phase.Store(int32(PhaseYoungMark))
	h.reportedCount.Store(0)
	h.bumpRound()

	h.rootScans.ScanAll(h.reGreyIfWhite)

	if err := h.dispatchMarkWorkers(ctx, h.processYoung, true); err != nil {
		return err
	}

	h.phase.Store(int32(PhaseYoungSTW))
	h.stw.requestPause()

	h.rootScans.ScanAll(h.reGreyIfWhite)

	if err := h.dispatchMarkWorkers(ctx, h.processYoung, false); err != nil {
		h.stw.resume()
		return err
	}

	h.fullList.Steal(&h.youngCleaning)

	h.phase.Store(int32(PhaseYoungSweep))
	h.stw.resume()

	for _, r := range h.youngCleaning.Drain() {
		if r.YoungSweep() == r.CellCount() {
			h.fullCleaning.Push(r)
		} else {
			h.freeLists[r.Level()].Push(r)
		}
	}

	h.largeSet.YoungSweep()

	live := h.registry.LiveCount()
	h.scheduler.OnYoungGCEnd(live)
	h.phase.Store(int32(PhaseIdle))

	return nil
}

// runFullGC drives the full collection cycle: initial mark re-examines both
// WHITE and DARK objects, a short STW root rescan, the full list is stolen
// into full-cleaning while every per-level free list is stolen into its
// parallel remarking list, then a concurrent sweep reclaims non-BLACK
// regions and large objects, and finally rebuilds the freelist of every
// surviving region before returning it to the free-list pool.
func (h *Heap) runFullGC(ctx context.Context) error {
	live := h.registry.LiveCount()
	h.scheduler.OnFullGCStart(live)
	h.phase.Store(int32(PhaseFullMark))
	h.reportedCount.Store(0)
	h.bumpRound()

	h.rootScans.ScanAll(h.reGrey)

	if err := h.dispatchMarkWorkers(ctx, h.processFull, true); err != nil {
		return err
	}

	h.phase.Store(int32(PhaseFullSTW))
	h.stw.requestPause()

	h.rootScans.ScanAll(h.reGrey)

	if err := h.dispatchMarkWorkers(ctx, h.processFull, false); err != nil {
		h.stw.resume()
		return err
	}

	h.fullList.Steal(&h.fullCleaning)

	for level := range h.remarkingLists {
		h.freeLists[level].Steal(&h.remarkingLists[level])
	}

	h.phase.Store(int32(PhaseFullSweep))
	h.stw.resume()

	for _, r := range h.fullCleaning.Drain() {
		if r.FullSweep() == 0 {
			if err := h.registry.Delete(r); err != nil {
				h.logger.Printf("heap: failed to release region: %v", err)
			}
		} else {
			h.remarkingLists[r.Level()].Push(r)
		}
	}

	for level := range h.remarkingLists {
		for _, r := range h.remarkingLists[level].Drain() {
			h.freeLists[level].Push(r)
		}
	}

	h.largeSet.FullSweep(region.Black, region.Dark)

	h.scheduler.OnFullGCEnd(h.registry.LiveCount())
	h.phase.Store(int32(PhaseIdle))

	return nil
}
