package heap

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"
)

func TestEventHistory_WrapsAtCapacity(t *testing.T) {
	h := newEventHistory(3)

	for i := 0; i < 5; i++ {
		h.push(Event{Type: EventYoungGCStart, At: time.Now()})
	}

	snap := h.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snap) = %d, want 3", len(snap))
	}
}

func TestEventHistory_SnapshotBeforeFull(t *testing.T) {
	h := newEventHistory(10)
	h.push(Event{Type: EventFullGCStart})
	h.push(Event{Type: EventFullGCEnd})

	snap := h.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2", len(snap))
	}

	if snap[0].Type != EventFullGCStart || snap[1].Type != EventFullGCEnd {
		t.Fatalf("snapshot out of order: %+v", snap)
	}
}

func TestScheduler_ShouldYoungGC_QueueWatermark(t *testing.T) {
	cfg := NewConfig(WithYoungQueueHighWatermark(0.5))
	s := NewScheduler(cfg)

	if !s.ShouldYoungGC(60, 100, 0) {
		t.Fatal("expected young GC to trigger past the watermark")
	}

	if s.ShouldYoungGC(10, 100, 0) {
		t.Fatal("did not expect young GC below the watermark with no region growth")
	}
}

func TestScheduler_ShouldYoungGC_RegionGrowth(t *testing.T) {
	cfg := NewConfig(WithYoungQueueHighWatermark(1.0))
	s := NewScheduler(cfg)
	s.OnYoungGCEnd(10)

	if !s.ShouldYoungGC(0, 100, 20) {
		t.Fatal("expected young GC to trigger when live regions grew since the last cycle")
	}

	if s.ShouldYoungGC(0, 100, 5) {
		t.Fatal("did not expect young GC when live regions shrank since the last cycle")
	}
}

func TestScheduler_ShouldFullGC_MaxRegionCount(t *testing.T) {
	cfg := NewConfig(WithMaxRegionCount(100))
	s := NewScheduler(cfg)

	if !s.ShouldFullGC(101) {
		t.Fatal("expected full GC past MaxRegionCount")
	}

	if s.ShouldFullGC(50) {
		t.Fatal("did not expect full GC below MaxRegionCount with no allocation-rate signal")
	}
}

func TestScheduler_ShouldFullGC_PredictedWindow(t *testing.T) {
	cfg := NewConfig(WithMaxRegionCount(0), WithFullTriggerIncrement(2.0), WithFullGCAdvance(0))
	s := NewScheduler(cfg)

	s.OnFullGCStart(100)
	time.Sleep(2 * time.Millisecond)
	s.OnFullGCEnd(100)

	s.mu.Lock()
	s.regionAllocatedPerSecond = 1_000_000
	s.mu.Unlock()

	if !s.ShouldFullGC(190) {
		t.Fatal("expected full GC to trigger once the predicted allocation window collapses")
	}
}

func TestScheduler_RunMonitor_TicksUntilStopped(t *testing.T) {
	cfg := NewConfig(WithMonitorInterval(time.Millisecond))
	s := NewScheduler(cfg)

	var ticks int

	live := func() int64 {
		ticks++
		return int64(ticks)
	}

	collect := func() error { return nil }

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.runMonitor(stop, live, collect, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runMonitor did not return after stop was closed")
	}

	if ticks < 2 {
		t.Fatalf("ticks = %d, want at least 2 (monitor must keep ticking, not exit after one check)", ticks)
	}
}

func TestScheduler_RunMonitor_InvokesCollectEveryTick(t *testing.T) {
	cfg := NewConfig(WithMonitorInterval(time.Millisecond), WithMaxRegionCount(10))
	s := NewScheduler(cfg)

	collected := make(chan struct{}, 1)
	live := func() int64 { return 100 }

	collect := func() error {
		select {
		case collected <- struct{}{}:
		default:
		}

		return nil
	}

	stop := make(chan struct{})
	defer close(stop)

	go s.runMonitor(stop, live, collect, nil)

	select {
	case <-collected:
	case <-time.After(time.Second):
		t.Fatal("expected runMonitor to call collect on every tick")
	}
}

func TestScheduler_RunMonitor_LogsCollectError(t *testing.T) {
	cfg := NewConfig(WithMonitorInterval(time.Millisecond))
	s := NewScheduler(cfg)

	live := func() int64 { return 0 }

	failed := make(chan struct{}, 1)

	collect := func() error {
		select {
		case failed <- struct{}{}:
		default:
		}

		return errors.New("collection failed")
	}

	logger := log.New(io.Discard, "", 0)

	stop := make(chan struct{})
	defer close(stop)

	go s.runMonitor(stop, live, collect, logger)

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("expected runMonitor to invoke collect even when it returns an error")
	}
}
