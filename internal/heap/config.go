// Package heap is the composition root: it wires regions, the work queue,
// the scheduler, the write barrier, root scanning, and the large-object set
// into one explicitly constructed Heap, following the spec's own design
// note that global registries should be injectable rather than package-level
// singletons.
package heap

import (
	"log"
	"time"

	"github.com/orizon-lang/heapcore/internal/region"
)

// Config is the immutable snapshot of every process-start tunable. It is
// built once via functional options and never mutated afterward; changing a
// setting means constructing a new Heap.
type Config struct {
	RegionSizeLog2 uint
	MinCellLog2    uint
	MaxCellLog2    uint

	MaxRegionCount int

	YoungQueueHighWatermark float64
	FullTriggerIncrement    float64
	FullGCAdvance           time.Duration

	FreeRegionCache int
	WorkerCount     int

	MonitorInterval  time.Duration
	SchedulerHistory int
	EWMAFactor       float64

	WorkQueueCapacity int

	Logger *log.Logger
}

// Option mutates a Config under construction.
type Option func(*Config)

// DefaultConfig mirrors the constants a concurrent generational region GC
// core is specified against: 2MiB regions, 64B..512KiB cells, a 0.7 young
// trigger watermark, a 2x full-trigger growth factor, a 16-region free
// cache, a 20ms scheduler tick, a 128-event history, and 0.7 EWMA smoothing.
func DefaultConfig() *Config {
	return &Config{
		RegionSizeLog2:          21,
		MinCellLog2:             6,
		MaxCellLog2:             19,
		MaxRegionCount:          8192,
		YoungQueueHighWatermark: 0.7,
		FullTriggerIncrement:    2.0,
		FullGCAdvance:           3 * time.Millisecond,
		FreeRegionCache:         16,
		WorkerCount:             1,
		MonitorInterval:         20 * time.Millisecond,
		SchedulerHistory:        128,
		EWMAFactor:              0.7,
		WorkQueueCapacity:       8192,
		Logger:                  log.Default(),
	}
}

// NewConfig applies opts over DefaultConfig.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// WithGeometry overrides the region/cell size-class layout.
func WithGeometry(regionSizeLog2, minCellLog2, maxCellLog2 uint) Option {
	return func(c *Config) {
		c.RegionSizeLog2 = regionSizeLog2
		c.MinCellLog2 = minCellLog2
		c.MaxCellLog2 = maxCellLog2
	}
}

// WithMaxRegionCount sets the hard region cap. A region request at the cap
// fails with a heap-exhaustion error and requests a full GC, which the next
// Collect call (explicit or from the monitor) runs.
func WithMaxRegionCount(n int) Option {
	return func(c *Config) { c.MaxRegionCount = n }
}

// WithYoungQueueHighWatermark sets the grey-queue occupancy fraction that
// signals a young GC.
func WithYoungQueueHighWatermark(f float64) Option {
	return func(c *Config) { c.YoungQueueHighWatermark = f }
}

// WithFullTriggerIncrement sets the heap-growth multiplier used by the
// scheduler's full-GC predictor.
func WithFullTriggerIncrement(f float64) Option {
	return func(c *Config) { c.FullTriggerIncrement = f }
}

// WithFullGCAdvance sets the predicted slack window before a full GC fires.
func WithFullGCAdvance(d time.Duration) Option {
	return func(c *Config) { c.FullGCAdvance = d }
}

// WithFreeRegionCache sets the bound on the recycled-region cache.
func WithFreeRegionCache(n int) Option {
	return func(c *Config) { c.FreeRegionCache = n }
}

// WithWorkerCount sets the number of concurrent mark/sweep workers.
func WithWorkerCount(n int) Option {
	return func(c *Config) { c.WorkerCount = n }
}

// WithMonitorInterval sets the scheduler's tick period.
func WithMonitorInterval(d time.Duration) Option {
	return func(c *Config) { c.MonitorInterval = d }
}

// WithSchedulerHistory sets the fixed event-ring size.
func WithSchedulerHistory(n int) Option {
	return func(c *Config) { c.SchedulerHistory = n }
}

// WithEWMAFactor sets the smoothing factor for the rate estimators.
func WithEWMAFactor(f float64) Option {
	return func(c *Config) { c.EWMAFactor = f }
}

// WithWorkQueueCapacity sets the grey-set ring buffer's fixed capacity.
func WithWorkQueueCapacity(n int) Option {
	return func(c *Config) { c.WorkQueueCapacity = n }
}

// WithLogger overrides the destination for structured GC observability
// output.
func WithLogger(l *log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func (c *Config) geometry() region.Geometry {
	return region.Geometry{
		RegionSizeLog2: c.RegionSizeLog2,
		MinCellLog2:    c.MinCellLog2,
		MaxCellLog2:    c.MaxCellLog2,
	}
}
