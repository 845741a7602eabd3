package region

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/heapcore/internal/gcerrors"
)

// Geometry fixes the region/cell layout for a heap: region size (always a
// power of two so address masking is O(1)) and the size-class range.
// MinCellLog2=6 (64B) and MaxCellLog2=19 (512KiB) with RegionSizeLog2=21
// (2MiB) match the defaults every component in this package assumes unless
// a Heap is constructed with different Config options.
type Geometry struct {
	RegionSizeLog2 uint
	MinCellLog2    uint
	MaxCellLog2    uint
}

// DefaultGeometry is REGION_SIZE=2^21, cell sizes 2^6..2^19, 14 levels.
var DefaultGeometry = Geometry{RegionSizeLog2: 21, MinCellLog2: 6, MaxCellLog2: 19}

// RegionSize returns 2^RegionSizeLog2.
func (g Geometry) RegionSize() uintptr { return 1 << g.RegionSizeLog2 }

// RegionMask is the mask applied to a pointer to find its region's base:
// ptr &^ mask.
func (g Geometry) RegionMask() uintptr { return g.RegionSize() - 1 }

// LevelCount is the number of distinct cell size classes.
func (g Geometry) LevelCount() int { return int(g.MaxCellLog2-g.MinCellLog2) + 1 }

// CellSize returns 2^(level+MinCellLog2).
func (g Geometry) CellSize(level int) uintptr {
	return 1 << (g.MinCellLog2 + uintptr(level))
}

// MaxCellSize is the largest cell size any region can carve; anything
// larger must go through the large-object path.
func (g Geometry) MaxCellSize() uintptr { return 1 << g.MaxCellLog2 }

// LevelForSize returns the smallest level whose cell size accommodates size,
// or ok=false if size exceeds MaxCellSize (the caller must use the
// large-object path instead).
func (g Geometry) LevelForSize(size uintptr) (level int, ok bool) {
	if size == 0 {
		size = 1
	}

	if size > g.MaxCellSize() {
		return 0, false
	}

	bits := g.MinCellLog2

	for (uintptr(1) << bits) < size {
		bits++
	}

	if bits < g.MinCellLog2 {
		bits = g.MinCellLog2
	}

	return int(bits - g.MinCellLog2), true
}

const emptyCellNextOffset = 8 // bytes 1-7 are header padding; Next lives at offset 8, mirroring EmptyCell's layout after the Cell base.

// mode values for a region's allocation strategy.
const (
	modeBump = iota
	modeFreelist
)

// Scanner enumerates a heap object's outgoing references. Kept in an
// ordinary Go-visible side table per region (not embedded in the raw
// backing bytes) because Go cannot safely place an interface value inside
// memory its own GC does not scan.
type Scanner interface {
	Scan(emit func(ref unsafe.Pointer))
}

// Region is a REGION_SIZE-byte, self-aligned slab of memory carved into
// uniform cells of one size class. It is the intrusive node type used by
// concurrent.List[Region, *Region] for every list the collector threads a
// region through (free lists, full list, cleaning lists, remarking lists,
// free-region cache).
type Region struct {
	link atomic.Pointer[Region]

	geometry Geometry
	level    int
	cellSize uintptr
	cellCount int

	base uintptr
	data []byte // GC-visible backing window, exactly RegionSize bytes, aligned
	full []byte // untouched reservation; passed to unmapAligned verbatim

	allocated uint64 // atomic bump cursor, cell index
	freeHead  uint64 // atomic, 1+cell-index; 0 means empty
	mode      uint32 // atomic: modeBump | modeFreelist

	oldObjectCount atomic.Int64

	scanMu   sync.Mutex
	scanners []Scanner
}

// Link implements concurrent.Linked[Region].
func (r *Region) Link() *atomic.Pointer[Region] { return &r.link }

// New allocates a fresh, zeroed region for the given level, backed by real
// OS pages obtained through the platform-specific aligned mmap/VirtualAlloc
// path.
func New(geometry Geometry, level int) (*Region, error) {
	if level < 0 || level >= geometry.LevelCount() {
		return nil, gcerrors.InvalidSize(uintptr(level), "region.New: level out of range")
	}

	size := geometry.RegionSize()

	window, full, err := mapAligned(size, size)
	if err != nil {
		return nil, err
	}

	cellSize := geometry.CellSize(level)
	cellCount := int(size / cellSize)

	r := &Region{
		geometry:  geometry,
		level:     level,
		cellSize:  cellSize,
		cellCount: cellCount,
		base:      addrOf(window),
		data:      window,
		full:      full,
		scanners:  make([]Scanner, cellCount),
	}

	return r, nil
}

// Release returns the region's backing pages to the OS. Must only be called
// once the region has been unregistered from every list and the registry.
func (r *Region) Release() error {
	return unmapAligned(r.full)
}

// Level returns the region's size class.
func (r *Region) Level() int { return r.level }

// CellSize returns this region's fixed per-cell size in bytes.
func (r *Region) CellSize() uintptr { return r.cellSize }

// CellCount returns the number of cells carved out of this region.
func (r *Region) CellCount() int { return r.cellCount }

// Base returns the region's aligned start address.
func (r *Region) Base() uintptr { return r.base }

// OldObjectCount returns the current DARK-cell census, updated at every
// sweep and at every WHITE->GREY promotion during mark.
func (r *Region) OldObjectCount() int64 { return r.oldObjectCount.Load() }

// IncreaseOldObjectCount records a promotion (WHITE cell reached during
// mark); called by the collector core, never by Region itself.
func (r *Region) IncreaseOldObjectCount(delta int64) {
	r.oldObjectCount.Add(delta)
}

func (r *Region) cellAddr(idx int) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(unsafe.SliceData(r.data)), idx*int(r.cellSize))
}

func (r *Region) cellIndex(addr unsafe.Pointer) int {
	off := uintptr(addr) - r.base
	return int(off / r.cellSize)
}

func emptyCellNextPtr(cellAddr unsafe.Pointer) *uint64 {
	return (*uint64)(unsafe.Add(cellAddr, emptyCellNextOffset))
}

func (r *Region) pushFree(idx int) {
	next := emptyCellNextPtr(r.cellAddr(idx))

	for {
		head := atomic.LoadUint64(&r.freeHead)
		atomic.StoreUint64(next, head)

		if atomic.CompareAndSwapUint64(&r.freeHead, head, uint64(idx)+1) {
			return
		}
	}
}

func (r *Region) popFree() (int, bool) {
	for {
		head := atomic.LoadUint64(&r.freeHead)
		if head == 0 {
			return 0, false
		}

		idx := int(head - 1)
		next := atomic.LoadUint64(emptyCellNextPtr(r.cellAddr(idx)))

		if atomic.CompareAndSwapUint64(&r.freeHead, head, next) {
			return idx, true
		}
	}
}

// Allocate returns a fresh in-use, WHITE cell, or ok=false if the region is
// exhausted in its current mode (bump cursor past the end, or freelist
// empty). The caller is responsible for publishing an exhausted region to
// the full list and obtaining another.
func (r *Region) Allocate() (ptr unsafe.Pointer, ok bool) {
	switch atomic.LoadUint32(&r.mode) {
	case modeBump:
		idx := atomic.AddUint64(&r.allocated, 1) - 1
		if idx >= uint64(r.cellCount) {
			return nil, false
		}

		addr := r.cellAddr(int(idx))
		SetInUse(addr)

		return addr, true
	default:
		idx, ok := r.popFree()
		if !ok {
			return nil, false
		}

		addr := r.cellAddr(idx)
		SetInUse(addr)

		return addr, true
	}
}

// SetScanner records the polymorphic scan operation for the object at ptr.
func (r *Region) SetScanner(ptr unsafe.Pointer, s Scanner) {
	idx := r.cellIndex(ptr)

	r.scanMu.Lock()
	r.scanners[idx] = s
	r.scanMu.Unlock()
}

// ScannerOf returns the scan operation registered for ptr, if any.
func (r *Region) ScannerOf(ptr unsafe.Pointer) Scanner {
	idx := r.cellIndex(ptr)

	r.scanMu.Lock()
	s := r.scanners[idx]
	r.scanMu.Unlock()

	return s
}

// IsInRegion reports whether p falls within this region's cell area and
// returns the aligned cell address it belongs to.
func (r *Region) IsInRegion(p uintptr) (unsafe.Pointer, bool) {
	if p < r.base || p >= r.base+uintptr(r.cellCount)*r.cellSize {
		return nil, false
	}

	idx := int((p - r.base) / r.cellSize)

	return r.cellAddr(idx), true
}

func (r *Region) resetToBump() {
	r.scanMu.Lock()
	for i := range r.scanners {
		r.scanners[i] = nil
	}
	r.scanMu.Unlock()

	atomic.StoreUint64(&r.allocated, 0)
	atomic.StoreUint64(&r.freeHead, 0)
	atomic.StoreUint32(&r.mode, modeBump)
	r.oldObjectCount.Store(0)
}

// allocatedCellCount returns how many cells have ever been touched by the
// bump cursor (bounded to cellCount); only meaningful in bump mode.
func (r *Region) allocatedCellCount() int {
	n := atomic.LoadUint64(&r.allocated)
	if n > uint64(r.cellCount) {
		n = uint64(r.cellCount)
	}

	return int(n)
}

// sweepScan walks every cell, keeps the ones whose color equals survivor,
// recolors survivors to resetTo, destroys and frees everything else, and
// rebuilds the embedded freelist. Returns the survivor count.
func (r *Region) sweepScan(survivor, resetTo Color) int {
	survivors := 0
	touched := r.allocatedCellCount()

	if atomic.LoadUint32(&r.mode) == modeFreelist {
		touched = r.cellCount
	}

	for i := 0; i < r.cellCount; i++ {
		addr := r.cellAddr(i)

		if i >= touched {
			r.pushFree(i)
			continue
		}

		prop := loadProp(addr)
		if prop&propInUse == 0 {
			r.pushFree(i)
			continue
		}

		color := Color(prop & propColorBit)
		if color == survivor {
			if resetTo != survivor {
				SetColor(addr, resetTo)
			}

			survivors++

			continue
		}

		SetNotInUse(addr)
		r.scanMu.Lock()
		r.scanners[i] = nil
		r.scanMu.Unlock()
		r.pushFree(i)
	}

	atomic.StoreUint32(&r.mode, modeFreelist)
	r.oldObjectCount.Store(int64(survivors))

	return survivors
}

// YoungSweep implements region_young_sweep: regions with zero DARK objects
// are destroyed wholesale and reset to bump mode; otherwise the freelist is
// rebuilt from WHITE cells and DARK survivors are left untouched.
func (r *Region) YoungSweep() int {
	if r.oldObjectCount.Load() == 0 {
		r.resetToBump()
		return 0
	}

	return r.sweepScan(Dark, Dark)
}

// FullSweep implements region_full_sweep: cells that survived full mark are
// BLACK; they are reset to DARK and kept, everything else is reclaimed.
func (r *Region) FullSweep() int {
	return r.sweepScan(Black, Dark)
}
