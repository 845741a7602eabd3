package region

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/heapcore/internal/concurrent"
)

// Registry is the global, lock-free set of live regions plus the
// free-region cache. Its invariant: an address is present iff New has
// committed and Delete has not — concurrent lookup may miss a region
// mid-deletion, which is an accepted race (the worst case is a conservative
// scan treating a dying region as not-heap).
type Registry struct {
	geometry Geometry

	addrs concurrent.AddrSet
	live  map[uintptr]*Region
	liveMu sync.RWMutex

	cache     concurrent.List[Region, *Region]
	cacheCap  int64
	liveCount atomic.Int64
}

// NewRegistry constructs a registry for the given geometry and
// free-region-cache bound.
func NewRegistry(geometry Geometry, freeRegionCacheBound int) *Registry {
	return &Registry{
		geometry: geometry,
		addrs:    *concurrent.NewAddrSet(4096),
		live:     make(map[uintptr]*Region),
		cacheCap: int64(freeRegionCacheBound),
	}
}

// LiveCount returns the number of currently registered (not cached, not
// released) regions.
func (reg *Registry) LiveCount() int64 { return reg.liveCount.Load() }

// New returns a region for level, recycling one from the free-region cache
// if available, else allocating fresh OS-backed memory.
func (reg *Registry) New(level int) (*Region, error) {
	if r := reg.cache.Pop(); r != nil && r.Level() == level {
		reg.register(r)
		return r, nil
	} else if r != nil {
		// cached region is the wrong level: push it back, fall through to
		// a fresh allocation. The cache is small and homogeneity across
		// levels is not guaranteed by design.
		reg.cache.Push(r)
	}

	r, err := New(reg.geometry, level)
	if err != nil {
		return nil, err
	}

	reg.register(r)

	return r, nil
}

func (reg *Registry) register(r *Region) {
	reg.addrs.Insert(r.Base())

	reg.liveMu.Lock()
	reg.live[r.Base()] = r
	reg.liveMu.Unlock()

	reg.liveCount.Add(1)
}

// Delete unregisters r; if the free-region cache is below its bound it is
// recycled there, otherwise its backing memory is released immediately.
func (reg *Registry) Delete(r *Region) error {
	reg.addrs.Delete(r.Base())

	reg.liveMu.Lock()
	delete(reg.live, r.Base())
	reg.liveMu.Unlock()

	reg.liveCount.Add(-1)

	if reg.cache.Len() < reg.cacheCap {
		r.resetToBump()
		reg.cache.Push(r)

		return nil
	}

	return r.Release()
}

// RegionOfPointer computes the owning region's base address in O(1).
func (reg *Registry) RegionOfPointer(p uintptr) uintptr {
	return p &^ reg.geometry.RegionMask()
}

// IsInRegion consults the registry for p's region and, if present, whether p
// falls in the cell area and which cell it aligns to.
func (reg *Registry) IsInRegion(p uintptr) (cell unsafe.Pointer, inRegion, ok bool) {
	base := reg.RegionOfPointer(p)
	if !reg.addrs.Has(base) {
		return nil, false, false
	}

	reg.liveMu.RLock()
	r, found := reg.live[base]
	reg.liveMu.RUnlock()

	if !found {
		return nil, false, false
	}

	addr, in := r.IsInRegion(p)

	return addr, in, true
}

// RegionAt returns the live region registered at base, if any.
func (reg *Registry) RegionAt(base uintptr) (*Region, bool) {
	reg.liveMu.RLock()
	r, ok := reg.live[base]
	reg.liveMu.RUnlock()

	return r, ok
}

// Snapshot returns every currently live region, regardless of which list it
// is threaded through at the moment, in no particular order.
func (reg *Registry) Snapshot() []*Region {
	reg.liveMu.RLock()
	defer reg.liveMu.RUnlock()

	out := make([]*Region, 0, len(reg.live))
	for _, r := range reg.live {
		out = append(out, r)
	}

	return out
}
