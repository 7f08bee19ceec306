package reaper

import (
	"testing"
	"time"
	"unsafe"

	"github.com/arvandehghani/slabcache/cache"
	"github.com/arvandehghani/slabcache/internal/tassert"
	"github.com/arvandehghani/slabcache/pagesource"
	"github.com/arvandehghani/slabcache/sysinfo"
)

func newTestCache(t *testing.T, freeLimit int64) (*cache.Cache, *pagesource.BuddyPageSource) {
	t.Helper()
	ps, err := pagesource.NewBuddyPageSource(1, 8<<20, 4096)
	tassert.Fatalf(t, err == nil, "NewBuddyPageSource failed: %v", err)
	t.Cleanup(ps.Close)

	topo := sysinfo.Topology{PageSize: 4096, CacheLine: 64, NumCPU: 1, NumNodes: 1}
	c, err := cache.New(ps, "reap-test", 64, 0, 0, nil,
		cache.WithTopology(topo), cache.WithMagazine(8, 4), cache.WithFreeLimit(freeLimit))
	tassert.Fatalf(t, err == nil, "New failed: %v", err)
	return c, ps
}

// TestReapShrinksFreeListTowardLimit: allocate enough to force
// several grows, free everything, then reap; the free list should
// shrink, releasing slabs back toward free_limit. The limit is set high
// enough that freeing doesn't destroy slabs inline, so the release is
// attributable to the reaper's trim alone.
func TestReapShrinksFreeListTowardLimit(t *testing.T) {
	c, _ := newTestCache(t, 300)
	num := c.Geometry().Num

	objs := make([]unsafe.Pointer, 0, num*4)
	for i := 0; i < num*4; i++ {
		obj, err := c.Alloc()
		tassert.Fatalf(t, err == nil, "Alloc #%d failed: %v", i, err)
		objs = append(objs, obj)
	}
	for _, o := range objs {
		c.Free(o)
	}

	nl := c.NodeLists(0)
	nl.Lock.Lock()
	before := nl.Free.Len()
	nl.Lock.Unlock()
	tassert.Fatalf(t, before > 0, "want a non-empty free list before reaping")

	// FreeTouched was set by the refill path pulling from Free during
	// Alloc; ReapShared only trims when it finds FreeTouched already
	// false, so the first sweep just clears it and the second sweep (at
	// or after next_reap) does the actual release.
	now := time.Now()
	c.ReapShared(0, now, time.Millisecond)
	time.Sleep(2 * time.Millisecond)
	c.ReapShared(0, time.Now(), time.Millisecond)

	nl.Lock.Lock()
	after := nl.Free.Len()
	nl.Lock.Unlock()
	tassert.Errorf(t, after < before, "want free list to shrink after two reap passes, before=%d after=%d", before, after)
}

// TestReapPerCPULeavesTouchedMagazineAlone: a magazine whose Touched
// flag is set is left untouched on one sweep (only Touched is
// cleared), and is eligible for partial drain on the next sweep if
// nothing touches it again.
func TestReapPerCPULeavesTouchedMagazineAlone(t *testing.T) {
	c, _ := newTestCache(t, 1<<30) // large free_limit: nothing should be destroyed outright
	num := c.Geometry().Num

	// Allocate and free enough to populate the per-CPU magazine (sets
	// Touched via Pop during Alloc).
	objs := make([]unsafe.Pointer, 0, num)
	for i := 0; i < num; i++ {
		obj, err := c.Alloc()
		tassert.Fatalf(t, err == nil, "Alloc #%d failed: %v", i, err)
		objs = append(objs, obj)
	}
	for _, o := range objs {
		c.Free(o)
	}

	statsBefore := c.Stats()
	c.ReapPerCPU() // Touched is true (from the allocs above): just clears it, no drain
	statsAfterFirst := c.Stats()
	tassert.Errorf(t, statsAfterFirst.ActiveObjects == statsBefore.ActiveObjects,
		"want first ReapPerCPU call to not change active object accounting")

	c.ReapPerCPU() // now Touched is false: partially drains
	tassert.Errorf(t, c.Stats().ActiveObjects < statsAfterFirst.ActiveObjects,
		"want second ReapPerCPU call to return part of the idle magazine to its slab")
}

// TestSweepOnceWalksEveryLiveCache is a smoke test for the chain-wide
// sweep: a cache with a populated magazine survives a SweepOnce and
// keeps serving allocations.
func TestSweepOnceWalksEveryLiveCache(t *testing.T) {
	c, _ := newTestCache(t, 1<<30)

	obj, err := c.Alloc()
	tassert.Fatalf(t, err == nil, "Alloc failed: %v", err)
	c.Free(obj)

	SweepOnce()

	obj2, err := c.Alloc()
	tassert.Fatalf(t, err == nil, "Alloc after SweepOnce failed: %v", err)
	c.Free(obj2)
}

func TestStartStopIdempotent(t *testing.T) {
	r := New(5 * time.Millisecond)
	r.Start()
	r.Start() // second Start is a no-op on a running reaper
	time.Sleep(20 * time.Millisecond)
	r.Stop()
	r.Stop() // second Stop is a no-op on a stopped reaper
}
