// Package cache implements Cache, the typed object pool that owns a
// geometry, per-CPU magazines, per-node lists, and the three-tier
// hot-path alloc/free algorithms.
package cache

import (
	"sync"
	"time"
	"unsafe"

	"go.uber.org/atomic"

	"github.com/arvandehghani/slabcache/boot"
	"github.com/arvandehghani/slabcache/cmn"
	"github.com/arvandehghani/slabcache/geom"
	"github.com/arvandehghani/slabcache/magazine"
	"github.com/arvandehghani/slabcache/nodelist"
	"github.com/arvandehghani/slabcache/pagesource"
	"github.com/arvandehghani/slabcache/percpu"
	"github.com/arvandehghani/slabcache/slab"
	"github.com/arvandehghani/slabcache/sysinfo"
)

// pageOwner is the token this package stores in the PageSource's
// reverse map (pagesource.PageSource.SetPageSlab/PageToSlab). Kept
// unexported and concrete so Free can type-assert it back without the
// PageSource interface itself needing to know about *Cache/*slab.Slab.
type pageOwner struct {
	Cache *Cache
	Slab  *slab.Slab
}

// Stats is a plain snapshot of the per-cache counters. No export
// format: a userland frontend that wants /proc-style reporting builds
// it on top of this.
type Stats struct {
	Hits, Misses   int64
	Grows, Shrinks int64
	ActiveObjects  int64
}

// Cache is a typed object pool over a PageSource.
type Cache struct {
	Name     string
	geometry *geom.Geometry
	Flags    cmn.Flags
	ctor     slab.Ctor

	ps       pagesource.PageSource
	boot     *boot.Manager
	topology sysinfo.Topology

	cpuMags *percpu.PerCPU[*magazine.Magazine]
	// cpuNode[i] is the NUMA node shard i is considered "local" to,
	// fixed at creation time (i % numNodes). This is what makes a
	// per-CPU magazine single-node for its whole lifetime: Free only
	// ever pushes an object into shard i's magazine when that object's
	// home slab is on cpuNode[i] (foreign objects take the alien route),
	// so every object a magazine ever holds belongs to the same node.
	cpuNode []int
	nodes   []*nodelist.NodeLists

	magCapacity, magBatch int

	// metaCache, for off-slab caches, is the smaller general cache that
	// supplies freelist-vector storage for newly grown slabs. Nil when
	// the general size classes haven't been bootstrapped, in which case
	// the freelist falls back to ordinary heap storage.
	metaCache *Cache

	hits, misses, grows, shrinks atomic.Int64
	slabsReleased                atomic.Int64

	destroyed atomic.Bool
}

// Option configures a Cache at creation time.
type Option func(*config)

type config struct {
	magCapacity, magBatch       int
	sharedCapacity, sharedBatch int
	freeLimitObjects            int64
	topology                    *sysinfo.Topology
	bootMgr                     *boot.Manager
}

// WithMagazine overrides the per-CPU magazine capacity/batch count that
// would otherwise be derived from object size via magazine.Tune.
func WithMagazine(capacity, batch int) Option {
	return func(c *config) { c.magCapacity, c.magBatch = capacity, batch }
}

// WithSharedMagazine overrides the per-node shared magazine sizing.
// Capacity should stay smaller than the sum of per-CPU magazine
// capacities so the shared magazine amortizes cross-CPU traffic instead
// of becoming the new bottleneck.
func WithSharedMagazine(capacity, batch int) Option {
	return func(c *config) { c.sharedCapacity, c.sharedBatch = capacity, batch }
}

// WithFreeLimit overrides the per-node free-object upper bound, the
// threshold reap/free use to decide when an emptied slab should be
// released back to the PageSource instead of kept warm.
func WithFreeLimit(objects int64) Option {
	return func(c *config) { c.freeLimitObjects = objects }
}

// WithTopology overrides host topology probing, for deterministic tests.
func WithTopology(t sysinfo.Topology) Option {
	return func(c *config) { c.topology = &t }
}

// WithBootManager overrides the process-wide bootstrap manager, for
// tests that want to exercise bootstrap phases in isolation.
func WithBootManager(m *boot.Manager) Option {
	return func(c *config) { c.bootMgr = m }
}

// New creates a cache. size/align/flags feed the geometry planner
// (geom.Plan); ctor, if non-nil, runs once per object at slab-carve
// time.
func New(ps pagesource.PageSource, name string, size int64, align uint, flags cmn.Flags, ctor slab.Ctor, opts ...Option) (*Cache, error) {
	fail := func(err error) (*Cache, error) {
		if flags.Has(cmn.PanicOnFail) {
			panic(err)
		}
		return nil, err
	}
	if name == "" {
		return fail(cmn.WrapInvalidArg("cache name must not be empty"))
	}
	if unknown := flags &^ cmn.KnownFlags; unknown != 0 {
		return fail(cmn.WrapInvalidArg("cache %q: unknown flag bits %#x", name, uint32(unknown)))
	}
	cfg := &config{freeLimitObjects: -1}
	for _, o := range opts {
		o(cfg)
	}
	topo := sysinfo.Probe()
	if cfg.topology != nil {
		topo = *cfg.topology
	}
	bm := boot.Default()
	if cfg.bootMgr != nil {
		bm = cfg.bootMgr
	}

	g, err := geom.Plan(size, align, flags, topo.PageSize, topo.CacheLine, !bm.IsFull(), flags.Has(cmn.ReclaimAccount))
	if err != nil {
		return fail(err)
	}

	magCap, magBatch := cfg.magCapacity, cfg.magBatch
	if magCap == 0 {
		magCap, magBatch = magazine.Tune(g.ObjSize)
	}
	sharedCap, sharedBatch := cfg.sharedCapacity, cfg.sharedBatch
	if sharedCap == 0 {
		// Keep the shared magazine smaller than the sum of per-CPU
		// magazines: a quarter of the fleet-wide per-CPU capacity, at
		// least one batch's worth.
		sharedCap = cmn.MaxI(magBatch, (topo.NumCPU*magCap)/4)
		sharedBatch = magBatch
	}
	freeLimit := cfg.freeLimitObjects
	if freeLimit < 0 {
		freeLimit = int64(4 * g.Num)
	}

	numNodes := topo.NumNodes
	if ps.NumNodes() > 0 {
		numNodes = ps.NumNodes()
	}

	c := &Cache{
		Name:        name,
		geometry:    g,
		Flags:       flags,
		ctor:        ctor,
		ps:          ps,
		boot:        bm,
		topology:    topo,
		magCapacity: magCap,
		magBatch:    magBatch,
	}
	c.cpuMags = percpu.New(topo.NumCPU, func() *magazine.Magazine { return magazine.New(magCap, magBatch) })
	c.cpuNode = make([]int, c.cpuMags.Len())
	for i := range c.cpuNode {
		c.cpuNode[i] = i % numNodes
	}
	c.nodes = make([]*nodelist.NodeLists, numNodes)
	for i := range c.nodes {
		c.nodes[i] = nodelist.New(sharedCap, sharedBatch, g.ColourCount, freeLimit)
	}

	if g.OffSlab {
		bm.RequireDynamicAllowed("off-slab slab metadata")
		if mc, ok := SizeClassLookup(int64(g.SlabMetaSize), 0); ok {
			c.metaCache = mc
		}
		if gc, ok := SizeClassLookup(g.ObjSize, 0); ok && gc.geometry.ObjSize == g.ObjSize {
			cmn.Warningf("%s: off-slab cache duplicates general size class %q; objects could come from it directly", name, gc.Name)
		}
	}

	registerChain(c)
	return c, nil
}

// Geometry exposes the planner's output, used by tests and by the
// reaper's trim-ratio math.
func (c *Cache) Geometry() *geom.Geometry { return c.geometry }

// NumNodes returns the node count this cache was created with.
func (c *Cache) NumNodes() int { return len(c.nodes) }

// NodeLists exposes one node's lists, used by tests and the reaper.
func (c *Cache) NodeLists(node int) *nodelist.NodeLists { return c.nodes[node] }

// Alloc hands out one object: magazine pop against whichever CPU shard
// this call lands on, refilling that shard's magazine from its home
// node on a miss, growing a new slab on a full miss.
func (c *Cache) Alloc() (unsafe.Pointer, error) {
	if obj, _, ok := c.allocFast(); ok {
		c.hits.Inc()
		return obj, nil
	}
	guard := c.cpuMags.Pin()
	node := c.cpuNode[guard.Index()]
	guard.Unpin()
	return c.allocSlow(node)
}

// AllocNode allocates from a specific node. The per-CPU magazine is
// not partitioned by requested node, so this bypasses the magazine
// entirely and pulls straight from that node's lists.
func (c *Cache) AllocNode(node int) (unsafe.Pointer, error) {
	if node < 0 || node >= len(c.nodes) {
		return nil, cmn.WrapInvalidArg("node %d out of range [0,%d)", node, len(c.nodes))
	}
	if obj, ok := c.takeFromNode(node); ok {
		c.hits.Inc()
		return obj, nil
	}
	if _, err := c.grow(node); err == nil {
		if obj, ok := c.takeFromNode(node); ok {
			c.misses.Inc()
			return obj, nil
		}
	}
	// The requested node is exhausted and cannot grow: fall back by
	// iterating the remaining nodes.
	for other := range c.nodes {
		if other == node {
			continue
		}
		if obj, ok := c.takeFromNode(other); ok {
			c.misses.Inc()
			return obj, nil
		}
		if _, err := c.grow(other); err != nil {
			continue
		}
		if obj, ok := c.takeFromNode(other); ok {
			c.misses.Inc()
			return obj, nil
		}
	}
	c.misses.Inc()
	return nil, cmn.WrapOOM(c.Name, c.geometry.Order)
}

// allocFast is the magazine tier plus its refill, run end to end while
// holding one shard guard (the stand-in for disabled preemption): pop
// from the pinned shard's magazine, refilling it first from the shard's
// home node's shared magazine, then from that node's partial/free
// slabs. Reports the home node it worked against so the slow path
// knows where to grow.
func (c *Cache) allocFast() (unsafe.Pointer, int, bool) {
	guard := c.cpuMags.Pin()
	defer guard.Unpin()
	node := c.cpuNode[guard.Index()]
	mag := *guard.Value()
	if mag.Available() == 0 {
		nl := c.nodes[node]
		nl.Lock.Lock()
		moved := 0
		if nl.Shared != nil && nl.Shared.Available() > 0 {
			moved = magazine.Transfer(mag, nl.Shared, mag.BatchCount)
		}
		if moved == 0 {
			c.refillFromSlabs(nl, mag)
		}
		nl.Lock.Unlock()
	}
	if mag.Available() == 0 {
		return nil, node, false
	}
	return unsafe.Pointer(mag.Pop()), node, true
}

// allocSlow is the growth tier: grow, then retry the refill exactly
// once per grow. takeFromNode on the node that actually received the
// new slab is the guaranteed-progress fallback for when the refill
// lands on a shard homed elsewhere, or another CPU drains the fresh
// slab first.
func (c *Cache) allocSlow(node int) (unsafe.Pointer, error) {
	for attempt := 0; attempt < 2; attempt++ {
		actual, err := c.grow(node)
		if err != nil && len(c.nodes) > 1 {
			// Alloc never required a specific node, so retry with an
			// unrestricted hint and insert the slab wherever the memory
			// actually came from.
			actual, err = c.grow(pagesource.AnyNode)
		}
		if err != nil {
			c.misses.Inc()
			return nil, err
		}
		if obj, _, ok := c.allocFast(); ok {
			c.misses.Inc()
			return obj, nil
		}
		if obj, ok := c.takeFromNode(actual); ok {
			c.misses.Inc()
			return obj, nil
		}
		node = actual
	}
	c.misses.Inc()
	return nil, cmn.WrapOOM(c.Name, c.geometry.Order)
}

// takeFromNode pulls a single object directly from one node's lists,
// bypassing every magazine.
func (c *Cache) takeFromNode(node int) (unsafe.Pointer, bool) {
	nl := c.nodes[node]
	nl.Lock.Lock()
	defer nl.Lock.Unlock()
	s := nl.Partial.Front()
	fromFree := false
	if s == nil {
		s = nl.Free.Front()
		fromFree = true
		if s == nil {
			return nil, false
		}
		nl.FreeTouched.Store(true)
	}
	obj := s.GetObj()
	nl.FreeObjects.Dec()
	if fromFree {
		nl.Free.Remove(s)
	} else {
		nl.Partial.Remove(s)
	}
	if s.State() == slab.StateFull {
		nl.Full.PushBack(s)
	} else {
		nl.Partial.PushBack(s)
	}
	return obj, true
}

// refillFromSlabs pulls objects one at a time from partial, then free,
// slabs until mag holds BatchCount or the node has nothing left. Caller
// holds nl.Lock.
func (c *Cache) refillFromSlabs(nl *nodelist.NodeLists, mag *magazine.Magazine) int {
	need := mag.BatchCount - mag.Available()
	moved := 0
	for moved < need {
		s := nl.Partial.Front()
		fromFree := false
		if s == nil {
			s = nl.Free.Front()
			fromFree = true
			if s == nil {
				break
			}
			nl.FreeTouched.Store(true)
		}
		took := 0
		for moved < need && s.InUse < s.Num {
			obj := s.GetObj()
			mag.Push(magazine.Obj(obj))
			moved++
			took++
		}
		nl.FreeObjects.Sub(int64(took))
		if fromFree {
			nl.Free.Remove(s)
		} else {
			nl.Partial.Remove(s)
		}
		if s.State() == slab.StateFull {
			nl.Full.PushBack(s)
		} else {
			nl.Partial.PushBack(s)
		}
	}
	return moved
}

// grow asks the PageSource for 2^order pages, carves a slab, and
// appends it to the actual node's Free list (which may differ from the
// requested node when node is pagesource.AnyNode).
func (c *Cache) grow(node int) (int, error) {
	var psFlags pagesource.Flags
	if c.Flags.Has(cmn.DMA) {
		psFlags |= pagesource.FlagDMA
	}
	addr, actualNode, err := c.ps.GetPages(c.geometry.Order, node, psFlags)
	if err != nil {
		return -1, cmn.WrapOOM(c.Name, c.geometry.Order)
	}

	nl := c.nodes[actualNode]
	nl.Lock.Lock()
	colour := nl.NextColour(c.geometry.ColourUnit)
	nl.Lock.Unlock()

	var freelist []uint32
	var metaBlock unsafe.Pointer
	if c.metaCache != nil {
		if p, merr := c.metaCache.Alloc(); merr == nil {
			metaBlock = p
			freelist = unsafe.Slice((*uint32)(p), c.geometry.Num)
		}
	}
	s := slab.NewWithMeta(c.geometry, addr, actualNode, colour, c.ctor, freelist)
	s.MetaBlock = metaBlock
	c.ps.SetPageSlab(addr, c.geometry.Order, pageOwner{Cache: c, Slab: s})

	nl.Lock.Lock()
	nl.Free.PushBack(s)
	nl.FreeObjects.Add(int64(s.Num))
	nl.Lock.Unlock()

	c.grows.Inc()
	cmn.Infof("%s: grew slab on node %d, order %d, num %d, colour %d", c.Name, actualNode, c.geometry.Order, s.Num, colour)
	return actualNode, nil
}

// Free returns one object to the allocator: onto the local shard's
// magazine when there's room, flushing a batch to the shared magazine
// or back to slabs when there isn't, via the alien route when the
// object's home slab is on another node.
func (c *Cache) Free(obj unsafe.Pointer) {
	owner, ok := c.ps.PageToSlab(uintptr(obj))
	cmn.Assert(ok, "free: object not owned by any known slab")
	ow, ok := owner.(pageOwner)
	cmn.Assert(ok && ow.Cache == c, "free: object belongs to a different cache")
	s := ow.Slab

	guard := c.cpuMags.Pin()
	defer guard.Unpin()
	local := c.cpuNode[guard.Index()]
	mag := *guard.Value()

	if s.Node != local {
		c.freeForeign(local, s, obj)
		return
	}
	if mag.Available() < mag.Capacity() {
		mag.Push(magazine.Obj(obj))
		return
	}
	c.flush(c.nodes[local], mag)
	mag.Push(magazine.Obj(obj))
}

// freeForeign routes obj into the local node's alien magazine for s's
// home node, draining that alien magazine to its home node first if
// it's already full.
func (c *Cache) freeForeign(localNode int, s *slab.Slab, obj unsafe.Pointer) {
	localNL := c.nodes[localNode]
	for {
		pushed := localNL.WithAlien(s.Node, c.magCapacity, c.magBatch, func(m *magazine.Magazine) bool {
			if m.Full() {
				return false
			}
			m.Push(magazine.Obj(obj))
			return true
		})
		if pushed {
			return
		}
		c.drainAlienToHome(localNode, s.Node)
	}
}

// drainAlienToHome empties the local node's alien magazine for
// remoteNode back into remoteNode's own lists.
func (c *Cache) drainAlienToHome(localNode, remoteNode int) {
	localNL := c.nodes[localNode]
	var objs []magazine.Obj
	localNL.WithAlien(remoteNode, c.magCapacity, c.magBatch, func(m *magazine.Magazine) bool {
		for m.Available() > 0 {
			objs = append(objs, m.Pop())
		}
		return true
	})
	if len(objs) > 0 {
		c.freeBlock(objs)
	}
}

// flush moves BatchCount objects from the bottom of mag into the local
// node's shared magazine while it has room, then returns the remainder
// to their slabs via freeBlock. mag is guaranteed to hold only objects
// whose home node is nl's node (see Cache.cpuNode's doc comment), so
// this never needs to inspect a per-object owner before deciding where
// the shared-magazine push goes.
func (c *Cache) flush(nl *nodelist.NodeLists, mag *magazine.Magazine) {
	n := cmn.MinI(mag.BatchCount, mag.Available())
	if n == 0 {
		return
	}
	objs := make([]magazine.Obj, 0, n)
	for i := 0; i < n; i++ {
		objs = append(objs, mag.PopBottom())
	}
	if nl.Shared != nil {
		nl.Lock.Lock()
		moved := 0
		for moved < len(objs) && !nl.Shared.Full() {
			nl.Shared.Push(objs[moved])
			moved++
		}
		nl.Lock.Unlock()
		objs = objs[moved:]
	}
	if len(objs) > 0 {
		c.freeBlock(objs)
	}
}

// freeBlock groups objs by owning slab, then by that slab's own home
// node (not assumed from any caller context), and returns each group to
// its slab under that node's lock, so it's safe regardless of which
// magazine the objects were drained from.
func (c *Cache) freeBlock(objs []magazine.Obj) {
	bySlab := make(map[*slab.Slab][]unsafe.Pointer)
	for _, o := range objs {
		owner, ok := c.ps.PageToSlab(uintptr(o))
		cmn.Assert(ok, "free_block: object not owned by any known slab")
		ow := owner.(pageOwner)
		bySlab[ow.Slab] = append(bySlab[ow.Slab], unsafe.Pointer(o))
	}
	byNode := make(map[int][]*slab.Slab)
	for s := range bySlab {
		byNode[s.Node] = append(byNode[s.Node], s)
	}
	for node, slabs := range byNode {
		nl := c.nodes[node]
		nl.Lock.Lock()
		for _, s := range slabs {
			for _, obj := range bySlab[s] {
				c.freeOneLocked(nl, s, obj)
			}
		}
		nl.Lock.Unlock()
	}
}

// freeOneLocked returns one object to its slab and moves the slab
// between full/partial/free, destroying it outright if that would push
// node.free_objects past free_limit. Caller holds nl.Lock.
func (c *Cache) freeOneLocked(nl *nodelist.NodeLists, s *slab.Slab, obj unsafe.Pointer) {
	wasFull := s.InUse == s.Num
	s.PutObj(obj)
	nl.FreeObjects.Inc()

	if wasFull {
		nl.Full.Remove(s)
		if s.State() == slab.StateFree {
			c.maybeDestroyOrFree(nl, s)
		} else {
			nl.Partial.PushBack(s)
		}
		return
	}
	if s.State() == slab.StateFree {
		nl.Partial.Remove(s)
		c.maybeDestroyOrFree(nl, s)
	}
}

func (c *Cache) maybeDestroyOrFree(nl *nodelist.NodeLists, s *slab.Slab) {
	if nl.FreeObjects.Load() > nl.FreeLimit {
		nl.FreeObjects.Sub(int64(s.Num))
		c.releaseSlab(s)
	} else {
		nl.Free.PushBack(s)
	}
}

// releaseSlab returns a slab's pages to the PageSource, deferring
// through RCUCall if the cache is DestroyByRCU. Off-slab metadata goes
// back to its backing general cache along with the pages.
func (c *Cache) releaseSlab(s *slab.Slab) {
	c.slabsReleased.Inc()
	release := func() {
		c.ps.FreePages(s.PageAddr, s.Order)
		if s.MetaBlock != nil && c.metaCache != nil {
			c.metaCache.Free(s.MetaBlock)
		}
	}
	if c.Flags.Has(cmn.DestroyByRCU) {
		c.ps.RCUCall(release)
	} else {
		release()
	}
}

// Shrink drains every magazine (per-CPU, shared, alien) to node lists,
// then trims every now-empty Free slab, returning true if any slab
// pages were released. Draining first means Shrink reclaims everything
// reclaimable, not just slabs that happened to already sit on Free.
func (c *Cache) Shrink() bool {
	before := c.slabsReleased.Load()
	c.drainAllMagazines()
	for node := range c.nodes {
		c.trimFree(c.nodes[node], 0)
	}
	// Draining can release slabs directly (free_block destroys a slab
	// that would push free_objects past free_limit), so "did we release
	// pages" is answered by the release counter, not by trimFree alone.
	released := c.slabsReleased.Load() > before
	if released {
		c.shrinks.Inc()
	}
	return released
}

// drainAllMagazines empties every per-CPU, alien, and shared magazine
// back into node lists. Shared by Shrink and Destroy, both of which
// need the magazines' contents accounted to slabs before acting.
func (c *Cache) drainAllMagazines() {
	c.cpuMags.ForEach(func(_ int, mag **magazine.Magazine) {
		m := *mag
		var objs []magazine.Obj
		for m.Available() > 0 {
			objs = append(objs, m.Pop())
		}
		if len(objs) > 0 {
			c.freeBlock(objs)
		}
	})
	for node := range c.nodes {
		c.drainAllAlien(node)
		c.drainSharedToSlabs(c.nodes[node])
	}
}

func (c *Cache) drainAllAlien(localNode int) {
	nl := c.nodes[localNode]
	for _, remote := range nl.AlienNodes() {
		c.drainAlienToHome(localNode, remote)
	}
}

func (c *Cache) drainSharedToSlabs(nl *nodelist.NodeLists) {
	if nl.Shared == nil {
		return
	}
	nl.Lock.Lock()
	var objs []magazine.Obj
	for nl.Shared.Available() > 0 {
		objs = append(objs, nl.Shared.Pop())
	}
	nl.Lock.Unlock()
	if len(objs) > 0 {
		c.freeBlock(objs)
	}
}

// trimFree releases Free slabs down to keepAtMost, returning how many
// were released. Used by Shrink and Destroy with keepAtMost=0.
func (c *Cache) trimFree(nl *nodelist.NodeLists, keepAtMost int) int {
	nl.Lock.Lock()
	var toRelease []*slab.Slab
	for nl.Free.Len() > keepAtMost {
		s := nl.Free.PopFront()
		nl.FreeObjects.Sub(int64(s.Num))
		toRelease = append(toRelease, s)
	}
	nl.Lock.Unlock()
	for _, s := range toRelease {
		c.releaseSlab(s)
	}
	return len(toRelease)
}

// TrimNode releases one node's Free slabs down to keepAtMost, returning
// how many were released. Exposed for callers that want a target
// retention level directly; the reaper's periodic sweep uses
// ReleaseSlabs instead, which caps by count released rather than count
// kept.
func (c *Cache) TrimNode(node int, keepAtMost int) int {
	return c.trimFree(c.nodes[node], keepAtMost)
}

// ReleaseSlabs releases up to n empty (Free-listed) slabs on node back
// to the PageSource, taking them from the front of the Free list (the
// slab that has sat there longest goes first), returning how many were
// released -- capped by count released, as distinct from
// TrimNode/Shrink's "keep at most K" framing.
func (c *Cache) ReleaseSlabs(node int, n int) int {
	if n <= 0 {
		return 0
	}
	nl := c.nodes[node]
	nl.Lock.Lock()
	var toRelease []*slab.Slab
	for i := 0; i < n && nl.Free.Len() > 0; i++ {
		s := nl.Free.PopFront()
		nl.FreeObjects.Sub(int64(s.Num))
		toRelease = append(toRelease, s)
	}
	nl.Lock.Unlock()
	for _, s := range toRelease {
		c.releaseSlab(s)
	}
	return len(toRelease)
}

// ReapPerCPU visits every CPU shard: a magazine that hasn't been
// pulled from since the last sweep (Touched == false) gives a fifth of
// its objects back to their slabs; a live one is left alone and just
// has Touched cleared so the next sweep starts from a clean slate.
func (c *Cache) ReapPerCPU() {
	c.cpuMags.ForEach(func(_ int, mag **magazine.Magazine) {
		m := *mag
		if !m.Touched.Load() {
			n := m.Available() / 5
			if n == 0 {
				return
			}
			objs := make([]magazine.Obj, 0, n)
			for i := 0; i < n; i++ {
				objs = append(objs, m.PopBottom())
			}
			c.freeBlock(objs)
			return
		}
		m.Touched.Store(false)
	})
}

// ReapAlien drains every alien magazine on node back into its home
// node's own lists.
func (c *Cache) ReapAlien(node int) {
	c.drainAllAlien(node)
}

// ReapShared handles one node's deadline work. If node's next_reap
// deadline has passed, it's rearmed to interval from now, the shared
// magazine is partially drained under the same one-fifth policy as
// ReapPerCPU, and -- only if FreeTouched was already false going into
// this sweep -- up to ceil(FreeLimit/(5*num)) empty slabs are released
// back to the PageSource. FreeTouched is cleared unconditionally
// afterward: a touched node gets one free pass before it becomes
// reap-eligible.
func (c *Cache) ReapShared(node int, now time.Time, interval time.Duration) {
	nl := c.nodes[node]
	nl.Lock.Lock()
	if now.Before(nl.NextReap) {
		nl.Lock.Unlock()
		return
	}
	nl.NextReap = now.Add(interval)

	var objs []magazine.Obj
	if nl.Shared != nil {
		n := nl.Shared.Available() / 5
		for i := 0; i < n; i++ {
			objs = append(objs, nl.Shared.Pop())
		}
	}
	wasTouched := nl.FreeTouched.Load()
	nl.FreeTouched.Store(false)
	nl.Lock.Unlock()

	if len(objs) > 0 {
		c.freeBlock(objs)
	}
	if wasTouched {
		return
	}
	num := int64(c.geometry.Num)
	toRelease := int((nl.FreeLimit + 5*num - 1) / (5 * num))
	if toRelease > 0 {
		c.ReleaseSlabs(node, toRelease)
	}
}

// Stats returns a snapshot of this cache's counters.
func (c *Cache) Stats() Stats {
	var active int64
	for _, nl := range c.nodes {
		nl.Lock.Lock()
		for s := nl.Full.Front(); s != nil; s = s.Next {
			active += int64(s.InUse)
		}
		for s := nl.Partial.Front(); s != nil; s = s.Next {
			active += int64(s.InUse)
		}
		nl.Lock.Unlock()
	}
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Grows:         c.grows.Load(),
		Shrinks:       c.shrinks.Load(),
		ActiveObjects: active,
	}
}

// Destroy tears the cache down. Magazines are drained to node lists
// first -- objects parked in a magazine are free, not outstanding, and
// must not keep their slab on partial -- then any slab still partial
// or full means a caller holds a live object and the destroy fails
// with ErrCacheNotEmpty, leaving the cache in the chain. Otherwise
// every free-list slab is returned to the PageSource and the cache
// drops out of the chain.
func (c *Cache) Destroy() error {
	c.drainAllMagazines()
	for _, nl := range c.nodes {
		nl.Lock.Lock()
		partial, full := nl.Partial.Len(), nl.Full.Len()
		nl.Lock.Unlock()
		if partial > 0 || full > 0 {
			return cmn.WrapNotEmpty(c.Name, partial, full)
		}
	}
	for node := range c.nodes {
		c.trimFree(c.nodes[node], 0)
	}
	c.destroyed.Store(true)
	unregisterChain(c)
	return nil
}

// global cache chain; the mutex is only taken on create/destroy and
// reap iteration.
var (
	chainMu sync.Mutex
	chain   []*Cache
)

func registerChain(c *Cache) {
	chainMu.Lock()
	defer chainMu.Unlock()
	chain = append(chain, c)
}

func unregisterChain(c *Cache) {
	chainMu.Lock()
	defer chainMu.Unlock()
	for i, x := range chain {
		if x == c {
			chain = append(chain[:i], chain[i+1:]...)
			return
		}
	}
}

// Lookup finds a live cache in the chain by name. Lookup by (size,
// flags) is SizeClassLookup's job; this is the by-name primitive
// create/destroy tooling uses.
func Lookup(name string) (*Cache, bool) {
	chainMu.Lock()
	defer chainMu.Unlock()
	for _, c := range chain {
		if c.Name == name && !c.destroyed.Load() {
			return c, true
		}
	}
	return nil, false
}

// Chain returns a snapshot of every live, non-destroyed cache, used by
// the reaper to sweep the whole process.
func Chain() []*Cache {
	chainMu.Lock()
	defer chainMu.Unlock()
	out := make([]*Cache, 0, len(chain))
	for _, c := range chain {
		if !c.destroyed.Load() {
			out = append(out, c)
		}
	}
	return out
}
