// Package nodelist implements NodeLists, one cache's per-NUMA-node
// state: the triple list of slabs (full/partial/free) plus the node's
// shared magazine, alien magazines, and growth/reap bookkeeping.
package nodelist

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/arvandehghani/slabcache/magazine"
	"github.com/arvandehghani/slabcache/slab"
)

// NodeLists is one cache's state for one NUMA node.
type NodeLists struct {
	// Lock serializes access to the three lists below, the counters,
	// and Shared. It's a sync.Mutex rather than a spinlock because the
	// reap and free_block critical sections it protects are long enough
	// (walking slabs, releasing pages) that user-space spinning would
	// waste cycles rather than save them.
	Lock sync.Mutex

	Full, Partial, Free slab.List

	FreeObjects atomic.Int64 // free objects across this node's free+partial slabs
	FreeLimit   int64        // past this, an emptied slab is released rather than kept

	ColourNext  uint // next coloring value to assign (cycles mod ColourCount)
	ColourCount uint

	Shared *magazine.Magazine

	// Alien holds, for each remote node, objects freed locally that
	// belong to a slab on that remote node. Created lazily on first
	// cross-node free. Each slot carries its own lock: alien traffic is
	// a cold cross-NUMA path, so serializing it separately from Lock
	// (the hot free/grow path's lock) keeps the two from contending.
	alienMu sync.Mutex
	Alien   map[int]*alienSlot

	NextReap    time.Time
	FreeTouched atomic.Bool
}

type alienSlot struct {
	mu  sync.Mutex
	mag *magazine.Magazine
}

// New allocates a NodeLists for one (cache, node) pair.
func New(sharedCapacity, sharedBatch int, colourCount uint, freeLimit int64) *NodeLists {
	nl := &NodeLists{
		ColourCount: colourCount,
		FreeLimit:   freeLimit,
		Alien:       make(map[int]*alienSlot),
	}
	if sharedCapacity > 0 {
		nl.Shared = magazine.New(sharedCapacity, sharedBatch)
	}
	return nl
}

// NextColour returns the coloring offset to assign to a newly grown
// slab and advances the cursor, cycling through
// [0, ColourCount) * colourUnit.
func (nl *NodeLists) NextColour(colourUnit uint) uint {
	if nl.ColourCount == 0 {
		return 0
	}
	c := nl.ColourNext * colourUnit
	nl.ColourNext = (nl.ColourNext + 1) % nl.ColourCount
	return c
}

func (nl *NodeLists) alienSlotFor(remoteNode, capacity, batch int) *alienSlot {
	nl.alienMu.Lock()
	defer nl.alienMu.Unlock()
	s, ok := nl.Alien[remoteNode]
	if !ok {
		s = &alienSlot{mag: magazine.New(capacity, batch)}
		nl.Alien[remoteNode] = s
	}
	return s
}

// WithAlien runs fn against the (lazily created) alien magazine for
// remoteNode, holding that slot's own lock for the duration. fn returns
// true if it consumed/changed the magazine in a way that satisfies the
// caller (e.g. successfully pushed); WithAlien returns fn's result.
func (nl *NodeLists) WithAlien(remoteNode, capacity, batch int, fn func(*magazine.Magazine) bool) bool {
	slot := nl.alienSlotFor(remoteNode, capacity, batch)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return fn(slot.mag)
}

// AlienNodes returns the set of remote node ids with a live alien
// magazine, used by the reaper to round-robin drains.
func (nl *NodeLists) AlienNodes() []int {
	nl.alienMu.Lock()
	defer nl.alienMu.Unlock()
	nodes := make([]int, 0, len(nl.Alien))
	for n := range nl.Alien {
		nodes = append(nodes, n)
	}
	return nodes
}

// AccountedFree recomputes the node's free-object count the long way:
// the sum of (num-in_use) over free+partial slabs. Tests cross-check
// the maintained FreeObjects counter against this.
func AccountedFree(nl *NodeLists) int64 {
	var sum int64
	for s := nl.Free.Front(); s != nil; s = s.Next {
		sum += int64(s.Num - s.InUse)
	}
	for s := nl.Partial.Front(); s != nil; s = s.Next {
		sum += int64(s.Num - s.InUse)
	}
	return sum
}
