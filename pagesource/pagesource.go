// Package pagesource is the page allocator underneath the slab core.
// The PageSource interface is what the allocator actually depends on;
// BuddyPageSource is a real (if deliberately small) buddy allocator
// over mmap'd anonymous memory, so the rest of the module is runnable
// and testable rather than wired to a mock.
package pagesource

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/arvandehghani/slabcache/cmn"
)

// Flags qualify a page request.
type Flags uint32

const (
	FlagDMA Flags = 1 << iota
)

// AnyNode requests an unrestricted node hint: the allocation may come
// from whichever node has room, and the caller learns which.
const AnyNode = -1

// PageSource is the interface the cache/nodelist/reaper packages depend
// on. Owner is an opaque token: whatever SetPageSlab was given comes
// back unchanged from PageToSlab. Keeping it opaque (rather than a
// concrete *cache.Cache/*slab.Slab pair) avoids an import cycle between
// this package and the ones that own those types.
type PageSource interface {
	// GetPages returns the base address of 2^order contiguous pages on
	// the given node (or AnyNode), or an error if none are available.
	GetPages(order uint, node int, flags Flags) (addr uintptr, actualNode int, err error)
	// FreePages returns 2^order contiguous pages starting at addr.
	FreePages(addr uintptr, order uint)
	// PageToSlab is the reverse map populated by SetPageSlab.
	PageToSlab(addr uintptr) (owner interface{}, ok bool)
	// SetPageSlab registers every page of a 2^order run as owned by owner.
	SetPageSlab(addr uintptr, order uint, owner interface{})
	// RCUCall schedules cb behind a quiescence barrier, used by
	// DestroyByRCU caches. The reference implementation
	// approximates a grace period with runtime.Gosched-based deferral;
	// real RCU semantics are a kernel concept this module does not
	// reproduce exactly.
	RCUCall(cb func())
	// NumNodes reports how many NUMA nodes this source models.
	NumNodes() int
}

// node is one buddy arena: a contiguous mmap'd region split into
// PageSize pages, with a classic free-list-per-order structure.
type node struct {
	mu        sync.Mutex
	base      uintptr
	mem       []byte
	pageSize  uint
	maxOrder  uint
	numPages  uint
	freeLists [][]uint // freeLists[order] = stack of page indices
	allocated []bool   // allocated[pageIdx] true once handed out as part of some order-run's base page
}

// BuddyPageSource implements PageSource over one arena per NUMA node.
type BuddyPageSource struct {
	nodes   []*node
	pageSz  uint
	revMu   sync.RWMutex
	rev     map[uintptr]interface{}
	rrCount uint64 // round robin cursor for AnyNode
}

// NewBuddyPageSource creates a BuddyPageSource with numNodes arenas,
// each arenaBytes large, carved into pageSize-byte pages.
func NewBuddyPageSource(numNodes int, arenaBytes uint, pageSize uint) (*BuddyPageSource, error) {
	if numNodes < 1 {
		numNodes = 1
	}
	if !cmn.IsPowerOfTwo(pageSize) {
		return nil, errors.New("pagesource: page size must be a power of two")
	}
	bps := &BuddyPageSource{
		pageSz: pageSize,
		rev:    make(map[uintptr]interface{}),
	}
	for i := 0; i < numNodes; i++ {
		n, err := newNode(arenaBytes, pageSize)
		if err != nil {
			bps.closeAll()
			return nil, errors.Wrapf(err, "pagesource: node %d", i)
		}
		bps.nodes = append(bps.nodes, n)
	}
	return bps, nil
}

func newNode(arenaBytes, pageSize uint) (*node, error) {
	numPages := arenaBytes / pageSize
	if numPages == 0 {
		return nil, errors.New("arena too small for one page")
	}
	maxOrder := uint(0)
	for (uint(1) << (maxOrder + 1)) <= numPages {
		maxOrder++
	}
	mem, err := unix.Mmap(-1, 0, int(numPages*pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}
	n := &node{
		base:      uintptr(unsafe.Pointer(&mem[0])),
		mem:       mem,
		pageSize:  pageSize,
		maxOrder:  maxOrder,
		numPages:  numPages,
		freeLists: make([][]uint, maxOrder+1),
		allocated: make([]bool, numPages),
	}
	// Carve the whole arena into the largest possible blocks up front.
	idx := uint(0)
	for idx < numPages {
		order := maxOrder
		for order > 0 && (idx+(1<<order) > numPages || idx%(1<<order) != 0) {
			order--
		}
		n.freeLists[order] = append(n.freeLists[order], idx)
		idx += 1 << order
	}
	return n, nil
}

func (n *node) get(order uint) (uintptr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if order > n.maxOrder {
		return 0, errors.Errorf("order %d exceeds node max order %d", order, n.maxOrder)
	}
	o := order
	for o <= n.maxOrder && len(n.freeLists[o]) == 0 {
		o++
	}
	if o > n.maxOrder {
		return 0, errors.New("node exhausted")
	}
	// pop a block of order o, split down to `order`.
	last := len(n.freeLists[o]) - 1
	idx := n.freeLists[o][last]
	n.freeLists[o] = n.freeLists[o][:last]
	for o > order {
		o--
		buddy := idx + (1 << o)
		n.freeLists[o] = append(n.freeLists[o], buddy)
	}
	n.allocated[idx] = true
	return n.base + uintptr(idx)*uintptr(n.pageSize), nil
}

func (n *node) free(addr uintptr, order uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx := uint((addr - n.base) / uintptr(n.pageSize))
	n.allocated[idx] = false
	for order < n.maxOrder {
		buddy := idx ^ (1 << order)
		if buddy >= n.numPages {
			break
		}
		if !n.tryRemoveFree(order, buddy) {
			break
		}
		if buddy < idx {
			idx = buddy
		}
		order++
	}
	n.freeLists[order] = append(n.freeLists[order], idx)
}

// tryRemoveFree removes idx from freeLists[order] if present, reporting
// whether it was found (i.e. the buddy is currently free and mergeable).
func (n *node) tryRemoveFree(order, idx uint) bool {
	fl := n.freeLists[order]
	for i, v := range fl {
		if v == idx {
			fl[i] = fl[len(fl)-1]
			n.freeLists[order] = fl[:len(fl)-1]
			return true
		}
	}
	return false
}

func (bps *BuddyPageSource) GetPages(order uint, reqNode int, _ Flags) (uintptr, int, error) {
	if reqNode == AnyNode {
		start := int(bps.rrCount % uint64(len(bps.nodes)))
		bps.rrCount++
		for i := 0; i < len(bps.nodes); i++ {
			idx := (start + i) % len(bps.nodes)
			if addr, err := bps.nodes[idx].get(order); err == nil {
				return addr, idx, nil
			}
		}
		return 0, -1, cmn.WrapOOM("pagesource", order)
	}
	if reqNode < 0 || reqNode >= len(bps.nodes) {
		return 0, -1, errors.Errorf("pagesource: invalid node %d", reqNode)
	}
	addr, err := bps.nodes[reqNode].get(order)
	if err != nil {
		return 0, -1, cmn.WrapOOM("pagesource", order)
	}
	return addr, reqNode, nil
}

func (bps *BuddyPageSource) FreePages(addr uintptr, order uint) {
	for _, n := range bps.nodes {
		if addr >= n.base && addr < n.base+uintptr(len(n.mem)) {
			n.free(addr, order)
			bps.revMu.Lock()
			pages := uint(1) << order
			for i := uint(0); i < pages; i++ {
				delete(bps.rev, addr+uintptr(i)*uintptr(bps.pageSz))
			}
			bps.revMu.Unlock()
			return
		}
	}
}

func (bps *BuddyPageSource) PageToSlab(addr uintptr) (interface{}, bool) {
	page := addr &^ uintptr(bps.pageSz-1)
	bps.revMu.RLock()
	defer bps.revMu.RUnlock()
	owner, ok := bps.rev[page]
	return owner, ok
}

func (bps *BuddyPageSource) SetPageSlab(addr uintptr, order uint, owner interface{}) {
	bps.revMu.Lock()
	defer bps.revMu.Unlock()
	pages := uint(1) << order
	for i := uint(0); i < pages; i++ {
		bps.rev[addr+uintptr(i)*uintptr(bps.pageSz)] = owner
	}
}

// RCUCall approximates a quiescence barrier by running cb on a separate
// goroutine after yielding the scheduler once. This module does not
// implement true RCU grace periods; it exists so DestroyByRCU caches
// have a real, if simplified, collaborator to call.
func (bps *BuddyPageSource) RCUCall(cb func()) {
	go func() {
		runtime.Gosched()
		cb()
	}()
}

func (bps *BuddyPageSource) NumNodes() int { return len(bps.nodes) }

func (bps *BuddyPageSource) closeAll() {
	for _, n := range bps.nodes {
		_ = unix.Munmap(n.mem)
	}
}

// Close releases every node's arena back to the OS. The BuddyPageSource
// must not be used afterwards.
func (bps *BuddyPageSource) Close() {
	bps.closeAll()
}
