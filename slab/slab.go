// Package slab implements the Slab descriptor: one contiguous run of
// 2^order pages carved into Num equal-size objects, plus the side-table
// freelist index vector that tracks which slots are free without
// threading a pointer through the object body (freed objects must keep
// their constructed contents intact).
package slab

import (
	"unsafe"

	"github.com/arvandehghani/slabcache/cmn"
	"github.com/arvandehghani/slabcache/geom"
)

// Ctor is run once per object, at carve time, never again for the
// lifetime of the page memory.
type Ctor func(obj unsafe.Pointer)

// State classifies a slab by how many of its objects are handed out.
type State int

const (
	StateFree State = iota
	StatePartial
	StateFull
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StatePartial:
		return "partial"
	case StateFull:
		return "full"
	default:
		return "invalid"
	}
}

// Slab is the descriptor for one page run. Prev/Next make it directly
// intrusive-listable: a List owns no separate node allocation, it just
// threads these two fields.
type Slab struct {
	Prev, Next *Slab // intrusive list linkage; owned by whichever List holds this slab

	Node            int
	ColouringOffset uint
	FirstObjectAddr uintptr
	ObjSize         int64
	Num             int

	InUse    int
	FreeHead uint32
	freelist []uint32 // side table: freelist[i] = index of next free slot after i

	PageAddr uintptr // base address returned by PageSource.GetPages
	Order    uint
	OffSlab  bool

	// MetaBlock, when non-nil, is the allocation backing this slab's
	// freelist vector, obtained from a smaller general cache for the
	// off-slab layout. The owning cache frees it when the slab's pages
	// are released.
	MetaBlock unsafe.Pointer

	reciprocalMul   uint64 // obj_to_index fast path
	reciprocalShift uint

	state State
}

// New carves a slab descriptor and its freelist vector, initializes the
// freelist to the identity chain 0->1->...->num-1->END, and runs ctor
// once over every object. It does not touch the PageSource reverse map;
// the caller (cache package, which owns the PageSource handle) does
// that via PageSource.SetPageSlab so this package stays free of an
// import cycle.
func New(g *geom.Geometry, pageAddr uintptr, node int, colouringOffset uint, ctor Ctor) *Slab {
	return NewWithMeta(g, pageAddr, node, colouringOffset, ctor, nil)
}

// NewWithMeta is New with the freelist vector living in caller-provided
// storage: the off-slab layout, where slab metadata is carved out of a
// smaller general cache instead of sitting with the objects. freelist
// must hold at least g.Num entries; nil means allocate it here (the
// on-slab case, and the early-boot fallback when no general cache
// exists yet to back it).
func NewWithMeta(g *geom.Geometry, pageAddr uintptr, node int, colouringOffset uint, ctor Ctor, freelist []uint32) *Slab {
	if freelist == nil {
		freelist = make([]uint32, g.Num)
	}
	s := &Slab{
		Node:            node,
		ColouringOffset: colouringOffset,
		ObjSize:         g.ObjSize,
		Num:             g.Num,
		PageAddr:        pageAddr,
		Order:           g.Order,
		OffSlab:         g.OffSlab,
		freelist:        freelist[:g.Num],
		state:           StateFree,
	}
	s.FirstObjectAddr = pageAddr + uintptr(colouringOffset)
	if !g.OffSlab {
		s.FirstObjectAddr += uintptr(g.SlabMetaSize)
	}
	s.reciprocalMul, s.reciprocalShift = computeReciprocal(uint64(g.ObjSize))

	for i := 0; i < g.Num; i++ {
		if i == g.Num-1 {
			s.freelist[i] = geom.EndOfList
		} else {
			s.freelist[i] = uint32(i + 1)
		}
	}

	if ctor != nil {
		for i := 0; i < g.Num; i++ {
			ctor(s.objAt(i))
		}
	}
	return s
}

func (s *Slab) objAt(i int) unsafe.Pointer {
	return unsafe.Pointer(s.FirstObjectAddr + uintptr(i)*uintptr(s.ObjSize))
}

// State reports the slab's current classification.
func (s *Slab) State() State {
	switch {
	case s.InUse == 0:
		return StateFree
	case s.InUse == s.Num:
		return StateFull
	default:
		return StatePartial
	}
}

// GetObj hands out the object at FreeHead and advances it. Caller must
// have checked InUse < Num.
func (s *Slab) GetObj() unsafe.Pointer {
	cmn.Assert(s.FreeHead != geom.EndOfList, "get_obj on exhausted slab")
	idx := s.FreeHead
	s.FreeHead = s.freelist[idx]
	s.InUse++
	return s.objAt(int(idx))
}

// PutObj returns obj to the freelist, using the precomputed reciprocal
// to turn the pointer offset into an index without a division
// instruction.
func (s *Slab) PutObj(obj unsafe.Pointer) {
	idx := s.objToIndex(obj)
	if cmn.Enabled {
		cmn.Assertf(idx < uint32(s.Num), "put_obj: index %d out of range [0,%d)", idx, s.Num)
		cmn.Assertf(!s.isFreeAlready(idx), "double free detected: index %d", idx)
	}
	s.freelist[idx] = s.FreeHead
	s.FreeHead = idx
	s.InUse--
}

func (s *Slab) isFreeAlready(idx uint32) bool {
	for i, steps := s.FreeHead, 0; i != geom.EndOfList && steps <= s.Num; i, steps = s.freelist[i], steps+1 {
		if i == idx {
			return true
		}
	}
	return false
}

// objToIndex computes (obj-FirstObjectAddr)/ObjSize via multiply+shift.
func (s *Slab) objToIndex(obj unsafe.Pointer) uint32 {
	offset := uint64(uintptr(obj) - s.FirstObjectAddr)
	idx := (offset * s.reciprocalMul) >> s.reciprocalShift
	if cmn.Enabled {
		cmn.Assertf(uint32(idx) == uint32(offset/uint64(s.ObjSize)), "reciprocal obj_to_index mismatch: got %d want %d", idx, offset/uint64(s.ObjSize))
	}
	return uint32(idx)
}

// computeReciprocal picks (mul, shift=32) such that (offset*mul)>>32 ==
// offset/divisor for every offset that is an exact object stride within
// one slab; see slab_test.go for a property test across the size range
// the geometry planner can emit.
func computeReciprocal(divisor uint64) (mul uint64, shift uint) {
	const shiftBits = 32
	mul = ((uint64(1) << shiftBits) + divisor - 1) / divisor
	return mul, shiftBits
}

// FreelistLen walks the freelist from FreeHead and returns the number
// of free slots, asserting termination within Num steps: the chain must
// reach END after exactly num-in_use hops with no repeats, so a longer
// walk means a loop.
func (s *Slab) FreelistLen() int {
	n := 0
	for i := s.FreeHead; i != geom.EndOfList; i = s.freelist[i] {
		n++
		if n > s.Num {
			cmn.Assert(false, "freelist loop or corruption: exceeds slab capacity")
		}
	}
	return n
}
