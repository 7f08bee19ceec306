// Package geom implements the geometry planner: it decides page-order,
// on-slab vs off-slab metadata placement, object count, and the
// coloring range for a cache, given the caller's requested object size,
// alignment, and flags.
package geom

import (
	"math"

	"github.com/arvandehghani/slabcache/cmn"
)

// IndexSize is sizeof the freelist index entry type. This module uses
// uint32 indices, so EndOfList and MaxObjectsPerSlab follow from that
// choice.
const IndexSize = 4

// EndOfList is the freelist sentinel marking the tail of the chain.
const EndOfList uint32 = math.MaxUint32

// MaxObjectsPerSlab caps object count so every index, plus the
// sentinel, stays representable in the freelist entry type.
const MaxObjectsPerSlab = EndOfList - 1

// descBytes approximates the slab descriptor's size excluding the
// freelist vector: node id, in_use, free_head, coloring_offset,
// first_object_addr, the two intrusive list links, and the
// obj_to_index reciprocal (multiplier + shift). This module keeps slab
// descriptors as ordinary Go-heap structs even for the "on-slab" case
// (placing a live Go struct inside unmanaged mmap'd memory is not
// something safe Go code does); "on-slab vs off-slab" here therefore
// governs which allocation supplies the freelist storage while the
// geometry math below still reserves the bytes on-slab metadata would
// consume, so num/order/colour_count come out identical to the literal
// layout.
const descBytes = 64

// Geometry is the planner's output for one cache.
type Geometry struct {
	ObjSize      int64 // after word-rounding and alignment
	Align        uint
	Order        uint
	Num          int // objects per slab
	OffSlab      bool
	ColourUnit   uint
	ColourCount  uint
	SlabMetaSize uint // bytes reserved for descriptor+freelist, on-slab case
}

// Plan computes a cache's slab geometry: normalize size and alignment,
// decide metadata placement, search page orders for an acceptable
// object count, then derive the coloring range from the leftover. The
// off-slab promotion back to on-slab happens before colour_count is
// computed, so the colour range reflects the final layout.
func Plan(reqSize int64, reqAlign uint, flags cmn.Flags, pageSize uint, cacheLine uint, earlyBoot bool, reclaimable bool) (*Geometry, error) {
	if reqSize <= 0 {
		return nil, cmn.WrapInvalidArg("object size must be positive, got %d", reqSize)
	}

	// Normalize size up to a machine-word multiple.
	size := alignI64(reqSize, cmn.WordSize)

	// The cacheline-derived alignment is halved while the object fits
	// twice in it, so small objects don't get under-packed; the caller's
	// explicit alignment is never weakened by that halving.
	ralign := uint(cmn.WordSize)
	if flags.Has(cmn.HWCacheAlign) {
		ralign = cacheLine
		for ralign > cmn.WordSize && size <= int64(ralign/2) {
			ralign /= 2
		}
	}
	align := cmn.MaxU(cmn.MaxU(reqAlign, ralign), cmn.WordSize)
	size = alignI64(size, align)
	if uint64(size) > uint64(pageSize)<<cmn.MaxOrder {
		return nil, cmn.WrapInvalidArg("object size %d too large for max slab order", size)
	}

	offSlab := size >= int64(pageSize)/8 && !earlyBoot

	var (
		order       uint
		num         int
		slabBytes   uint
		leftover    uint
		metaBytes   uint
		colourUnit  = cmn.MaxU(align, cacheLine)
		colourCount uint
		found       bool
	)

	for order = 0; order <= cmn.MaxOrder; order++ {
		slabBytes = pageSize << order
		if offSlab {
			num = int(slabBytes / uint(size))
		} else {
			num = int((slabBytes - descBytes) / (uint(size) + IndexSize))
		}
		if num < 1 {
			continue
		}
		if num > int(MaxObjectsPerSlab) {
			num = int(MaxObjectsPerSlab)
		}
		if offSlab && num > int((uint(size)-descBytes)/IndexSize) {
			continue
		}

		var used uint
		if offSlab {
			used = uint(num) * uint(size)
		} else {
			used = descBytes + uint(num)*(uint(size)+IndexSize)
		}
		leftover = slabBytes - used

		fragAcceptable := leftover*8 <= slabBytes
		if fragAcceptable || reclaimable || flags.Has(cmn.ReclaimAccount) || order >= cmn.SlabBreakOrder {
			metaBytes = cmn.AlignUp(descBytes+uint(num)*IndexSize, align)
			found = true
			break
		}
	}
	if !found {
		return nil, cmn.WrapInvalidArg("no slab order up to %d yields at least one object of size %d", cmn.MaxOrder, size)
	}

	// Off-slab promotion: if the leftover after objects already covers
	// the metadata, placing metadata on-slab is free and better for
	// locality.
	if offSlab && leftover >= metaBytes {
		offSlab = false
		leftover -= metaBytes
	}

	colourCount = leftover / colourUnit

	return &Geometry{
		ObjSize:      size,
		Align:        align,
		Order:        order,
		Num:          num,
		OffSlab:      offSlab,
		ColourUnit:   colourUnit,
		ColourCount:  colourCount,
		SlabMetaSize: metaBytes,
	}, nil
}

func alignI64(n int64, align uint) int64 {
	return int64(cmn.AlignUp(uint(n), align))
}
