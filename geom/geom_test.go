package geom

import (
	"testing"

	"github.com/arvandehghani/slabcache/cmn"
	"github.com/arvandehghani/slabcache/internal/tassert"
)

const (
	pageSize  = 4096
	cacheLine = 64
)

// TestPlanSmallObjectOnSlab: a 32-byte, 64-byte-aligned, HWCacheAlign
// object planned at full bootstrap lands on-slab at order 0, rounded
// up to its requested alignment.
func TestPlanSmallObjectOnSlab(t *testing.T) {
	g, err := Plan(32, 64, cmn.HWCacheAlign, pageSize, cacheLine, false, false)
	tassert.Fatalf(t, err == nil, "unexpected error: %v", err)
	tassert.Errorf(t, g.Order == 0, "want order 0, got %d", g.Order)
	tassert.Errorf(t, !g.OffSlab, "want on-slab placement")
	tassert.Errorf(t, g.Num > 0, "want num > 0")
	tassert.Errorf(t, g.ObjSize == 64, "want object size re-rounded to the requested 64-byte alignment, got %d", g.ObjSize)
	tassert.Errorf(t, g.ColourUnit == cacheLine, "want colour unit %d, got %d", cacheLine, g.ColourUnit)
}

// TestPlanRequestedAlignmentWins checks that the cacheline halving rule
// never weakens an explicit caller alignment: a 32-byte object asking
// for 64-byte alignment gets 64, while the same object with
// HWCACHE_ALIGN alone is allowed the halved 32.
func TestPlanRequestedAlignmentWins(t *testing.T) {
	explicit, err := Plan(32, 64, cmn.HWCacheAlign, pageSize, cacheLine, false, false)
	tassert.Fatalf(t, err == nil, "unexpected error: %v", err)
	tassert.Errorf(t, explicit.Align == 64, "want requested 64-byte alignment honored, got %d", explicit.Align)

	halved, err := Plan(32, 0, cmn.HWCacheAlign, pageSize, cacheLine, false, false)
	tassert.Fatalf(t, err == nil, "unexpected error: %v", err)
	tassert.Errorf(t, halved.Align == 32, "want cacheline alignment halved to 32 for a 32-byte object, got %d", halved.Align)
}

// TestPlanLargeObjectOffSlab: a 2048-byte object (>= pageSize/8)
// should be placed off-slab when bootstrap allows it.
func TestPlanLargeObjectOffSlab(t *testing.T) {
	g, err := Plan(2048, 0, 0, pageSize, cacheLine, false, false)
	tassert.Fatalf(t, err == nil, "unexpected error: %v", err)
	tassert.Errorf(t, g.OffSlab, "want off-slab placement for a %d-byte object", g.ObjSize)
	tassert.Errorf(t, g.Num >= 1, "want num >= 1, got %d", g.Num)
}

// TestPlanEarlyBootNeverOffSlab checks the bootstrap gating: the same
// large object, planned before the boot state machine reaches FULL,
// must stay on-slab regardless of size.
func TestPlanEarlyBootNeverOffSlab(t *testing.T) {
	g, err := Plan(2048, 0, 0, pageSize, cacheLine, true, false)
	tassert.Fatalf(t, err == nil, "unexpected error: %v", err)
	tassert.Errorf(t, !g.OffSlab, "want on-slab placement during early boot")
}

// TestPlanProperty: across a spread of sizes/flags, every planned
// geometry must yield num>=1, objects fitting within 2^order pages
// under the declared placement, and an acceptable leftover.
func TestPlanProperty(t *testing.T) {
	sizes := []int64{1, 8, 16, 24, 32, 48, 64, 96, 128, 256, 512, 768, 1024, 2048, 3000, 4096, 8192, 16384}
	flagSets := []cmn.Flags{0, cmn.HWCacheAlign, cmn.ReclaimAccount, cmn.HWCacheAlign | cmn.ReclaimAccount}

	for _, size := range sizes {
		for _, flags := range flagSets {
			for _, earlyBoot := range []bool{false, true} {
				g, err := Plan(size, 0, flags, pageSize, cacheLine, earlyBoot, flags.Has(cmn.ReclaimAccount))
				tassert.Fatalf(t, err == nil, "Plan(%d, flags=%v, earlyBoot=%v): unexpected error: %v", size, flags, earlyBoot, err)
				tassert.Errorf(t, g.Num >= 1, "Plan(%d): num must be >= 1, got %d", size, g.Num)

				slabBytes := uint(pageSize) << g.Order
				var used uint
				if g.OffSlab {
					used = uint(g.Num) * uint(g.ObjSize)
				} else {
					used = descBytes + uint(g.Num)*(uint(g.ObjSize)+IndexSize)
				}
				tassert.Errorf(t, used <= slabBytes, "Plan(%d): objects+metadata (%d) exceed slab bytes (%d)", size, used, slabBytes)

				leftover := slabBytes - used
				fragAcceptable := leftover*8 <= slabBytes
				reclaimable := flags.Has(cmn.ReclaimAccount)
				tassert.Errorf(t, fragAcceptable || reclaimable || g.Order >= cmn.SlabBreakOrder,
					"Plan(%d): leftover %d fails the fragmentation test and no override flag applies (order=%d)", size, leftover, g.Order)

				if earlyBoot {
					tassert.Errorf(t, !g.OffSlab, "Plan(%d) during early boot must stay on-slab", size)
				}
			}
		}
	}
}

func TestPlanRejectsNonPositiveSize(t *testing.T) {
	_, err := Plan(0, 0, 0, pageSize, cacheLine, false, false)
	tassert.Errorf(t, err != nil, "want error for zero-size object")
	_, err = Plan(-8, 0, 0, pageSize, cacheLine, false, false)
	tassert.Errorf(t, err != nil, "want error for negative-size object")
}

// TestPlanColouringMatchesUnitCount checks the colour_count arithmetic
// directly against leftover/colour_unit rather than just its sign.
func TestPlanColouringMatchesUnitCount(t *testing.T) {
	g, err := Plan(32, 64, cmn.HWCacheAlign, pageSize, cacheLine, false, false)
	tassert.Fatalf(t, err == nil, "unexpected error: %v", err)

	slabBytes := uint(pageSize) << g.Order
	used := descBytes + uint(g.Num)*(uint(g.ObjSize)+IndexSize)
	leftover := slabBytes - used
	want := leftover / g.ColourUnit
	tassert.Errorf(t, g.ColourCount == want, "want colour_count %d, got %d", want, g.ColourCount)
}
