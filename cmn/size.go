package cmn

const (
	// WordSize is the machine-word size objects are normalized up to
	// before alignment.
	WordSize = 8

	// CacheLineSize is the common hardware cache-line size. Real systems
	// vary (32-256B). The geometry planner does not read this constant:
	// it takes the cache-line size from sysinfo.Topology.CacheLine.
	CacheLineSize = 64

	// SlabBreakOrder is the hard cap on the geometry search: at this
	// order and above, fragmentation is accepted rather than buying
	// more contiguity.
	SlabBreakOrder = 1

	// MaxOrder bounds the geometry search loop; no PageSource in this
	// module is asked for more than 2^MaxOrder contiguous pages.
	MaxOrder = 10
)

// AlignUp rounds n up to the nearest multiple of align. align must be a
// power of two.
func AlignUp(n, align uint) uint {
	return (n + align - 1) &^ (align - 1)
}

// IsPowerOfTwo reports whether n is a power of two.
func IsPowerOfTwo(n uint) bool {
	return n != 0 && n&(n-1) == 0
}

func MinU(a, b uint) uint {
	if a < b {
		return a
	}
	return b
}

func MaxU(a, b uint) uint {
	if a > b {
		return a
	}
	return b
}

func MinI(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func MaxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// DivCeil divides a by b rounding up.
func DivCeil(a, b int64) int64 {
	return (a + b - 1) / b
}
