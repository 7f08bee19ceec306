package cmn

// Flags is the composable bitmask cache creation accepts.
type Flags uint32

const (
	// HWCacheAlign bumps alignment to the hardware cache-line size.
	HWCacheAlign Flags = 1 << iota
	// DMA requires pages from a DMA-capable zone (modeled, not enforced,
	// by this module's reference PageSource -- see pagesource.FlagDMA).
	DMA
	// ReclaimAccount relaxes the fragmentation test in the geometry
	// planner. Slab pages are not tracked separately as reclaimable.
	ReclaimAccount
	// DestroyByRCU defers page release through pagesource.RCUCall.
	DestroyByRCU
	// PanicOnFail aborts cache creation rather than returning an error.
	PanicOnFail
	// RedZone, StoreUser and Poison name the debug aids (guard padding
	// around objects, recording the caller with each object, poison fill
	// on free). Cache creation accepts them, but this module does not
	// implement them: setting them changes neither layout nor behaviour.
	RedZone
	StoreUser
	Poison
)

// KnownFlags is every bit cache creation accepts; anything outside it
// is an InvalidArgument.
const KnownFlags = HWCacheAlign | DMA | ReclaimAccount | DestroyByRCU | PanicOnFail | RedZone | StoreUser | Poison

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }
