package cache

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/arvandehghani/slabcache/boot"
	"github.com/arvandehghani/slabcache/cmn"
	"github.com/arvandehghani/slabcache/magazine"
	"github.com/arvandehghani/slabcache/nodelist"
	"github.com/arvandehghani/slabcache/pagesource"
)

// generalSizes is the ladder of general-purpose size classes created
// at bootstrap. Each class exists in a normal and a DMA variant, the
// DMA one growing from a DMA-capable zone.
var generalSizes = []int64{32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

type sizeClass struct {
	size int64
	std  *Cache
	dma  *Cache
}

var (
	generalMu sync.Mutex
	general   []sizeClass
)

// Bootstrap runs the phased initialization against ps: the size class
// backing magazine metadata first (phase PARTIAL_MAG), then the one
// backing NodeLists metadata (PARTIAL_LIST), then the rest of the
// general ladder (FULL). Until the manager reads FULL, every cache
// created -- these included -- is planned on-slab; the off-slab layout
// and its metadata backing only become available afterwards. Safe to
// call from any number of goroutines; only one runs the sequence.
func Bootstrap(ps pagesource.PageSource, opts ...Option) error {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	bm := boot.Default()
	if cfg.bootMgr != nil {
		bm = cfg.bootMgr
	}
	magSize := classSizeFor(int64(unsafe.Sizeof(magazine.Magazine{})))
	listSize := classSizeFor(int64(unsafe.Sizeof(nodelist.NodeLists{})))
	return bm.Ensure(
		func() error { return ensureClass(ps, magSize, opts...) },
		func() error { return ensureClass(ps, listSize, opts...) },
		func() error {
			for _, size := range generalSizes {
				if err := ensureClass(ps, size, opts...); err != nil {
					return err
				}
			}
			return nil
		},
	)
}

// SizeClassLookup returns the smallest general cache whose objects
// hold size bytes, honoring the DMA flag by routing to the class's DMA
// variant. Reports false before Bootstrap has created the ladder, or
// when size exceeds the largest class.
func SizeClassLookup(size int64, flags cmn.Flags) (*Cache, bool) {
	generalMu.Lock()
	defer generalMu.Unlock()
	var best *sizeClass
	for i := range general {
		sc := &general[i]
		if sc.size < size {
			continue
		}
		if best == nil || sc.size < best.size {
			best = sc
		}
	}
	if best == nil {
		return nil, false
	}
	if flags.Has(cmn.DMA) {
		return best.dma, true
	}
	return best.std, true
}

// classSizeFor picks the ladder rung covering n bytes, saturating at
// the largest class.
func classSizeFor(n int64) int64 {
	for _, size := range generalSizes {
		if size >= n {
			return size
		}
	}
	return generalSizes[len(generalSizes)-1]
}

func ensureClass(ps pagesource.PageSource, size int64, opts ...Option) error {
	generalMu.Lock()
	defer generalMu.Unlock()
	for _, sc := range general {
		if sc.size == size {
			return nil
		}
	}
	std, err := New(ps, fmt.Sprintf("size-%d", size), size, 0, 0, nil, opts...)
	if err != nil {
		return err
	}
	dma, err := New(ps, fmt.Sprintf("size-%d(DMA)", size), size, 0, cmn.DMA, nil, opts...)
	if err != nil {
		return err
	}
	general = append(general, sizeClass{size: size, std: std, dma: dma})
	return nil
}
