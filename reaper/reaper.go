// Package reaper implements the periodic background sweep: for every
// live cache, drain alien magazines, partially drain per-CPU magazines
// that have gone idle since the last sweep, and, per node once its
// reap deadline has passed, partially drain the shared magazine and
// release a bounded number of empty slabs (see Cache.ReapShared). A
// plain ticker-driven goroutine is
// all the machinery this needs.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/arvandehghani/slabcache/cache"
	"github.com/arvandehghani/slabcache/cmn"
)

// DefaultInterval is the reap period. Reaping exists to reclaim memory
// that's gone cold, so a multi-second cadence is plenty.
const DefaultInterval = 4 * time.Second

// Reaper periodically sweeps every cache registered in the global
// chain (cache.Chain). Zero value is not usable; construct with New.
type Reaper struct {
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Reaper with the given sweep interval. interval<=0 uses
// DefaultInterval.
func New(interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{interval: interval}
}

// Start launches the background sweep goroutine. Calling Start on an
// already-running Reaper is a no-op.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.loop(ctx)
}

// Stop signals the sweep goroutine to exit and waits for it to do so.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweep(r.interval)
		}
	}
}

// SweepOnce runs one reap pass over every live cache in the process,
// using DefaultInterval to arm each node's next_reap deadline. Exported
// so tests and callers that want reap-on-demand semantics (rather than
// a background ticker) can drive it directly.
func SweepOnce() {
	sweep(DefaultInterval)
}

func sweep(interval time.Duration) {
	now := time.Now()
	for _, c := range cache.Chain() {
		reapCache(c, now, interval)
	}
}

// reapCache is one cache's reap body: (1) drain alien magazines, (2)
// partially drain per-CPU magazines that have gone idle since the last
// sweep, (3) per node, once its next_reap deadline has passed,
// partially drain the shared magazine and conditionally trim the free
// list. All three steps' actual mechanics live on Cache, which already
// owns the node locks and magazine access they need; reaper only
// sequences and times them.
func reapCache(c *cache.Cache, now time.Time, interval time.Duration) {
	for node := 0; node < c.NumNodes(); node++ {
		c.ReapAlien(node)
	}
	c.ReapPerCPU()
	for node := 0; node < c.NumNodes(); node++ {
		c.ReapShared(node, now, interval)
	}
	cmn.Infof("reaper: swept cache %q", c.Name)
}
