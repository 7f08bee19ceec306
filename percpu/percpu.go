// Package percpu provides PerCPU[T]: an array of per-CPU shards
// accessed only through a scoped guard that is the ownership proof for
// touching one shard.
//
// Go exposes no public API to disable preemption on the calling
// goroutine, so "runs on this CPU with preemption off" cannot be
// expressed directly. Pin instead acquires a fast per-shard spinlock.
// Two goroutines can therefore never observe the same shard unlocked at
// the same time, which is the one property the hot path (cache package)
// actually depends on: a shard's magazine is touched only by the
// goroutine currently holding that shard's lock.
package percpu

import (
	"runtime"
	"sync/atomic"
)

// spinlock is a minimal test-and-set lock. It is intentionally not
// sync.Mutex: holds are expected to be a handful of instructions
// (magazine push/pop), exactly the regime spinning suits.
type spinlock struct{ state uint32 }

func (s *spinlock) lock() {
	for !atomic.CompareAndSwapUint32(&s.state, 0, 1) {
		runtime.Gosched()
	}
}

func (s *spinlock) unlock() {
	atomic.StoreUint32(&s.state, 0)
}

type shard[T any] struct {
	_   [0]func() // prevent accidental comparison
	mu  spinlock
	val T
}

// PerCPU holds one T per logical shard. The shard count is normally
// runtime.GOMAXPROCS(0) or a host's reported CPU count; it need not
// equal the number of live goroutines.
type PerCPU[T any] struct {
	shards []*shard[T]
	next   uint64 // round-robin cursor for Pin's shard selection
}

// New allocates n shards, each initialized by newVal (called once per
// shard, synchronously, in New -- not lazily on first Pin).
func New[T any](n int, newVal func() T) *PerCPU[T] {
	if n < 1 {
		n = 1
	}
	p := &PerCPU[T]{shards: make([]*shard[T], n)}
	for i := range p.shards {
		p.shards[i] = &shard[T]{val: newVal()}
	}
	return p
}

// Len returns the shard count.
func (p *PerCPU[T]) Len() int { return len(p.shards) }

// Guard is the ownership proof returned by Pin. Its zero value is not
// valid; always obtained from Pin and released via Unpin.
type Guard[T any] struct {
	p   *PerCPU[T]
	idx int
}

// Index returns the shard index the guard holds.
func (g *Guard[T]) Index() int { return g.idx }

// Value returns a pointer to the pinned shard's value. Valid only
// between Pin and Unpin.
func (g *Guard[T]) Value() *T { return &g.p.shards[g.idx].val }

// Pin acquires the next shard round-robin and returns a guard over it.
// Round-robin (rather than a goroutine-affine id, which Go does not
// expose) spreads contention the same way a real per-CPU array would
// under migration, at the cost of no true CPU affinity.
func (p *PerCPU[T]) Pin() *Guard[T] {
	idx := int(atomic.AddUint64(&p.next, 1) % uint64(len(p.shards)))
	p.shards[idx].mu.lock()
	return &Guard[T]{p: p, idx: idx}
}

// PinShard pins a specific shard index, used by the reaper to visit
// every shard deterministically rather than round-robin.
func (p *PerCPU[T]) PinShard(idx int) *Guard[T] {
	idx = idx % len(p.shards)
	p.shards[idx].mu.lock()
	return &Guard[T]{p: p, idx: idx}
}

// Unpin releases the shard. Must be called exactly once per Pin/PinShard.
func (g *Guard[T]) Unpin() {
	g.p.shards[g.idx].mu.unlock()
}

// ForEach visits every shard in order, pinning/unpinning each in turn.
// Used by the reaper, which must visit every per-CPU magazine once per
// sweep.
func (p *PerCPU[T]) ForEach(fn func(idx int, v *T)) {
	for i := range p.shards {
		g := p.PinShard(i)
		fn(i, g.Value())
		g.Unpin()
	}
}
