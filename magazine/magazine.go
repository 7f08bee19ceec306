// Package magazine implements the array cache at the heart of the
// allocator's hot path: a fixed-capacity LIFO stack of object pointers,
// used both as the per-CPU magazine and as the per-node shared magazine.
//
// A Magazine carries no lock of its own. Per-CPU magazines are only
// ever touched by the holder of the owning percpu.Guard, and shared
// magazines only while the owning node's list lock is held; both
// callers already hold the exclusivity proof by the time they reach
// into a Magazine, so a second lock here would be redundant.
package magazine

import (
	"unsafe"

	"go.uber.org/atomic"
)

// Obj is an allocated object's address. Slabs hand these out; magazines
// only move them around.
type Obj unsafe.Pointer

// Magazine is a bounded LIFO stack of object pointers. Touched is set
// on every successful pull and cleared by the reaper, which uses it to
// tell a live magazine from an idle one.
type Magazine struct {
	entries    []Obj
	available  int
	capacity   int
	BatchCount int
	Touched    atomic.Bool
}

// New allocates a magazine with the given capacity and batch count.
// batchCount is the number of objects moved in one refill/flush/transfer.
func New(capacity, batchCount int) *Magazine {
	return &Magazine{
		entries:    make([]Obj, capacity),
		capacity:   capacity,
		BatchCount: batchCount,
	}
}

// Tune picks capacity/batch-count from object size: bigger objects get
// smaller magazines so the per-CPU hot stash doesn't dominate total
// memory.
func Tune(objSize int64) (capacity, batchCount int) {
	switch {
	case objSize > 131072:
		return 1, 1
	case objSize > 4096:
		return 8, 4
	case objSize > 1024:
		return 24, 12
	case objSize > 256:
		return 54, 27
	default:
		return 120, 60
	}
}

func (m *Magazine) Capacity() int  { return m.capacity }
func (m *Magazine) Available() int { return m.available }
func (m *Magazine) Empty() bool    { return m.available == 0 }
func (m *Magazine) Full() bool     { return m.available == m.capacity }

// Push places obj on top. Caller must have checked Available() < Capacity().
func (m *Magazine) Push(obj Obj) {
	m.entries[m.available] = obj
	m.available++
}

// Pop removes and returns the top object. Caller must have checked
// Available() > 0.
func (m *Magazine) Pop() Obj {
	m.available--
	obj := m.entries[m.available]
	m.entries[m.available] = nil
	m.Touched.Store(true)
	return obj
}

// PopBottom removes and returns the object at the *bottom* of the
// stack, shifting the remaining entries down. The free path's flush
// drains BatchCount objects from the bottom so the most recently freed
// (hottest) objects stay in the magazine.
func (m *Magazine) PopBottom() Obj {
	obj := m.entries[0]
	copy(m.entries, m.entries[1:m.available])
	m.available--
	m.entries[m.available] = nil
	return obj
}

// Transfer moves min(src.Available, max, dst.Capacity-dst.Available)
// pointers from the top of src to the top of dst. Returns the count
// moved.
func Transfer(dst, src *Magazine, max int) int {
	n := src.available
	if max < n {
		n = max
	}
	if room := dst.capacity - dst.available; room < n {
		n = room
	}
	if n <= 0 {
		return 0
	}
	copy(dst.entries[dst.available:dst.available+n], src.entries[src.available-n:src.available])
	for i := src.available - n; i < src.available; i++ {
		src.entries[i] = nil
	}
	src.available -= n
	dst.available += n
	dst.Touched.Store(true)
	return n
}
