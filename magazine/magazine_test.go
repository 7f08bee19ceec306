package magazine

import (
	"testing"
	"unsafe"

	"github.com/arvandehghani/slabcache/internal/tassert"
)

func ptrs(n int) []Obj {
	out := make([]Obj, n)
	for i := range out {
		v := new(int)
		*v = i
		out[i] = Obj(unsafe.Pointer(v))
	}
	return out
}

func TestPushPopLIFO(t *testing.T) {
	m := New(4, 2)
	objs := ptrs(3)
	for _, o := range objs {
		m.Push(o)
	}
	tassert.Errorf(t, m.Available() == 3, "want available 3, got %d", m.Available())
	for i := len(objs) - 1; i >= 0; i-- {
		got := m.Pop()
		tassert.Fatalf(t, got == objs[i], "want LIFO pop order")
	}
	tassert.Errorf(t, m.Empty(), "want empty after popping everything pushed")
}

func TestPopBottomDrainsFIFOOrder(t *testing.T) {
	m := New(4, 4)
	objs := ptrs(4)
	for _, o := range objs {
		m.Push(o)
	}
	for i := 0; i < 4; i++ {
		got := m.PopBottom()
		tassert.Fatalf(t, got == objs[i], "PopBottom #%d: want %v, got %v", i, objs[i], got)
	}
	tassert.Errorf(t, m.Empty(), "want empty after draining via PopBottom")
}

func TestFullCapacity(t *testing.T) {
	m := New(2, 1)
	m.Push(ptrs(1)[0])
	tassert.Errorf(t, !m.Full(), "want not full with 1/2")
	m.Push(ptrs(1)[0])
	tassert.Errorf(t, m.Full(), "want full with 2/2")
}

// TestTransferMovesAtMostLimits: a transfer moves at most max, at most
// src's availability, and at most dst's remaining room.
func TestTransferMovesAtMostLimits(t *testing.T) {
	src := New(8, 4)
	for _, o := range ptrs(6) {
		src.Push(o)
	}
	dst := New(8, 4)
	for _, o := range ptrs(5) {
		dst.Push(o)
	}
	n := Transfer(dst, src, 4)
	tassert.Errorf(t, n == 3, "dst has room for 3 (8-5), want moved 3, got %d", n)
	tassert.Errorf(t, dst.Available() == 8, "want dst full at 8, got %d", dst.Available())
	tassert.Errorf(t, src.Available() == 3, "want src left with 3, got %d", src.Available())
}

func TestTune(t *testing.T) {
	cap1, batch1 := Tune(16)
	tassert.Errorf(t, cap1 > batch1, "capacity must exceed batch count: cap=%d batch=%d", cap1, batch1)

	capBig, batchBig := Tune(200000)
	tassert.Errorf(t, capBig <= cap1, "larger objects must not get bigger magazines: small=%d big=%d", cap1, capBig)
	tassert.Errorf(t, batchBig >= 1, "batch count must stay >= 1")
}

// TestNoObjectDuplicatedAcrossPushPop: within one magazine, popping
// never yields an object still logically present.
func TestNoObjectDuplicatedAcrossPushPop(t *testing.T) {
	m := New(4, 4)
	objs := ptrs(4)
	for _, o := range objs {
		m.Push(o)
	}
	seen := make(map[Obj]bool)
	for !m.Empty() {
		o := m.Pop()
		tassert.Fatalf(t, !seen[o], "object %v popped twice", o)
		seen[o] = true
	}
	tassert.Errorf(t, len(seen) == 4, "want 4 distinct objects popped, got %d", len(seen))
}
