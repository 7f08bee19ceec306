package nodelist

import (
	"testing"

	"github.com/arvandehghani/slabcache/internal/tassert"
	"github.com/arvandehghani/slabcache/magazine"
	"github.com/arvandehghani/slabcache/slab"
)

// TestNextColourCyclesThroughUnits: across colour_count+1 grown slabs
// on one node, observed offsets cycle through
// {0, unit, ..., (count-1)*unit} and repeat.
func TestNextColourCyclesThroughUnits(t *testing.T) {
	const colourCount = 3
	const unit = 64
	nl := New(0, 0, colourCount, 100)

	var got []uint
	for i := 0; i < colourCount+1; i++ {
		got = append(got, nl.NextColour(unit))
	}
	for i, c := range got[:colourCount] {
		want := uint(i) * unit
		tassert.Errorf(t, c == want, "colour #%d: want %d, got %d", i, want, c)
	}
	tassert.Errorf(t, got[colourCount] == got[0], "want cycle back to the first colour, got %d vs %d", got[colourCount], got[0])
}

func TestNextColourZeroCountAlwaysZero(t *testing.T) {
	nl := New(0, 0, 0, 100)
	for i := 0; i < 3; i++ {
		tassert.Errorf(t, nl.NextColour(64) == 0, "want colour 0 when colour_count is 0")
	}
}

func TestAlienNodesReportsLazilyCreatedSlots(t *testing.T) {
	nl := New(0, 0, 0, 100)
	tassert.Errorf(t, len(nl.AlienNodes()) == 0, "want no alien slots before first use")

	obj := magazine.Obj(new(int))
	nl.WithAlien(3, 4, 2, func(m *magazine.Magazine) bool {
		m.Push(obj)
		return true
	})

	nodes := nl.AlienNodes()
	tassert.Fatalf(t, len(nodes) == 1, "want exactly one alien slot, got %d", len(nodes))
	tassert.Errorf(t, nodes[0] == 3, "want alien slot for node 3, got %d", nodes[0])
}

func TestWithAlienReusesSameSlotAcrossCalls(t *testing.T) {
	nl := New(0, 0, 0, 100)
	nl.WithAlien(5, 4, 2, func(m *magazine.Magazine) bool {
		m.Push(magazine.Obj(new(int)))
		return true
	})
	var available int
	nl.WithAlien(5, 4, 2, func(m *magazine.Magazine) bool {
		available = m.Available()
		return true
	})
	tassert.Errorf(t, available == 1, "want the second WithAlien call to see the first call's push, got available=%d", available)
}

func TestAccountedFreeSumsFreeAndPartial(t *testing.T) {
	nl := New(0, 0, 0, 100)
	tassert.Errorf(t, AccountedFree(nl) == 0, "want 0 on an empty NodeLists")

	nl.Free.PushBack(&slab.Slab{Num: 4})
	nl.Partial.PushBack(&slab.Slab{Num: 4, InUse: 3})
	nl.Full.PushBack(&slab.Slab{Num: 4, InUse: 4})
	tassert.Errorf(t, AccountedFree(nl) == 5, "want 4 (free) + 1 (partial) = 5, got %d", AccountedFree(nl))
}
