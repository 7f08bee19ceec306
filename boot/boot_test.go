package boot

import (
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/arvandehghani/slabcache/internal/tassert"
)

func noop() error { return nil }

func TestEnsureRunsStepsOnceAndAdvancesToFull(t *testing.T) {
	m := &Manager{}
	var magRuns, listRuns, restRuns int
	err := m.Ensure(
		func() error { magRuns++; return nil },
		func() error { listRuns++; return nil },
		func() error { restRuns++; return nil },
	)
	tassert.Fatalf(t, err == nil, "Ensure failed: %v", err)
	tassert.Errorf(t, magRuns == 1, "want stepMag run once, got %d", magRuns)
	tassert.Errorf(t, listRuns == 1, "want stepList run once, got %d", listRuns)
	tassert.Errorf(t, restRuns == 1, "want stepRest run once, got %d", restRuns)
	tassert.Errorf(t, m.Phase() == Full, "want phase Full, got %v", m.Phase())
	tassert.Errorf(t, m.IsFull(), "want IsFull true")
}

func TestEnsureStopsAtIntermediatePhaseOnError(t *testing.T) {
	m := &Manager{}
	errStep := errors.New("list cache creation failed")
	err := m.Ensure(
		noop,
		func() error { return errStep },
		func() error { t.Error("stepRest must not run after stepList fails"); return nil },
	)
	tassert.Fatalf(t, err == errStep, "want the step's error surfaced, got %v", err)
	tassert.Errorf(t, m.Phase() == PartialMag, "want phase stuck at PartialMag after stepList failure, got %v", m.Phase())
	tassert.Errorf(t, !m.IsFull(), "want IsFull false after a failed bootstrap")
}

func TestEnsureCollapsesConcurrentCallers(t *testing.T) {
	m := &Manager{}
	var mu sync.Mutex
	var mc, lc int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Ensure(
				func() error { mu.Lock(); mc++; mu.Unlock(); return nil },
				func() error { mu.Lock(); lc++; mu.Unlock(); return nil },
				noop,
			)
			tassert.Errorf(t, err == nil, "Ensure failed: %v", err)
		}()
	}
	wg.Wait()
	tassert.Errorf(t, mc == 1, "want stepMag to run exactly once across 20 concurrent callers, got %d", mc)
	tassert.Errorf(t, lc == 1, "want stepList to run exactly once across 20 concurrent callers, got %d", lc)
	tassert.Errorf(t, m.Phase() == Full, "want phase Full, got %v", m.Phase())
}

func TestEnsureAlreadyFullIsNoOp(t *testing.T) {
	m := &Manager{}
	tassert.Fatalf(t, m.Ensure(noop, noop, noop) == nil, "first Ensure failed")

	var ranAgain bool
	err := m.Ensure(func() error { ranAgain = true; return nil }, noop, noop)
	tassert.Fatalf(t, err == nil, "second Ensure failed: %v", err)
	tassert.Errorf(t, !ranAgain, "want stepMag not to re-run once phase is already Full")
}

func TestPhaseStringsAndOrdering(t *testing.T) {
	tassert.Errorf(t, None < PartialMag, "want None < PartialMag")
	tassert.Errorf(t, PartialMag < PartialList, "want PartialMag < PartialList")
	tassert.Errorf(t, PartialList < Full, "want PartialList < Full")
	tassert.Errorf(t, None.String() == "none", "unexpected None.String(): %s", None.String())
	tassert.Errorf(t, Full.String() == "full", "unexpected Full.String(): %s", Full.String())
}
