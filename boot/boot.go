// Package boot implements the bootstrap state machine: the phased
// initialization that breaks the "caches need caches to exist" cycle.
// NONE -> PARTIAL_MAG -> PARTIAL_LIST -> FULL, monotonic forward
// transitions only.
//
// Go's own allocator does not have this problem (new(T) works before
// any user-level cache exists), so nothing here is load-bearing for
// memory safety. It exists as an explicit, inspectable state machine
// because the rest of the module keys off it: no off-slab layout is
// planned, and no general size class is consulted, before the machine
// reads FULL.
package boot

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/arvandehghani/slabcache/cmn"
)

type Phase int

const (
	None Phase = iota
	PartialMag
	PartialList
	Full
)

func (p Phase) String() string {
	switch p {
	case None:
		return "none"
	case PartialMag:
		return "partial_mag"
	case PartialList:
		return "partial_list"
	case Full:
		return "full"
	default:
		return "invalid"
	}
}

// Manager owns the bootstrap state machine for one allocator universe.
// A process normally has exactly one, reached through Default().
type Manager struct {
	mu    sync.RWMutex
	phase Phase
	sf    singleflight.Group // collapses concurrent first-touch races onto one run
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the process-wide bootstrap manager, constructing it
// (but not running it) on first call.
func Default() *Manager {
	defaultOnce.Do(func() { defaultMgr = &Manager{} })
	return defaultMgr
}

// Phase returns the current bootstrap phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// IsFull reports whether off-slab layouts and unrestricted dynamic
// allocation are permitted.
func (m *Manager) IsFull() bool { return m.Phase() == Full }

// advance performs a monotonic forward transition, refusing to go
// backwards.
func (m *Manager) advance(to Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if to > m.phase {
		m.phase = to
	}
}

// Ensure runs the bootstrap sequence exactly once across any number of
// concurrent callers, via singleflight. stepMag and stepList create the
// two general size-class caches for magazine and NodeLists metadata;
// stepRest creates the remaining general caches. Ensure only sequences
// the phase transitions around them: each completed step advances one
// phase, and only after stepRest does the machine read Full.
func (m *Manager) Ensure(stepMag, stepList, stepRest func() error) error {
	_, err, _ := m.sf.Do("bootstrap", func() (interface{}, error) {
		if m.Phase() >= Full {
			return nil, nil
		}
		if err := stepMag(); err != nil {
			return nil, err
		}
		m.advance(PartialMag)
		if err := stepList(); err != nil {
			return nil, err
		}
		m.advance(PartialList)
		if err := stepRest(); err != nil {
			return nil, err
		}
		m.advance(Full)
		return nil, nil
	})
	return err
}

// RequireDynamicAllowed asserts that the machine has moved past None:
// using a feature gated behind a later phase before that phase is
// reached is a fatal programming error, not a recoverable input error.
func (m *Manager) RequireDynamicAllowed(what string) {
	cmn.Assertf(m.Phase() > None, "%s requires bootstrap phase beyond none", what)
}
