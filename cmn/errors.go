// Package cmn provides the small set of low-level types, error taxonomy,
// and alignment/size helpers shared by every package in this module.
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy. Each sentinel is wrapped with call-site context via
// errors.Wrapf rather than returned bare, so a caller can both
// errors.Is(err, cmn.ErrOutOfMemory) and read a human diagnostic.
var (
	// ErrOutOfMemory: the PageSource came up empty while growing a
	// cache. The hot path never retries after this; growth retries the
	// refill once per grow and then surfaces this to the caller.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidArgument: cache creation with a zero/oversize object or
	// unknown flag bits, or an allocation request naming a node that
	// doesn't exist.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCacheNotEmpty: Destroy was called while a caller still holds
	// at least one object.
	ErrCacheNotEmpty = errors.New("cache not empty")

	// ErrBootstrapViolation: an attempt to use an off-slab layout, or to
	// dynamically allocate, before the bootstrap state machine (see
	// package boot) has reached the required phase. This is a
	// programming error, not an input error, and is fatal.
	ErrBootstrapViolation = errors.New("bootstrap violation")

	// ErrCorruptionDetected: a freelist loop, double-free, or redzone
	// mismatch was observed. Fatal: the caller is expected to log the
	// diagnostic and terminate, not to recover and continue.
	ErrCorruptionDetected = errors.New("corruption detected")
)

// WrapOOM wraps ErrOutOfMemory with the requesting cache and page
// order for diagnostics.
func WrapOOM(cache string, order uint) error {
	return errors.Wrapf(ErrOutOfMemory, "cache %q: pageSource exhausted at order %d", cache, order)
}

// WrapInvalidArg wraps ErrInvalidArgument with a formatted reason.
func WrapInvalidArg(format string, args ...interface{}) error {
	return errors.Wrap(ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// WrapNotEmpty wraps ErrCacheNotEmpty with the offending cache name and
// outstanding slab counts.
func WrapNotEmpty(cache string, partial, full int) error {
	return errors.Wrapf(ErrCacheNotEmpty, "cache %q: %d partial, %d full slab(s) outstanding", cache, partial, full)
}
