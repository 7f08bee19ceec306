package cmn

import (
	"github.com/golang/glog"
)

// Enabled gates the extra Assert checks on the hot path (index range,
// double free, reciprocal obj_to_index cross-check in package slab).
// This module has no redzone or poison instrumentation for it to turn
// on. It is a runtime switch rather than a
// `-tags debug` compile-time flag, so the same binary can be flipped
// on in a test without a rebuild.
var Enabled = false

// Assert logs msg with CorruptionDetected context via glog.Fatalf, which
// terminates the process, when cond is false. Used for conditions the
// allocator cannot recover from: broken internal invariants (freelist
// loop, double-free) and frees of objects no slab of the cache owns.
func Assert(cond bool, msg string) {
	if !cond {
		glog.Fatalf("%v: %s", ErrCorruptionDetected, msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		glog.Fatalf("%v: "+format, append([]interface{}{ErrCorruptionDetected}, args...)...)
	}
}

// Infof logs at V(4), the verbosity reserved for slab carve/grow/reap
// tracing.
func Infof(format string, args ...interface{}) {
	if glog.V(4) {
		glog.Infof(format, args...)
	}
}

// Warningf always logs; used for rare, non-fatal conditions such as an
// off-slab cache duplicating a general size class.
func Warningf(format string, args ...interface{}) {
	glog.Warningf(format, args...)
}
