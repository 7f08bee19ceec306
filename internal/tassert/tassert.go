// Package tassert provides the small test-assertion helpers used across
// this module's _test.go files.
package tassert

import "testing"

// Errorf calls t.Errorf with the given message if cond is false,
// continuing the test (non-fatal).
func Errorf(t *testing.T, cond bool, format string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Errorf(format, args...)
	}
}

// Fatalf calls t.Fatalf with the given message if cond is false,
// aborting the test immediately.
func Fatalf(t *testing.T, cond bool, format string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// CheckFatal calls t.Fatal(err) if err is non-nil.
func CheckFatal(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
