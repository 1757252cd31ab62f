// Package platform isolates the OS-specific primitives the rest of the
// engine needs: mapping native code produced by internal/backend into
// executable memory, and detecting whether the host can run a native
// backend at all.
package platform

import "errors"

// CompilerSupported reports whether this GOOS/GOARCH combination can map
// and execute the native code internal/backend produces. internal/tier
// does not call it (tier.Select picks a backend from GOARCH alone); the
// tests that map native code call it to skip themselves where it is false.
func CompilerSupported() bool {
	return compilerSupported
}

var errUnsupportedPlatform = errors.New("platform: native code execution is not supported on this GOOS/GOARCH")

// requireNonZero guards against mapping or unmapping an empty segment,
// which is always a caller bug (internal/codecache never hands out a
// zero-length artifact) rather than a runtime condition to recover from.
func requireNonZero(op string, n int) {
	if n == 0 {
		panic("BUG: " + op + " with zero length")
	}
}
