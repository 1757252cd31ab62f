//go:build !linux

package platform

import "io"

var compilerSupported = false

// MapWritable always fails on platforms other than linux; see
// MmapCodeSegment.
func MapWritable(size int) ([]byte, error) {
	requireNonZero("MapWritable", size)
	return nil, errUnsupportedPlatform
}

// MakeExecutable always fails; see MmapCodeSegment.
func MakeExecutable(mem []byte) error {
	requireNonZero("MakeExecutable", len(mem))
	return errUnsupportedPlatform
}

// MakeInaccessible always fails; see MmapCodeSegment.
func MakeInaccessible(mem []byte) error {
	requireNonZero("MakeInaccessible", len(mem))
	return errUnsupportedPlatform
}

// ReprotectWritable always fails; see MmapCodeSegment.
func ReprotectWritable(mem []byte) error {
	requireNonZero("ReprotectWritable", len(mem))
	return errUnsupportedPlatform
}

// MmapCodeSegment always fails on platforms other than linux: none of
// internal/backend's three targets (amd64, arm64, riscv) have an
// executable-memory path implemented for them yet.
func MmapCodeSegment(r io.Reader, size int) ([]byte, error) {
	requireNonZero("MmapCodeSegment", size)
	return nil, errUnsupportedPlatform
}

// MunmapCodeSegment always fails; see MmapCodeSegment.
func MunmapCodeSegment(code []byte) error {
	requireNonZero("MunmapCodeSegment", len(code))
	return errUnsupportedPlatform
}
