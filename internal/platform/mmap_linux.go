//go:build linux

package platform

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tieredvm/corejit/internal/features"
)

var compilerSupported = func() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64", "riscv64":
		return true
	default:
		return false
	}
}()

// mapped tracks the address and size of every segment currently on loan
// from this package (writable or executable), so MunmapCodeSegment can
// reject a slice that was never mapped here, or mapped once and already
// released, instead of handing an unmap syscall an address the kernel
// may silently accept even though this process no longer owns it.
var (
	mappedMu sync.Mutex
	mapped   = map[uintptr]int{}
)

// MapWritable allocates size bytes of anonymous, zero-filled, read-write
// memory. internal/codecache's Pool uses this directly when it has no
// released block of a matching size class to recycle; MmapCodeSegment
// below is built on top of it for the common one-shot case.
func MapWritable(size int) ([]byte, error) {
	requireNonZero("MapWritable", size)

	baseFlags := unix.MAP_PRIVATE | unix.MAP_ANON
	flags := baseFlags
	if features.Have("hugepages") {
		if cfg, ok := bestHugePageConfig(size); ok {
			flags = baseFlags | cfg.flag
		}
	}

	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil && flags != baseFlags {
		// Huge page reservations are exhaustible independently of ordinary
		// memory pressure; fall back to a regular mapping rather than fail
		// a compile over it.
		b, err = unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, baseFlags)
	}
	if err != nil {
		return nil, fmt.Errorf("platform: mmap of %d bytes failed: %w", size, err)
	}

	mappedMu.Lock()
	mapped[addrOf(b)] = len(b)
	mappedMu.Unlock()
	return b, nil
}

// MakeExecutable switches a writable mapping to read-execute, once its
// caller has finished writing code into it.
func MakeExecutable(mem []byte) error {
	requireNonZero("MakeExecutable", len(mem))
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("platform: mprotect to r-x failed: %w", err)
	}
	return nil
}

// MakeInaccessible switches a mapping to no access at all (PROT_NONE),
// for internal/codecache's Pool guard pages: a function that runs off
// its own end faults immediately instead of silently executing into, or
// corrupting, whatever follows it.
func MakeInaccessible(mem []byte) error {
	requireNonZero("MakeInaccessible", len(mem))
	if err := unix.Mprotect(mem, unix.PROT_NONE); err != nil {
		return fmt.Errorf("platform: mprotect to prot-none failed: %w", err)
	}
	return nil
}

// ReprotectWritable switches a read-execute mapping back to read-write,
// so internal/codecache's Pool can recycle a released block for a new
// artifact instead of paying for a fresh mmap/munmap round trip.
//
// The caller must guarantee nothing is still executing out of mem: the
// tier controller only recycles a block after every thread has passed a
// safepoint since the block's artifact was unpublished (spec.md §8
// invariant 8).
func ReprotectWritable(mem []byte) error {
	requireNonZero("ReprotectWritable", len(mem))
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("platform: mprotect to rw failed: %w", err)
	}
	return nil
}

// MmapCodeSegment maps size bytes of executable memory, fills it with
// the bytes read from r, and switches it from writable to executable.
func MmapCodeSegment(r io.Reader, size int) ([]byte, error) {
	requireNonZero("MmapCodeSegment", size)

	b, err := MapWritable(size)
	if err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(r, b); err != nil {
		_ = MunmapCodeSegment(b)
		return nil, fmt.Errorf("platform: reading %d bytes into mapped code segment: %w", size, err)
	}

	if err := MakeExecutable(b); err != nil {
		_ = MunmapCodeSegment(b)
		return nil, err
	}
	return b, nil
}

// MunmapCodeSegment releases a segment returned by MapWritable or
// MmapCodeSegment. Calling it on a slice that was never mapped, or
// mapped and already unmapped, is an error.
func MunmapCodeSegment(code []byte) error {
	requireNonZero("MunmapCodeSegment", len(code))

	addr := addrOf(code)
	mappedMu.Lock()
	size, ok := mapped[addr]
	if ok {
		delete(mapped, addr)
	}
	mappedMu.Unlock()

	if !ok || size != len(code) {
		return fmt.Errorf("platform: %#x is not a currently mapped code segment", addr)
	}
	return unix.Munmap(code)
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
