// Package codecache owns the executable memory backing every compiled
// artifact (spec.md §4.5): a per-process pool that amortizes mmap calls
// across compiles, and a cache that publishes/invalidates a function's
// current artifact and resolves a bare instruction pointer back to the
// function that owns it.
package codecache

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/tieredvm/corejit/internal/platform"
)

// pageSize is the unit blocks are rounded up to. mprotect (and so
// ReprotectWritable/MakeExecutable) only operates on whole pages, so a
// block's capacity must always be a page multiple for recycling to be
// safe.
const pageSize = 4096

// Pool is the per-process code pool spec.md §4.5 calls for: blocks are
// page-rounded and, on release, kept on a size-classed free list instead
// of being munmap'd immediately, so a following compile of similar size
// reuses the mapping (one mprotect round trip) rather than paying for a
// fresh mmap/munmap pair. GuardPages, when enabled, appends one
// PROT_NONE page after every block so a function that runs off its own
// end faults immediately instead of silently executing into whatever
// followed it in the address space.
type Pool struct {
	GuardPages bool

	mu   sync.Mutex
	free map[int][][]byte // size class (in pages) -> available blocks, each len()==sizeClass*pageSize
	size map[uintptr]int  // base address of a block on loan -> its size class, for Release
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{free: make(map[int][][]byte), size: make(map[uintptr]int)}
}

func sizeClass(n int) int {
	return (n + pageSize - 1) / pageSize
}

// Allocate returns a writable block capable of holding at least n bytes,
// reusing a released block of the same size class when one is on the
// free list. The returned slice's length equals the size class's full
// page-rounded capacity, not n; callers write their code into the
// prefix and the tail stays zeroed padding.
func (p *Pool) Allocate(n int) ([]byte, error) {
	if n <= 0 {
		panic("BUG: Pool.Allocate with non-positive length")
	}
	class := sizeClass(n)
	if p.GuardPages {
		class++
	}
	capacity := class * pageSize

	p.mu.Lock()
	if blocks := p.free[class]; len(blocks) > 0 {
		block := blocks[len(blocks)-1]
		p.free[class] = blocks[:len(blocks)-1]
		p.size[addrOf(block)] = class
		p.mu.Unlock()

		if err := platform.ReprotectWritable(usable(block, p.GuardPages)); err != nil {
			return nil, fmt.Errorf("codecache: recycling a %d-page block: %w", class, err)
		}
		return usable(block, p.GuardPages), nil
	}
	p.mu.Unlock()

	block, err := platform.MapWritable(capacity)
	if err != nil {
		return nil, err
	}
	if p.GuardPages {
		// The guard page is sealed once, permanently inaccessible for the
		// life of this block: a function that runs off its own end faults
		// immediately instead of executing into whatever follows it.
		if err := platform.MakeInaccessible(block[capacity-pageSize:]); err != nil {
			_ = platform.MunmapCodeSegment(block)
			return nil, fmt.Errorf("codecache: sealing guard page: %w", err)
		}
	}

	p.mu.Lock()
	p.size[addrOf(block)] = class
	p.mu.Unlock()
	return usable(block, p.GuardPages), nil
}

// usable returns the portion of a pool block the caller is allowed to
// write code into: the whole block, minus its trailing guard page if
// the pool keeps one. The guard page itself is addressed by its own
// block-relative slice in Allocate/Release, never handed to a caller.
func usable(block []byte, guardPage bool) []byte {
	if !guardPage {
		return block
	}
	return block[:len(block)-pageSize]
}

// Release returns a published block to the free list for a future
// Allocate to recycle, instead of unmapping it immediately. The caller
// must guarantee nothing is still executing out of code: internal/tier
// only calls this once every thread has passed a safepoint since the
// block stopped being published (spec.md §8 invariant 8).
func (p *Pool) Release(code []byte) error {
	if len(code) == 0 {
		panic("BUG: Pool.Release with zero length")
	}
	addr := addrOf(code)

	p.mu.Lock()
	class, ok := p.size[addr]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("codecache: %#x is not a block on loan from this pool", addr)
	}

	block := full(code, class, p.GuardPages)
	if err := platform.ReprotectWritable(usable(block, p.GuardPages)); err != nil {
		return fmt.Errorf("codecache: reclaiming a %d-page block: %w", class, err)
	}

	p.mu.Lock()
	p.free[class] = append(p.free[class], block)
	p.mu.Unlock()
	return nil
}

// full recovers a block's original capacity-sized slice from the
// page-rounded usable prefix Allocate handed out, so Release can put the
// exact same backing array back on the free list. usable() only ever
// trims a suffix off the real mapping, so the capacity-sized slice
// shares the same base address as the prefix the caller holds.
func full(usableSlice []byte, class int, guardPage bool) []byte {
	capacity := class * pageSize
	return unsafe.Slice(&usableSlice[0], capacity)
}

// Drain unmaps every block currently sitting on the free list (not
// blocks still on loan), for tests and for a clean engine shutdown.
func (p *Pool) Drain() error {
	p.mu.Lock()
	free := p.free
	p.free = make(map[int][][]byte)
	p.mu.Unlock()

	for _, blocks := range free {
		for _, b := range blocks {
			if err := platform.MunmapCodeSegment(b); err != nil {
				return err
			}
		}
	}
	return nil
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
