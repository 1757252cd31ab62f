package gc

import (
	"sync"
	"sync/atomic"

	"github.com/tieredvm/corejit/internal/platform"
)

// space holds one small/medium/large generation's live cells. Mutator
// allocation (add) and GC read phases (snapshot) both take the RWMutex --
// grounded on the same RWMutex-guarded-collection shape internal/codecache
// and internal/profiler already use for a concurrently-read, rarely-
// restructured collection, applied here to a generation's cell list
// instead of a map.
type space struct {
	gen Generation

	mu    sync.RWMutex
	cells []Cell

	size atomic.Uint64
}

func newSpace(gen Generation) *space {
	return &space{gen: gen}
}

// add appends a freshly allocated cell to this generation.
func (s *space) add(c Cell) {
	h := c.GCHeader()
	h.generation = s.gen

	s.mu.Lock()
	s.cells = append(s.cells, c)
	s.mu.Unlock()

	s.size.Add(uint64(h.size))
}

// snapshot returns a copy of this generation's current cell list, safe to
// range over while other goroutines keep allocating (new cells simply
// won't be in the snapshot, matching concurrent mark's "objects allocated
// during this cycle survive to the next" convention).
func (s *space) snapshot() []Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cell, len(s.cells))
	copy(out, s.cells)
	return out
}

// replace installs survivors as this generation's complete cell list
// (used by sweep after partitioning live from dead) and recomputes the
// byte total from their headers.
func (s *space) replace(survivors []Cell) {
	var total uint64
	for _, c := range survivors {
		total += uint64(c.GCHeader().size)
	}

	s.mu.Lock()
	s.cells = survivors
	s.mu.Unlock()

	s.size.Store(total)
}

func (s *space) bytes() uint64 { return s.size.Load() }

func (s *space) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}

// largeSpace holds objects at or above Config.LargeObjectThreshold
// (spec.md §3.5): they live in a dedicated set and are never copied or
// promoted. Each object's payload is backed by its own anonymous mmap
// region (internal/platform.MapWritable, the same primitive
// internal/codecache's Pool uses for executable memory) rather than
// ordinary Go-heap-backed storage, since a large JS object (typically a
// big ArrayBuffer or typed array) benefits from the same page-granular
// allocate/release discipline code artifacts do.
type largeSpace struct {
	threshold uint64

	mu      sync.RWMutex
	backing map[Cell][]byte

	size atomic.Uint64
}

func newLargeSpace(threshold uint64) *largeSpace {
	return &largeSpace{threshold: threshold, backing: make(map[Cell][]byte)}
}

func (l *largeSpace) qualifies(size uint64) bool { return size >= l.threshold }

// add registers c as a large object and returns its backing store.
func (l *largeSpace) add(c Cell, size uint64) ([]byte, error) {
	mem, err := platform.MapWritable(int(size))
	if err != nil {
		return nil, err
	}

	h := c.GCHeader()
	h.generation = LargeObject
	h.size = uintptr(size)

	l.mu.Lock()
	l.backing[c] = mem
	l.mu.Unlock()

	l.size.Add(size)
	return mem, nil
}

func (l *largeSpace) snapshot() []Cell {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Cell, 0, len(l.backing))
	for c := range l.backing {
		out = append(out, c)
	}
	return out
}

// release unmaps dead large objects' backing stores, returning the bytes
// freed.
func (l *largeSpace) release(dead []Cell) uint64 {
	var freed uint64
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range dead {
		mem, ok := l.backing[c]
		if !ok {
			continue
		}
		freed += uint64(len(mem))
		_ = platform.MunmapCodeSegment(mem)
		delete(l.backing, c)
	}
	l.size.Add(-freed)
	return freed
}

func (l *largeSpace) bytes() uint64 { return l.size.Load() }
