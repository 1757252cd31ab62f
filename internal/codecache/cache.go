package codecache

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tieredvm/corejit/internal/backend/common"
)

// Artifact is one compiled function's published native code: the bytes
// a backend's EmitFunction produced, now living in executable memory,
// its Metadata, and the generation it was published under.
//
// Generation lets internal/tier tell a stale artifact apart from the
// current one without a lock: a safepoint check compares the generation
// it captured on entry against Cache.Generation(id) and takes the slow,
// deoptimizing path on a mismatch (spec.md §4.2, §8 invariant 7).
type Artifact struct {
	Code       []byte
	Metadata   *common.Metadata
	Generation uint64
}

// Entry is a function's stable slot in the cache. Its Artifact pointer
// is swapped every time a higher tier recompiles the function or a
// deoptimization invalidates it; Load is lock-free so internal/tier's
// hot dispatch path (called on every invocation) never contends with a
// compile happening on another goroutine.
type Entry struct {
	id       uint64
	artifact atomic.Pointer[Artifact]
}

// ID returns the function identifier this entry belongs to.
func (e *Entry) ID() uint64 { return e.id }

// Load returns the function's currently published artifact, or nil if
// it has never been compiled above tier 0 or was deoptimized back to it.
func (e *Entry) Load() *Artifact { return e.artifact.Load() }

type addrEntry struct {
	addr  uintptr
	entry *Entry
}

// Cache owns every published Entry and the address-ordered index used
// to resolve a bare instruction pointer back to the function owning it
// (needed at a safepoint to look up the Metadata describing how to read
// a native frame, spec.md §3.6/§8 invariant 8).
//
// Grounded on internal/engine/wazevo/engine.go's compiledModules map
// plus its address-sorted sortedCompiledModules slice, both guarded by
// one mux; the per-Entry atomic.Pointer swap on top of that is this
// engine's own addition; spec.md §4.2's tiering makes Load far hotter
// relative to Publish than the teacher's "resolve once per module
// instantiation" access pattern ever sees, so the hot path bypasses mux
// entirely instead of taking a read lock on every call.
type Cache struct {
	mu      sync.RWMutex
	entries map[uint64]*Entry
	sorted  []addrEntry
	nextGen uint64
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[uint64]*Entry)}
}

// Entry returns id's Entry, creating an empty one (Load returning nil)
// the first time id is seen.
func (c *Cache) Entry(id uint64) *Entry {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e
	}
	e = &Entry{id: id}
	c.entries[id] = e
	return e
}

// Generation reports id's currently published artifact's generation, or
// 0 if it has none. A safepoint check compares this against the
// generation it captured when entering the function.
func (c *Cache) Generation(id uint64) uint64 {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	if art := e.Load(); art != nil {
		return art.Generation
	}
	return 0
}

// Publish installs code (already living in executable memory, typically
// from a Pool.Allocate'd block) as id's new artifact, returning it along
// with the artifact it superseded, if any. The caller owns releasing the
// superseded artifact's memory (via Pool.Release) once every thread has
// passed a safepoint since it stopped being published -- Publish itself
// never unmaps anything, since code from it may still be executing on
// another goroutine's stack at the moment this call returns.
func (c *Cache) Publish(id uint64, code []byte, meta *common.Metadata) (current, superseded *Artifact) {
	e := c.Entry(id)
	old := e.Load()

	c.mu.Lock()
	c.nextGen++
	gen := c.nextGen
	if old != nil {
		c.removeSorted(addrOf(old.Code))
	}
	c.insertSorted(addrOf(code), e)
	c.mu.Unlock()

	art := &Artifact{Code: code, Metadata: meta, Generation: gen}
	e.artifact.Store(art)
	return art, old
}

// Invalidate clears id's published artifact, as a deoptimization does:
// subsequent calls see Load return nil and fall back to a lower tier
// until recompiled. Returns the cleared artifact so the caller can
// release its memory once safe to do so, or (nil, false) if id had no
// published artifact.
func (c *Cache) Invalidate(id uint64) (*Artifact, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	old := e.artifact.Swap(nil)
	if old == nil {
		return nil, false
	}

	c.mu.Lock()
	c.removeSorted(addrOf(old.Code))
	c.mu.Unlock()
	return old, true
}

// Lookup resolves pc, an instruction address somewhere inside a
// currently published artifact's code, back to the Entry owning it.
// Returns nil if pc isn't inside any published artifact -- either it
// belongs to the tier 0 interpreter, or the artifact that once owned it
// has since been invalidated.
func (c *Cache) Lookup(pc uintptr) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := sort.Search(len(c.sorted), func(i int) bool { return c.sorted[i].addr > pc })
	i--
	if i < 0 {
		return nil
	}
	candidate := c.sorted[i]
	art := candidate.entry.Load()
	if art == nil {
		return nil
	}
	if base := candidate.addr; pc >= base && pc < base+uintptr(len(art.Code)) {
		return candidate.entry
	}
	return nil
}

func (c *Cache) insertSorted(addr uintptr, e *Entry) {
	i := sort.Search(len(c.sorted), func(i int) bool { return c.sorted[i].addr >= addr })
	c.sorted = append(c.sorted, addrEntry{})
	copy(c.sorted[i+1:], c.sorted[i:])
	c.sorted[i] = addrEntry{addr: addr, entry: e}
}

func (c *Cache) removeSorted(addr uintptr) {
	i := sort.Search(len(c.sorted), func(i int) bool { return c.sorted[i].addr >= addr })
	if i < len(c.sorted) && c.sorted[i].addr == addr {
		copy(c.sorted[i:], c.sorted[i+1:])
		c.sorted = c.sorted[:len(c.sorted)-1]
	}
}
