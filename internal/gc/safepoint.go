package gc

import "sync"

// AddRoot registers slot as a GC root: *slot is rescanned at the start of
// every collection for as long as slot remains registered (spec.md §5's
// "global root set ... guarded by a lock taken only outside safepoints or
// by workers under world-stop"). Callers are the embedding surface
// (global variables) and the interpreter/JIT frame walker (on-stack
// values), matching RememberSet's friend-class access pattern in the
// original by exposing this only to other internal packages via the
// exported-but-internal-module convention.
func (h *Heap) AddRoot(slot *Cell) {
	h.rootsMu.Lock()
	h.roots = append(h.roots, slot)
	h.rootsMu.Unlock()
}

// RemoveRoot unregisters a root added by AddRoot.
func (h *Heap) RemoveRoot(slot *Cell) {
	h.rootsMu.Lock()
	defer h.rootsMu.Unlock()
	for i, s := range h.roots {
		if s == slot {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// safepointBarrier is the world-stop gate spec.md §5 describes: callers
// register with Enter before touching the mutator's observable state and
// call Leave when done; a collection calls StopTheWorld to block until
// every entered mutator has called Leave (and further Enter calls block
// until the collection resumes the world), then ResumeTheWorld to let
// them proceed. A realm with no concurrently-running mutator threads
// (this core's default: JS is single-threaded per realm, spec.md §5)
// only ever has zero or one entrant, making this a simple suspend/resume
// pair rather than the bookkeeping a multi-mutator realm would need.
type safepointBarrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	stopped bool
	inside  int
}

func newSafepointBarrier() *safepointBarrier {
	b := &safepointBarrier{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Enter blocks while a collection holds the world stopped, then marks
// the caller as inside a safepoint-free region.
func (b *safepointBarrier) Enter() {
	b.mu.Lock()
	for b.stopped {
		b.cond.Wait()
	}
	b.inside++
	b.mu.Unlock()
}

// Leave marks the caller as having reached a safepoint (back-edge,
// function entry, call, or allocation, per spec.md §5).
func (b *safepointBarrier) Leave() {
	b.mu.Lock()
	b.inside--
	if b.inside == 0 {
		b.cond.Broadcast()
	}
	b.mu.Unlock()
}

// StopTheWorld blocks until every mutator currently between Enter/Leave
// has called Leave, then holds the world stopped for new Enter callers
// until ResumeTheWorld.
func (b *safepointBarrier) StopTheWorld() {
	b.mu.Lock()
	b.stopped = true
	for b.inside > 0 {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// ResumeTheWorld releases mutators blocked in Enter.
func (b *safepointBarrier) ResumeTheWorld() {
	b.mu.Lock()
	b.stopped = false
	b.cond.Broadcast()
	b.mu.Unlock()
}

// withSafepoint stops the world, runs fn (root scanning and, for a
// non-concurrent configuration, marking itself), invokes the registered
// onSafepoint hook (internal/tier's deferred code-artifact release), then
// resumes the world.
func (h *Heap) withSafepoint(fn func()) {
	h.barrier.StopTheWorld()
	defer h.barrier.ResumeTheWorld()

	fn()
	if h.onSafepoint != nil {
		h.onSafepoint()
	}
}

// ResumeMutator and ReachSafepoint bracket one safepoint-free execution
// segment, per spec.md §5: "between safepoints the mutator is
// uninterruptible". The interpreter/JIT calls ResumeMutator right after
// each safepoint check (function entry, a hot loop's back-edge, a call, an
// allocation) and ReachSafepoint right before the next one; a collection
// in progress holds any ResumeMutator call until it finishes.
func (h *Heap) ResumeMutator()  { h.barrier.Enter() }
func (h *Heap) ReachSafepoint() { h.barrier.Leave() }
