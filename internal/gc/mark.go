package gc

import (
	"runtime"
	"sync"
)

// markRoots gathers every cell directly reachable from outside the
// generations in scope: the heap's registered root set, plus -- per
// spec.md §8 invariant 6 -- every cell the remembered set records an
// edge into from a generation NOT in scope (an older generation holding
// a reference down into the generations this cycle collects).
func (h *Heap) markRoots(scope map[Generation]bool) []Cell {
	h.rootsMu.Lock()
	roots := make([]Cell, 0, len(h.roots))
	for _, slot := range h.roots {
		if *slot != nil {
			roots = append(roots, *slot)
		}
	}
	h.rootsMu.Unlock()

	for g, inScope := range scope {
		if !inScope {
			continue
		}
		for _, c := range h.spaces[g].snapshot() {
			for _, from := range h.remembered.ReferencesTo(c) {
				if !scope[from.GCHeader().generation] {
					roots = append(roots, c)
					break
				}
			}
		}
	}
	if scope[LargeObject] {
		for _, c := range h.large.snapshot() {
			for _, from := range h.remembered.ReferencesTo(c) {
				if !scope[from.GCHeader().generation] {
					roots = append(roots, c)
					break
				}
			}
		}
	}
	return roots
}

// markParallel traces every cell reachable from roots, distributing work
// over h.pool.n worker goroutines via per-worker work-stealing deques
// (spec.md §4.5, §5: "an unsuccessful pop must attempt steals from peers
// before declaring the phase done").
//
// Termination uses a sync.WaitGroup as an outstanding-work counter: one
// count per cell pushed (roots included), released once that cell's
// trace has enqueued all of its own children. Because a cell's release
// always happens after every child it pushes has already incremented the
// counter, the count can only reach zero once the entire reachable graph
// has been discovered and processed -- this is simpler, and provably
// race-free, compared to a shared idle/active tally that has to agree
// across every worker's deque state at once.
func (h *Heap) markParallel(roots []Cell) {
	n := h.pool.n
	if n < 1 {
		n = 1
	}
	deques := make([]*workDeque, n)
	for i := range deques {
		deques[i] = newWorkDeque()
	}

	var wg sync.WaitGroup
	for i, c := range roots {
		if c.GCHeader().tryMark() {
			wg.Add(1)
			deques[i%n].push(c)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var workers sync.WaitGroup
	for i := 0; i < n; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			h.markWorker(id, deques, &wg, done)
		}(i)
	}
	workers.Wait()
}

func (h *Heap) markWorker(id int, deques []*workDeque, wg *sync.WaitGroup, done <-chan struct{}) {
	own := deques[id]
	for {
		c, ok := own.pop()
		if !ok {
			c, ok = h.stealFrom(id, deques)
		}
		if !ok {
			select {
			case <-done:
				return
			default:
				runtime.Gosched()
				continue
			}
		}
		h.traceCell(c, id, deques, wg)
		wg.Done()
	}
}

func (h *Heap) stealFrom(id int, deques []*workDeque) (Cell, bool) {
	n := len(deques)
	for off := 1; off < n; off++ {
		victim := deques[(id+off)%n]
		if c, ok := victim.steal(); ok {
			return c, true
		}
	}
	return nil, false
}

// traceCell visits c's outgoing references, marking each White child Gray
// and pushing it onto a deque chosen round-robin from id (rather than
// always onto the owner's, to keep the pool balanced from the start
// instead of relying entirely on stealing), then blackens c.
func (h *Heap) traceCell(c Cell, id int, deques []*workDeque, wg *sync.WaitGroup) {
	i := 0
	c.TraceRefs(func(child Cell) {
		if child == nil {
			return
		}
		if child.GCHeader().tryMark() {
			wg.Add(1)
			deques[(id+i)%len(deques)].push(child)
			i++
		}
	})
	c.GCHeader().setColor(Black)
}
