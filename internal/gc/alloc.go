package gc

// Allocate places c into the nursery and initializes its Header, whatever
// its size; it does not route by Config.LargeObjectThreshold (callers use
// AllocateLarge for that). size is the cell's logical byte footprint, used only for
// HeapSize/Stats accounting -- Go's own allocator, not this package, owns
// c's actual memory.
//
// A cell allocated while a collection is in progress is colored Black
// rather than White (the "allocate black" technique): concurrent marking
// only traces the object graph as it stood when the cycle's roots were
// scanned, so a brand-new object the mutator is still constructing has no
// recorded incoming edge a tracer could ever discover. Coloring it White
// would make this cycle's sweep free it out from under the mutator;
// coloring it Black treats it as already-proven-live, which is always a
// safe (if occasionally overcautious) approximation for a plain generational
// allocator that never lives to be retraced by this same cycle (spec.md §8
// invariant 5).
func (h *Heap) Allocate(c Cell, size uintptr) Cell {
	hdr := c.GCHeader()
	hdr.size = size
	if h.collecting.Load() {
		hdr.setColor(Black)
	} else {
		hdr.setColor(White)
	}
	h.spaces[Nursery].add(c)
	h.stats.allocated.Add(uint64(size))
	return c
}

// AllocateLarge places c in the dedicated large-object space, backing its
// payload with an anonymous mmap region sized to size. Callers must first
// confirm size qualifies via LargeObjectThreshold (Heap.Qualifies).
func (h *Heap) AllocateLarge(c Cell, size uint64) ([]byte, error) {
	mem, err := h.large.add(c, size)
	if err != nil {
		return nil, err
	}
	hdr := c.GCHeader()
	if h.collecting.Load() {
		hdr.setColor(Black)
	} else {
		hdr.setColor(White)
	}
	h.stats.allocated.Add(size)
	return mem, nil
}

// Qualifies reports whether size meets this heap's large-object threshold,
// letting a caller route between Allocate and AllocateLarge.
func (h *Heap) Qualifies(size uint64) bool { return h.large.qualifies(size) }
