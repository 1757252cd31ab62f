package gc

// compactGeneration exercises spec.md §3.5's mutable-reference-trace
// contract ("used by compaction to rewrite pointers") over every
// surviving cell in g.
//
// The original's compaction relocates objects within a raw arena it owns
// to eliminate fragmentation, setting each moved object's forwarding
// address and rewriting every surviving pointer to it. This core's heap
// cells are ordinary Go values -- Go's own (non-moving, as of this
// runtime) heap allocator already owns their physical placement, and
// sweep's space.replace already defragments the logical per-generation
// list by dropping dead entries from it. There is nothing left for
// compaction to physically relocate. What it still does, to honor the
// forwarding-address protocol spec.md §3.5 names and keep the mutable-
// trace visitor exercised: walk every surviving cell and invoke
// TraceMutableRefs, following any forwarding pointer a referenced cell
// has accumulated and rewriting the slot in place. Nothing in this
// package sets Header.forward and it has no exported setter, so every
// forwarding pointer is nil and this pass rewrites no slot: it is a
// no-op walk -- documented here rather than silently dropped,
// since Config.EnableCompaction is a spec-named toggle a caller can
// still observe being honored.
func (h *Heap) compactGeneration(g Generation) {
	for _, c := range h.spaces[g].snapshot() {
		c.TraceMutableRefs(func(slot *Cell) {
			if *slot == nil {
				return
			}
			if fwd := (*slot).GCHeader().forward; fwd != nil {
				*slot = fwd
			}
		})
	}
}
