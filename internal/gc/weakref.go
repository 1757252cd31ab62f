package gc

// CreateWeakRef returns a new WeakRef pointing at target. Every WeakRef
// issued by this heap is tracked in h.weaks so a collection can clear the
// ones whose target didn't survive (spec.md §9's optional C10 extension:
// "any semantics beyond cleared on collection of target is left to the
// embedder").
func (h *Heap) CreateWeakRef(target Cell) *WeakRef {
	w := &WeakRef{}
	w.target.Store(&cellBox{c: target})

	h.weakMu.Lock()
	h.weaks = append(h.weaks, w)
	h.weakMu.Unlock()
	return w
}

// ReleaseWeakRef drops w from the table; it no longer needs scanning on
// future collections.
func (h *Heap) ReleaseWeakRef(w *WeakRef) {
	h.weakMu.Lock()
	defer h.weakMu.Unlock()
	for i, r := range h.weaks {
		if r == w {
			h.weaks = append(h.weaks[:i], h.weaks[i+1:]...)
			return
		}
	}
}

// scrubWeakRefs clears every weak ref whose current target is in dead,
// called once per collection after sweep has determined which cells
// didn't survive.
func (h *Heap) scrubWeakRefs(dead map[Cell]bool) {
	if len(dead) == 0 {
		return
	}
	h.weakMu.Lock()
	defer h.weakMu.Unlock()
	for _, w := range h.weaks {
		if t := w.Target(); t != nil && dead[t] {
			w.clear()
		}
	}
}
