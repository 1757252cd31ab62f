package gc

// scopeFor returns which generations a requested Kind of collection
// covers (spec.md §6 engine_request_gc: Minor/Major/Full).
func scopeFor(kind Kind) map[Generation]bool {
	scope := map[Generation]bool{Nursery: true, Young: true}
	if kind >= Major {
		scope[Medium] = true
	}
	if kind >= Full {
		scope[Old] = true
		scope[LargeObject] = true
	}
	return scope
}

// Collect runs one collection of the given kind. Only one collection
// runs at a time per heap; a concurrent caller's request is dropped
// (the next safepoint-triggered or explicit request will simply run a
// fresh cycle, per spec.md §7's "compilation/collection retry on its own
// schedule" treatment of non-correctness-critical background work).
func (h *Heap) Collect(kind Kind) {
	if !h.collecting.CompareAndSwap(false, true) {
		return
	}
	defer h.collecting.Store(false)

	scope := scopeFor(kind)

	var roots []Cell
	h.withSafepoint(func() {
		roots = h.markRoots(scope)
	})

	// Marking itself runs outside the world-stop window when configured
	// concurrent (spec.md §5: "concurrent marking ... run in parallel with
	// the mutator"); otherwise it runs inside one, a simplification this
	// core takes over a true incremental/concurrent marker's snapshot-at-
	// the-beginning plus write-barrier-driven rescan protocol.
	if h.cfg.EnableConcurrentMark {
		h.markParallel(roots)
	} else {
		h.withSafepoint(func() { h.markParallel(roots) })
	}

	order := []Generation{Old, Medium, Young, Nursery}
	var dead []Cell
	for _, g := range order {
		if !scope[g] {
			continue
		}
		d := h.sweepGeneration(g)
		dead = append(dead, d...)
		if h.cfg.EnableCompaction {
			h.compactGeneration(g)
		}
	}
	if scope[LargeObject] {
		dead = append(dead, h.sweepLarge()...)
	}
	h.scrubDead(dead)

	switch kind {
	case Minor:
		h.stats.minorGCs.Add(1)
	case Major:
		h.stats.majorGCs.Add(1)
	case Full:
		h.stats.fullGCs.Add(1)
	}
}
