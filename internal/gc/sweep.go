package gc

// sweepGeneration partitions g's live cells from its dead (still White)
// ones, ages and promotes survivors, and returns the cells that didn't
// survive so the caller can scrub them from the remembered set, card
// table, and weak-ref table.
func (h *Heap) sweepGeneration(g Generation) (dead []Cell) {
	cells := h.spaces[g].snapshot()
	survivors := make([]Cell, 0, len(cells))

	for _, c := range cells {
		hdr := c.GCHeader()
		if hdr.Color() == White {
			dead = append(dead, c)
			h.stats.freed.Add(1)
			h.stats.freedBytes.Add(uint64(hdr.size))
			continue
		}

		hdr.age++
		hdr.setColor(White)

		if g < Old && hdr.age >= h.cfg.PromotionAges[g] {
			h.promote(c, g)
			h.stats.promoted.Add(1)
			continue
		}
		survivors = append(survivors, c)
	}

	h.spaces[g].replace(survivors)
	return dead
}

func (h *Heap) promote(c Cell, from Generation) {
	hdr := c.GCHeader()
	hdr.age = 0
	h.spaces[from+1].add(c)
}

// sweepLarge partitions the large-object set the same way, minus aging
// and promotion: large objects never move (spec.md §3.5).
func (h *Heap) sweepLarge() (dead []Cell) {
	for _, c := range h.large.snapshot() {
		hdr := c.GCHeader()
		if hdr.Color() == White {
			dead = append(dead, c)
			continue
		}
		hdr.setColor(White)
	}
	freed := h.large.release(dead)
	h.stats.freed.Add(uint64(len(dead)))
	h.stats.freedBytes.Add(freed)
	return dead
}

// scrubDead removes every freed cell from the remembered set and card
// table (both of which would otherwise hold a live Go reference to a
// cell this collector just declared garbage) and clears weak refs
// pointing at them.
func (h *Heap) scrubDead(dead []Cell) {
	if len(dead) == 0 {
		return
	}
	deadSet := make(map[Cell]bool, len(dead))
	for _, c := range dead {
		deadSet[c] = true
		h.remembered.Forget(c)
		h.cards.Clear(c.GCHeader())
	}
	h.scrubWeakRefs(deadSet)
}
