package gc

import "sync"

// CardTable tracks which older-generation cells have been written to
// since the table was last cleared (spec.md §3.5, §8 invariant 6).
//
// The original's CardTable indexes a flat byte array by address-over-
// card-size arithmetic, which assumes a contiguous arena it owns. Go
// heap cells have no such contiguous backing (each is an ordinary
// Go-runtime-managed allocation), so the card is keyed directly by the
// cell's Header pointer instead of a computed address range -- one card
// per object rather than one card per 512-byte region. This is coarser
// than the original (a card table this is, just degenerate granularity)
// but preserves the invariant it exists to support: a card is marked
// whenever its cell is written to, and the mark survives until cleared.
type CardTable struct {
	mu    sync.RWMutex
	dirty map[*Header]struct{}
}

func NewCardTable() *CardTable {
	return &CardTable{dirty: make(map[*Header]struct{})}
}

func (c *CardTable) Mark(h *Header) {
	c.mu.Lock()
	c.dirty[h] = struct{}{}
	c.mu.Unlock()
}

func (c *CardTable) IsMarked(h *Header) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.dirty[h]
	return ok
}

func (c *CardTable) Clear(h *Header) {
	c.mu.Lock()
	delete(c.dirty, h)
	c.mu.Unlock()
}

// ClearAll empties the table. Collections do not call it: a card is
// removed only when sweep frees its cell (Clear).
func (c *CardTable) ClearAll() {
	c.mu.Lock()
	c.dirty = make(map[*Header]struct{})
	c.mu.Unlock()
}

// RememberSet records cross-generation edges (A in an older generation,
// B in a younger one) so a minor collection can find roots into the
// nursery/young spaces without rescanning the whole older heap (spec.md
// §8 invariant 6). Grounded directly on RememberSet's m_fromToRefs/
// m_toFromRefs pair.
type RememberSet struct {
	mu     sync.Mutex
	fromTo map[Cell]map[Cell]struct{}
	toFrom map[Cell]map[Cell]struct{}
}

func NewRememberSet() *RememberSet {
	return &RememberSet{
		fromTo: make(map[Cell]map[Cell]struct{}),
		toFrom: make(map[Cell]map[Cell]struct{}),
	}
}

func (r *RememberSet) Add(from, to Cell) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fromTo[from] == nil {
		r.fromTo[from] = make(map[Cell]struct{})
	}
	r.fromTo[from][to] = struct{}{}
	if r.toFrom[to] == nil {
		r.toFrom[to] = make(map[Cell]struct{})
	}
	r.toFrom[to][from] = struct{}{}
}

func (r *RememberSet) Contains(from, to Cell) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.fromTo[from][to]
	return ok
}

// ReferencesTo returns every recorded source of an edge into target, used
// as additional minor-GC roots.
func (r *RememberSet) ReferencesTo(target Cell) []Cell {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Cell, 0, len(r.toFrom[target]))
	for c := range r.toFrom[target] {
		out = append(out, c)
	}
	return out
}

// Forget removes every edge touching c, in either direction. Sweep calls
// this for every cell it frees: c is a plain Go value stored as a map
// key/value throughout RememberSet, so leaving it referenced here would
// keep Go's own allocator from ever reclaiming it -- silently defeating
// this collector's decision that c is garbage.
func (r *RememberSet) Forget(c Cell) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for to := range r.fromTo[c] {
		delete(r.toFrom[to], c)
		if len(r.toFrom[to]) == 0 {
			delete(r.toFrom, to)
		}
	}
	delete(r.fromTo, c)
	for from := range r.toFrom[c] {
		delete(r.fromTo[from], c)
		if len(r.fromTo[from]) == 0 {
			delete(r.fromTo, from)
		}
	}
	delete(r.toFrom, c)
}

// Clear empties the set. Collections do not call it: edges are removed
// only when sweep frees one of their cells (Forget).
func (r *RememberSet) Clear() {
	r.mu.Lock()
	r.fromTo = make(map[Cell]map[Cell]struct{})
	r.toFrom = make(map[Cell]map[Cell]struct{})
	r.mu.Unlock()
}

// WriteBarrier must be invoked whenever the mutator stores child into a
// field reachable from parent (spec.md §4.5, §5 "introduces a reference
// from an older- to a younger-generation object"). Cross-generation
// writes mark parent's card and record the edge in the remembered set;
// same-or-younger-to-older writes need no bookkeeping since a collection
// of the younger generation alone already treats the older object's
// outgoing edge as live via normal marking from roots.
func (h *Heap) WriteBarrier(parent, child Cell) {
	h.stats.writeBarrier.Add(1)

	ph, ch := parent.GCHeader(), child.GCHeader()
	if ph.generation <= ch.generation {
		return
	}
	h.cards.Mark(ph)
	h.remembered.Add(parent, child)
}
