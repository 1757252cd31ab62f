package regalloc

// SpillSlots is the one spill-slot table a function's allocation owns,
// settling spec.md §9's Open Question on spill-slot lifetime: slots are
// never shared across functions or reused across compilations, they are
// allocated fresh per function and freed (garbage-collected along with
// everything else reachable only from that function's compiled artifact)
// when the function is recompiled or discarded. Slots grow downward from
// the frame pointer, 8 bytes apart regardless of the spilled value's
// width (this engine's only scalar/vector register classes are 8-byte
// ints/floats and wide vectors; C6-C8's ABI layer rounds vector slots up
// to their own alignment when it lowers OpSpillStore/OpSpillReload, it
// just needs the slot index, not a byte offset, from this table).
type SpillSlots struct {
	next int
}

// NewSpillSlots returns an empty table.
func NewSpillSlots() *SpillSlots {
	return &SpillSlots{}
}

// Alloc reserves and returns the next free slot index.
func (s *SpillSlots) Alloc() int {
	slot := s.next
	s.next++
	return slot
}

// Count returns how many slots have been allocated, i.e. how far below
// the frame pointer the backend must reserve stack space.
func (s *SpillSlots) Count() int { return s.next }
