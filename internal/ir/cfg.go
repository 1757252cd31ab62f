package ir

// Dominators is the per-function dominator tree, computed with the
// iterative data-flow algorithm (Cooper, Harvey & Kennedy, "A Simple, Fast
// Dominance Algorithm"), the same style used by the teacher's
// wazevo/backend passes that need a dominance query for instruction
// scheduling and LICM (spec.md §4.3.5, §4.3.8).
type Dominators struct {
	f      *Function
	idom   []BlockID // idom[b] == b for the entry block.
	rpo    []BlockID
	rpoPos map[BlockID]int
}

const noBlock BlockID = -1

// ComputeDominators builds the dominator tree for f.
func ComputeDominators(f *Function) *Dominators {
	rpo := reversePostorder(f)
	rpoPos := make(map[BlockID]int, len(rpo))
	for i, b := range rpo {
		rpoPos[b] = i
	}

	idom := make([]BlockID, len(f.Blocks))
	for i := range idom {
		idom[i] = noBlock
	}
	entry := f.EntryID
	idom[entry] = entry

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == entry {
				continue
			}
			block := f.Block(b)
			var newIdom BlockID = noBlock
			for _, p := range block.Preds {
				if idom[p] == noBlock {
					continue
				}
				if newIdom == noBlock {
					newIdom = p
					continue
				}
				newIdom = intersect(idom, rpoPos, newIdom, p)
			}
			if newIdom != noBlock && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	return &Dominators{f: f, idom: idom, rpo: rpo, rpoPos: rpoPos}
}

func intersect(idom []BlockID, rpoPos map[BlockID]int, a, b BlockID) BlockID {
	for a != b {
		for rpoPos[a] > rpoPos[b] {
			a = idom[a]
		}
		for rpoPos[b] > rpoPos[a] {
			b = idom[b]
		}
	}
	return a
}

// Dominates reports whether a dominates b (every path from entry to b
// passes through a); a block trivially dominates itself.
func (d *Dominators) Dominates(a, b BlockID) bool {
	for {
		if a == b {
			return true
		}
		if b == d.f.EntryID {
			return a == b
		}
		next := d.idom[b]
		if next == b {
			return a == b
		}
		b = next
	}
}

// IDom returns b's immediate dominator.
func (d *Dominators) IDom(b BlockID) BlockID { return d.idom[b] }

// ReversePostorder returns the block visitation order dominance was
// computed over.
func (d *Dominators) ReversePostorder() []BlockID { return d.rpo }

func reversePostorder(f *Function) []BlockID {
	visited := make([]bool, len(f.Blocks))
	var order []BlockID
	var visit func(b BlockID)
	visit = func(b BlockID) {
		if visited[b] {
			return
		}
		visited[b] = true
		block := f.Block(b)
		if term := block.Terminator(); term != nil {
			for _, t := range term.Targets {
				visit(t)
			}
		}
		order = append(order, b)
	}
	visit(f.EntryID)
	// Reverse in place to turn postorder into reverse-postorder.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Loop describes one natural loop: a header dominating every block in its
// body, discovered from a back edge (a CFG edge n->header where header
// dominates n), per the standard dominator-based loop-detection algorithm
// LICM (spec.md §4.3.5) walks.
type Loop struct {
	Header BlockID
	Body   map[BlockID]bool
}

// FindLoops returns every natural loop in f, detected from back edges in
// the dominator tree.
func FindLoops(f *Function, dom *Dominators) []*Loop {
	var loops []*Loop
	for _, b := range f.Blocks {
		for _, p := range b.Preds {
			if dom.Dominates(b.id, p) {
				loops = append(loops, buildNaturalLoop(f, b.id, p))
				b.loopHeader = true
			}
		}
	}
	return loops
}

func buildNaturalLoop(f *Function, header, latch BlockID) *Loop {
	body := map[BlockID]bool{header: true}
	if latch == header {
		return &Loop{Header: header, Body: body}
	}
	stack := []BlockID{latch}
	body[latch] = true
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range f.Block(n).Preds {
			if !body[p] {
				body[p] = true
				stack = append(stack, p)
			}
		}
	}
	return &Loop{Header: header, Body: body}
}
