package regalloc

// interval is one VReg's live range: [start, end] in program-point units,
// where every instruction occupies two consecutive units (leaving a slot
// between instructions free for the numbering to stay monotonic even
// after linearscan.go's own spill/reload insertions renumber nothing --
// intervals are computed once, before any code is spliced in).
type interval struct {
	vreg       VReg
	start, end int
}

// paramBlock is the optional capability blockAdapter (and any other
// Block implementation with phi-like block parameters) exposes; live.go
// checks for it the way io.ReaderFrom is checked against io.Reader.
type paramBlock interface {
	ParamDefs() []VReg
}

// numberProgramPoints assigns every instruction (and, for blocks with
// phis, the block's entry) a position in Blocks() order, returning the
// per-instruction position map and each block's entry position.
func numberProgramPoints(f Function) (pos map[Instr]int, blockStart map[int]int, blockEnd map[int]int) {
	pos = make(map[Instr]int)
	blockStart = make(map[int]int)
	blockEnd = make(map[int]int)
	counter := 0
	for _, b := range f.Blocks() {
		blockStart[b.ID()] = counter
		counter += 2
		for _, instr := range b.Instrs() {
			pos[instr] = counter
			counter += 2
		}
		blockEnd[b.ID()] = counter
	}
	return pos, blockStart, blockEnd
}

// buildIntervals computes one interval per distinct VReg referenced in f,
// using the standard backward sweep: live-out sets per block (from an
// iterative dataflow fixpoint over upward-exposed uses and kills), then a
// per-block backward walk that extends or opens each VReg's interval as
// defs and uses are encountered, in program order reversed.
func buildIntervals(f Function) []*interval {
	blocks := f.Blocks()
	pos, blockStart, blockEnd := numberProgramPoints(f)

	succs := make(map[int][]Block)
	for _, b := range blocks {
		if pb, ok := b.(interface{ Preds() []Block }); ok {
			for _, p := range pb.Preds() {
				succs[p.ID()] = append(succs[p.ID()], b)
			}
		}
	}

	uevar := make(map[int]map[VReg]bool, len(blocks))
	kill := make(map[int]map[VReg]bool, len(blocks))
	for _, b := range blocks {
		ue := make(map[VReg]bool)
		kl := make(map[VReg]bool)
		if pb, ok := b.(paramBlock); ok {
			for _, p := range pb.ParamDefs() {
				kl[p] = true
			}
		}
		for _, instr := range b.Instrs() {
			for _, u := range instr.Uses() {
				if !kl[u] {
					ue[u] = true
				}
			}
			for _, d := range instr.Defs() {
				kl[d] = true
			}
		}
		uevar[b.ID()] = ue
		kill[b.ID()] = kl
	}

	liveIn := make(map[int]map[VReg]bool, len(blocks))
	liveOut := make(map[int]map[VReg]bool, len(blocks))
	for _, b := range blocks {
		liveIn[b.ID()] = map[VReg]bool{}
		liveOut[b.ID()] = map[VReg]bool{}
	}

	for changed := true; changed; {
		changed = false
		for i := len(blocks) - 1; i >= 0; i-- {
			b := blocks[i]
			out := map[VReg]bool{}
			for _, s := range succs[b.ID()] {
				for v := range liveIn[s.ID()] {
					out[v] = true
				}
			}
			in := map[VReg]bool{}
			for v := range uevar[b.ID()] {
				in[v] = true
			}
			for v := range out {
				if !kill[b.ID()][v] {
					in[v] = true
				}
			}
			if !sameSet(out, liveOut[b.ID()]) || !sameSet(in, liveIn[b.ID()]) {
				changed = true
			}
			liveOut[b.ID()] = out
			liveIn[b.ID()] = in
		}
	}

	ivals := make(map[VReg]*interval)
	touch := func(v VReg, p int) *interval {
		iv, ok := ivals[v]
		if !ok {
			iv = &interval{vreg: v, start: p, end: p}
			ivals[v] = iv
			return iv
		}
		if p < iv.start {
			iv.start = p
		}
		if p > iv.end {
			iv.end = p
		}
		return iv
	}

	for _, b := range blocks {
		live := map[VReg]bool{}
		endPos := blockEnd[b.ID()]
		for v := range liveOut[b.ID()] {
			live[v] = true
			touch(v, endPos)
		}
		instrs := b.Instrs()
		for i := len(instrs) - 1; i >= 0; i-- {
			instr := instrs[i]
			p := pos[instr]
			// An instruction's def happens one unit after its own uses
			// (p+1, still before the next instruction's uses at p+2), so
			// an operand whose last use is this instruction's input and
			// the value this same instruction produces don't appear to
			// overlap: linearscan.go's expire step can free the operand's
			// register in time to hand it straight to the result.
			for _, d := range instr.Defs() {
				touch(d, p+1)
				delete(live, d)
			}
			for _, u := range instr.Uses() {
				touch(u, p)
				live[u] = true
			}
		}
		if pb, ok := b.(paramBlock); ok {
			start := blockStart[b.ID()]
			for _, p := range pb.ParamDefs() {
				touch(p, start)
				delete(live, p)
			}
		}
	}

	out := make([]*interval, 0, len(ivals))
	for _, iv := range ivals {
		out = append(out, iv)
	}
	return out
}

func sameSet(a, b map[VReg]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for v := range a {
		if !b[v] {
			return false
		}
	}
	return true
}
