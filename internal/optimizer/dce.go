package optimizer

import "github.com/tieredvm/corejit/internal/ir"

// DeadCodeEliminate implements spec.md §4.3.2's two-phase dead code
// elimination. Phase one seeds liveness from every side-effecting
// instruction and every terminator — these can never be removed. Phase
// two is a backward worklist closure over operand dependencies: a live
// instruction keeps its operands' defining instructions alive, and a live
// block parameter (this IR's phi) keeps alive whatever value each
// predecessor edge supplies for that parameter's slot. Anything left
// unmarked after the closure is dead and is dropped from its block.
// Grounded on _examples/original_source/.../dead_code_elimination.cpp's
// mark-from-roots-then-sweep shape, adapted to this IR's block-parameter
// representation of merges.
func DeadCodeEliminate(f *ir.Function, ctx *Context) bool {
	defs := buildDefs(f)
	live := make(map[ir.Value]bool)
	liveInstr := make(map[*ir.Instruction]bool)

	var queue []ir.Value
	markValue := func(v ir.Value) {
		if !v.Valid() || live[v] {
			return
		}
		live[v] = true
		queue = append(queue, v)
	}
	markInstr := func(instr *ir.Instruction) {
		if liveInstr[instr] {
			return
		}
		liveInstr[instr] = true
		for _, a := range instr.Args {
			markValue(a)
		}
		for _, args := range instr.TargetArgs {
			for _, a := range args {
				markValue(a)
			}
		}
	}

	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if instr.Op.HasSideEffect() || instr.Op.IsTerminator() {
				markInstr(instr)
			}
		}
	}

	for len(queue) > 0 {
		v := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		d, ok := defs[v]
		if !ok {
			continue
		}
		if d.instr != nil {
			markInstr(d.instr)
			continue
		}
		idx := paramIndex(d.block, v)
		if idx < 0 {
			continue
		}
		d.block.ForEachPredEdge(func(instr *ir.Instruction, index int) {
			args := instr.TargetArgs[index]
			if idx < len(args) {
				markValue(args[idx])
			}
		})
	}

	changed := false
	for _, b := range f.Blocks {
		kept := b.Instrs[:0]
		for _, instr := range b.Instrs {
			if instr.Op.IsTerminator() || liveInstr[instr] {
				kept = append(kept, instr)
				continue
			}
			changed = true
		}
		b.Instrs = kept
	}
	return changed
}
