package optimizer

import "github.com/tieredvm/corejit/internal/ir"

// defInfo locates where a Value is defined: either an instruction's
// result (instr != nil) or a block parameter / phi (instr == nil). block
// is always set, so a pass can ask "is this value's definition inside
// loop body B" without a second lookup.
type defInfo struct {
	instr *ir.Instruction
	block *ir.BasicBlock
}

// buildDefs indexes every Value in f by its definition site. Several
// passes (constant folding, CSE, LICM, combining) need this same lookup,
// so it is built once per pass invocation rather than threaded through the
// pipeline (a function's instructions can move between passes, so a
// cached map would go stale).
func buildDefs(f *ir.Function) map[ir.Value]defInfo {
	defs := make(map[ir.Value]defInfo, f.NumValues())
	for _, b := range f.Blocks {
		for _, p := range b.Params {
			defs[p] = defInfo{block: b}
		}
		for _, instr := range b.Instrs {
			if instr.Result().Valid() {
				defs[instr.Result()] = defInfo{instr: instr, block: b}
			}
		}
	}
	return defs
}

// paramIndex returns v's slot within b.Params, or -1 if v isn't one of
// b's parameters.
func paramIndex(b *ir.BasicBlock, v ir.Value) int {
	for i, p := range b.Params {
		if p == v {
			return i
		}
	}
	return -1
}

// replaceAll rewrites every use of old — as an instruction operand or as a
// block-param argument on some predecessor's terminator — to new. Used by
// CSE and move propagation to retire a redundant definition in place,
// without renumbering anything that already referenced it.
func replaceAll(f *ir.Function, old, new ir.Value) {
	if old == new {
		return
	}
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			for i, a := range instr.Args {
				if a == old {
					instr.Args[i] = new
				}
			}
			for ti := range instr.TargetArgs {
				for i, a := range instr.TargetArgs[ti] {
					if a == old {
						instr.TargetArgs[ti][i] = new
					}
				}
			}
		}
	}
}
