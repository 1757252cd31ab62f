package optimizer

import (
	"fmt"

	"github.com/tieredvm/corejit/internal/ir"
)

// CommonSubexpressionEliminate implements spec.md §4.3.3: pure
// instructions (no side effect, not a terminator, not a block param) are
// hash-consed by (opcode, operands, aux payload) within a block, then the
// redundancy search is extended across the whole dominator tree — an
// expression computed in a dominating block is available, unchanged, at
// every block it dominates, so a later recomputation of the identical
// expression anywhere in that subtree is replaced by the earlier Value
// outright. Commutative operators canonicalize their two-operand key by
// numeric Value id so `a+b` and `b+a` hash-cons together. Grounded on
// spec.md §4.3.3 directly — dominator-tree GVN/CSE is a textbook pass, not
// isolated in any single pack file; see DESIGN.md.
func CommonSubexpressionEliminate(f *ir.Function, ctx *Context) bool {
	dom := ir.ComputeDominators(f)
	children := childrenOf(f, dom)

	available := make(map[string]ir.Value)
	changed := false

	var walk func(id ir.BlockID)
	walk = func(id ir.BlockID) {
		b := f.Block(id)
		var inserted []string
		kept := b.Instrs[:0]
		for _, instr := range b.Instrs {
			key, ok := cseKey(instr)
			if !ok {
				kept = append(kept, instr)
				continue
			}
			if v, ok := available[key]; ok {
				replaceAll(f, instr.Result(), v)
				changed = true
				continue
			}
			available[key] = instr.Result()
			inserted = append(inserted, key)
			kept = append(kept, instr)
		}
		b.Instrs = kept

		for _, c := range children[id] {
			walk(c)
		}
		for _, k := range inserted {
			delete(available, k)
		}
	}
	walk(f.EntryID)
	return changed
}

func childrenOf(f *ir.Function, dom *ir.Dominators) map[ir.BlockID][]ir.BlockID {
	children := make(map[ir.BlockID][]ir.BlockID)
	for _, b := range f.Blocks {
		id := b.ID()
		if id == f.EntryID {
			continue
		}
		p := dom.IDom(id)
		children[p] = append(children[p], id)
	}
	return children
}

// cseKey returns a canonical string key for instr if it is eligible for
// hash-consing (pure, result-producing), and false otherwise.
func cseKey(instr *ir.Instruction) (string, bool) {
	if instr.Op.HasSideEffect() || instr.Op.IsTerminator() || instr.Op == ir.OpBlockParam {
		return "", false
	}
	if !instr.Result().Valid() {
		return "", false
	}
	switch instr.Op {
	case ir.OpLoadLocal, ir.OpLoadGlobal, ir.OpLoadProp, ir.OpLoadElem:
		// Effect-free per HasSideEffect, but not alias-safe to hash-cons:
		// an intervening store to the same property/element/global (which
		// this pass has no alias analysis to rule out) could change the
		// value a repeated load observes. Left for a future
		// alias-analysis-gated extension rather than risked here.
		return "", false
	}
	if instr.Op == ir.OpConst {
		return fmt.Sprintf("const:%d:%v:%q", instr.ConstKind, instr.ConstNumber, instr.ConstString), true
	}
	args := append([]ir.Value(nil), instr.Args...)
	if instr.Op.IsCommutative() && len(args) == 2 && args[0] > args[1] {
		args[0], args[1] = args[1], args[0]
	}
	key := fmt.Sprintf("%d:%s:%d", instr.Op, instr.AuxString, instr.Aux)
	for _, a := range args {
		key += fmt.Sprintf(":%d", a)
	}
	return key, true
}
