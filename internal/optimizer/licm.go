package optimizer

import "github.com/tieredvm/corejit/internal/ir"

// LICM implements spec.md §4.3.5: an instruction inside a loop body whose
// operands are all defined outside the loop, and which has no side
// effect, is hoisted to the loop's preheader so it executes once per loop
// entry instead of once per iteration. A preheader is recognized, not
// synthesized: a loop whose header doesn't have exactly one non-loop
// predecessor ending in a plain unconditional jump is left alone rather
// than restructuring the CFG to manufacture one. Grounded on spec.md
// §4.3.5 directly, using internal/ir/cfg.go's dominator and natural-loop
// analysis (itself grounded on
// internal/engine/wazevo/ssa/pass_cfg.go).
func LICM(f *ir.Function, ctx *Context) bool {
	dom := ir.ComputeDominators(f)
	loops := ir.FindLoops(f, dom)
	if len(loops) == 0 {
		return false
	}
	defs := buildDefs(f)
	changed := false
	for _, loop := range loops {
		header := f.Block(loop.Header)
		preheader := findPreheader(f, header, loop)
		if preheader == nil {
			continue
		}
		insertAt := len(preheader.Instrs) - 1 // immediately before its terminator.
		if insertAt < 0 {
			continue
		}
		for id := range loop.Body {
			if id == loop.Header {
				continue
			}
			b := f.Block(id)
			kept := b.Instrs[:0]
			for _, instr := range b.Instrs {
				if isLoopInvariant(instr, loop, defs) {
					preheader.InsertBefore(insertAt, instr)
					insertAt++
					changed = true
					continue
				}
				kept = append(kept, instr)
			}
			b.Instrs = kept
		}
	}
	return changed
}

// findPreheader returns header's single predecessor outside loop if it
// exists and ends with a plain unconditional jump, or nil otherwise.
func findPreheader(f *ir.Function, header *ir.BasicBlock, loop *ir.Loop) *ir.BasicBlock {
	var candidate *ir.BasicBlock
	for _, p := range header.Preds {
		if loop.Body[p] {
			continue // the back edge, not the loop-entry edge.
		}
		if candidate != nil {
			return nil // more than one outside entry: no single preheader.
		}
		candidate = f.Block(p)
	}
	if candidate == nil {
		return nil
	}
	term := candidate.Terminator()
	if term == nil || term.Op != ir.OpJump {
		return nil
	}
	return candidate
}

func isLoopInvariant(instr *ir.Instruction, loop *ir.Loop, defs map[ir.Value]defInfo) bool {
	if instr.Op.HasSideEffect() || instr.Op.IsTerminator() {
		return false
	}
	for _, a := range instr.Args {
		if definedInLoop(a, loop, defs) {
			return false
		}
	}
	return true
}

func definedInLoop(v ir.Value, loop *ir.Loop, defs map[ir.Value]defInfo) bool {
	d, ok := defs[v]
	if !ok || d.block == nil {
		return false
	}
	return loop.Body[d.block.ID()]
}
