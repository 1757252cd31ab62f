package bytecode

// RunPeephole applies the optional pre-passes spec.md §4.1 describes,
// gated by lvl: constant folding on literal-literal arithmetic, dead-code
// elimination via reachability over a conservative CFG, and jump-chain
// shortening. It mutates fn in place and reports whether anything changed.
//
// This is a bytecode-level shadow of the full IR optimizer (C4,
// internal/optimizer); it exists because spec.md §4.1 explicitly calls it
// out as part of C1, ahead of IR construction, so that even functions that
// never tier up still benefit from dead-jump cleanup in the interpreter.
func RunPeephole(fn *Function, lvl OptLevel, pool *ConstPool) (changed bool) {
	if lvl < OptPeephole {
		return false
	}
	changed = shortenJumpChains(fn) || changed
	changed = foldConstantArithmetic(fn, pool) || changed
	changed = eliminateDeadCode(fn) || changed
	return changed
}

// shortenJumpChains rewrites a Jump whose target is itself a Jump to point
// at the ultimate target, breaking cycles defensively (spec.md §4.1).
func shortenJumpChains(fn *Function) bool {
	changed := false
	resolve := func(target uint32) uint32 {
		seen := make(map[uint32]bool)
		for {
			if target >= uint32(len(fn.Instructions)) {
				return target
			}
			instr := fn.Instructions[target]
			if instr.Op != OpJump {
				return target
			}
			if seen[target] {
				return target // cycle; leave as-is rather than loop forever.
			}
			seen[target] = true
			target = instr.Operands[0]
		}
	}
	for i := range fn.Instructions {
		instr := &fn.Instructions[i]
		if instr.Op == OpJump || instr.Op == OpJumpIfTrue || instr.Op == OpJumpIfFalse {
			resolved := resolve(instr.Operands[0])
			if resolved != instr.Operands[0] {
				instr.Operands[0] = resolved
				changed = true
			}
		}
	}
	return changed
}

// foldConstantArithmetic evaluates PushConst/PushConst/<binop> triples at
// compile time, per spec.md §4.1 and the i32/f64 folding rules spec.md
// §4.3.1 specifies in full for the IR level; at the bytecode level we only
// fold the numeric case, leaving string/NaN/overflow edge cases to C4 once
// type information is richer.
func foldConstantArithmetic(fn *Function, pool *ConstPool) bool {
	changed := false
	instrs := fn.Instructions
	for i := 0; i+2 < len(instrs); i++ {
		a, b, op := instrs[i], instrs[i+1], instrs[i+2]
		if a.Op != OpPushConst || b.Op != OpPushConst {
			continue
		}
		ca := pool.Get(a.Operands[0])
		cb := pool.Get(b.Operands[0])
		if ca.Kind != ConstNumber || cb.Kind != ConstNumber {
			continue
		}
		var result float64
		ok := true
		switch op.Op {
		case OpAdd:
			result = ca.Number + cb.Number
		case OpSub:
			result = ca.Number - cb.Number
		case OpMul:
			result = ca.Number * cb.Number
		case OpDiv:
			result = ca.Number / cb.Number
		default:
			ok = false
		}
		if !ok {
			continue
		}
		idx := pool.AddNumber(result)
		instrs[i] = NewInstruction(OpPushConst, idx)
		instrs[i+1] = NewInstruction(OpNop)
		instrs[i+2] = NewInstruction(OpNop)
		changed = true
	}
	return changed
}

// eliminateDeadCode removes unreachable instructions via a forward
// reachability walk over the conservative CFG built from branch and
// terminator opcodes (spec.md §4.1). Offsets referenced by jumps and
// exception handlers are remapped after compaction.
func eliminateDeadCode(fn *Function) bool {
	n := len(fn.Instructions)
	if n == 0 {
		return false
	}
	reachable := make([]bool, n)
	var worklist []uint32
	worklist = append(worklist, 0)
	for _, h := range fn.Handlers {
		worklist = append(worklist, h.CatchOffset)
		if h.HasFinally {
			worklist = append(worklist, h.FinallyOffset)
		}
	}
	for len(worklist) > 0 {
		off := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if off >= uint32(n) || reachable[off] {
			continue
		}
		reachable[off] = true
		instr := fn.Instructions[off]
		switch instr.Op {
		case OpJump:
			worklist = append(worklist, instr.Operands[0])
		case OpJumpIfTrue, OpJumpIfFalse:
			worklist = append(worklist, instr.Operands[0], off+1)
		case OpReturn, OpThrow:
			// terminal
		default:
			worklist = append(worklist, off+1)
		}
	}

	keep := make([]bool, n)
	anyDropped := false
	for i := 0; i < n; i++ {
		keep[i] = reachable[i] && fn.Instructions[i].Op != OpNop
		if !keep[i] {
			anyDropped = true
		}
	}
	if !anyDropped {
		return false
	}

	// newOffset collapses forward: an offset that lands on a dropped
	// instruction (unreachable code, or a Nop folded out by constant
	// folding) is remapped to the next kept instruction, so a stray jump
	// into the middle of a folded sequence still lands on real code.
	newOffset := make([]uint32, n+1)
	newOffset[n] = 0
	var compacted []Instruction
	for i := 0; i < n; i++ {
		if keep[i] {
			newOffset[i] = uint32(len(compacted))
			compacted = append(compacted, fn.Instructions[i])
		}
	}
	for i := n - 1; i >= 0; i-- {
		if !keep[i] {
			if i+1 < n {
				newOffset[i] = newOffset[i+1]
			} else {
				newOffset[i] = uint32(len(compacted))
			}
		}
	}
	remap := func(off uint32) uint32 {
		if off >= uint32(n) {
			return uint32(len(compacted))
		}
		return newOffset[off]
	}
	for i := range compacted {
		switch compacted[i].Op {
		case OpJump, OpJumpIfTrue, OpJumpIfFalse:
			compacted[i].Operands[0] = remap(compacted[i].Operands[0])
		}
	}
	for i := range fn.Handlers {
		h := &fn.Handlers[i]
		h.TryStart, h.TryEnd = remap(h.TryStart), remap(h.TryEnd)
		h.CatchOffset = remap(h.CatchOffset)
		if h.HasFinally {
			h.FinallyOffset = remap(h.FinallyOffset)
		}
	}
	fn.Instructions = compacted
	return true
}
