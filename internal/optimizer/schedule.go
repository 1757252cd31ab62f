package optimizer

import "github.com/tieredvm/corejit/internal/ir"

// Schedule implements spec.md §4.3.8: each block's instructions are
// reordered by a list scheduler over their data-dependency graph,
// prioritizing whichever ready instruction sits on the longest remaining
// weighted path to the block's terminator (the standard "critical path
// first" heuristic), breaking ties by original program order to keep
// scheduling deterministic. Side-effecting instructions keep their
// relative order with respect to every other side-effecting instruction
// (store-store, call-call, call-store, ...); only independent pure
// instructions are free to move. Grounded on spec.md §4.3.8 directly —
// longest-weighted-path list scheduling is textbook instruction
// scheduling, not isolated in any one pack file; see DESIGN.md.
func Schedule(f *ir.Function, ctx *Context) bool {
	changed := false
	for _, b := range f.Blocks {
		if scheduleBlock(b) {
			changed = true
		}
	}
	return changed
}

func scheduleBlock(b *ir.BasicBlock) bool {
	term := b.Terminator()
	body := b.Instrs
	if term != nil {
		body = b.Instrs[:len(b.Instrs)-1]
	}
	if len(body) <= 1 {
		return false
	}

	pos := make(map[*ir.Instruction]int, len(body))
	localDef := make(map[ir.Value]*ir.Instruction, len(body))
	for i, instr := range body {
		pos[instr] = i
		if instr.Result().Valid() {
			localDef[instr.Result()] = instr
		}
	}

	deps := make([][]*ir.Instruction, len(body))
	var lastSideEffect *ir.Instruction
	for i, instr := range body {
		for _, a := range instr.Args {
			if d, ok := localDef[a]; ok {
				deps[i] = append(deps[i], d)
			}
		}
		if lastSideEffect != nil && instr.Op.HasSideEffect() {
			deps[i] = append(deps[i], lastSideEffect)
		}
		if instr.Op.HasSideEffect() {
			lastSideEffect = instr
		}
	}

	succ := make([][]int, len(body))
	for i := range body {
		for _, d := range deps[i] {
			j := pos[d]
			succ[j] = append(succ[j], i)
		}
	}

	priority := make([]int, len(body))
	for i := len(body) - 1; i >= 0; i-- {
		best := 0
		for _, j := range succ[i] {
			if priority[j] > best {
				best = priority[j]
			}
		}
		priority[i] = instrCost(body[i].Op) + best
	}

	scheduled := make([]bool, len(body))
	order := make([]*ir.Instruction, 0, len(body))
	for len(order) < len(body) {
		best := -1
		for i := range body {
			if scheduled[i] {
				continue
			}
			ready := true
			for _, d := range deps[i] {
				if !scheduled[pos[d]] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			if best == -1 || priority[i] > priority[best] {
				best = i
			}
		}
		scheduled[best] = true
		order = append(order, body[best])
	}

	same := true
	for i, instr := range order {
		if body[i] != instr {
			same = false
			break
		}
	}
	if same {
		return false
	}

	newInstrs := make([]*ir.Instruction, 0, len(b.Instrs))
	newInstrs = append(newInstrs, order...)
	if term != nil {
		newInstrs = append(newInstrs, term)
	}
	b.Instrs = newInstrs
	return true
}

// instrCost is a coarse relative-latency model used only to prioritize the
// scheduler's list, not an attempt at cycle-accurate timing for any one
// target ISA (that lives in C6-C8's per-backend encoders).
func instrCost(op ir.Opcode) int {
	switch op {
	case ir.OpCall, ir.OpCallMethod, ir.OpNewObject, ir.OpNewArray, ir.OpNewClosure:
		return 8
	case ir.OpDiv, ir.OpDivFloat, ir.OpMod, ir.OpInstanceOf:
		return 5
	case ir.OpMul, ir.OpMulInt, ir.OpMulFloat, ir.OpFMA:
		return 3
	case ir.OpLoadProp, ir.OpStoreProp, ir.OpLoadElem, ir.OpStoreElem, ir.OpLoadGlobal, ir.OpStoreGlobal:
		return 2
	default:
		return 1
	}
}
