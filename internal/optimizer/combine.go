package optimizer

import "github.com/tieredvm/corejit/internal/ir"

// InstructionCombine implements spec.md §4.3.6: two adjacent pure
// arithmetic instructions are fused into a single IR node when the
// backend exposes one real instruction for the pair, so later passes (and
// the backend's own encoder, C6-C8) see the fused op and never have to
// materialize the intermediate value. Two shapes are recognized: fused
// multiply-add (a float multiply feeding directly into an add) and
// base+index*scale address computation (an int multiply by a {1,2,4,8}
// constant feeding directly into an add — the exact shape x86-64's LEA
// and ARM64's shifted-register add both encode in one instruction). A
// fusion only fires when the intermediate product has no other observer,
// so nothing downstream loses a value it still needs. Grounded on
// spec.md §4.3.6 directly.
func InstructionCombine(f *ir.Function, ctx *Context) bool {
	defs := buildDefs(f)
	uses := countUses(f)
	changed := false
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if combineFMA(instr, defs, uses) {
				changed = true
				continue
			}
			if combineLEA(instr, defs, uses) {
				changed = true
			}
		}
	}
	return changed
}

// countUses counts how many instruction Args (including terminator
// TargetArgs) reference each Value, so a fusion only fires when the
// intermediate it folds away has exactly the one observer being fused.
func countUses(f *ir.Function) map[ir.Value]int {
	uses := make(map[ir.Value]int)
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			for _, a := range instr.Args {
				uses[a]++
			}
			for _, args := range instr.TargetArgs {
				for _, a := range args {
					uses[a]++
				}
			}
		}
	}
	return uses
}

func combineFMA(instr *ir.Instruction, defs map[ir.Value]defInfo, uses map[ir.Value]int) bool {
	if instr.Op != ir.OpAddFloat && instr.Op != ir.OpAdd {
		return false
	}
	for i, a := range instr.Args {
		d, ok := defs[a]
		if !ok || d.instr == nil {
			continue
		}
		if d.instr.Op != ir.OpMulFloat && d.instr.Op != ir.OpMul {
			continue
		}
		if uses[a] != 1 {
			continue // the product is observed elsewhere; fusing would lose it.
		}
		other := instr.Args[1-i]
		instr.Op = ir.OpFMA
		instr.Args = []ir.Value{d.instr.Args[0], d.instr.Args[1], other}
		return true
	}
	return false
}

type leaScale struct {
	index  ir.Value
	factor uint32
}

func combineLEA(instr *ir.Instruction, defs map[ir.Value]defInfo, uses map[ir.Value]int) bool {
	if instr.Op != ir.OpAddInt && instr.Op != ir.OpAdd {
		return false
	}
	for i, a := range instr.Args {
		d, ok := defs[a]
		if !ok || d.instr == nil {
			continue
		}
		if d.instr.Op != ir.OpMulInt && d.instr.Op != ir.OpMul {
			continue
		}
		if uses[a] != 1 {
			continue
		}
		scale, ok := constScale(d.instr, defs)
		if !ok {
			continue
		}
		base := instr.Args[1-i]
		instr.Op = ir.OpLEA
		instr.Args = []ir.Value{base, scale.index}
		instr.Aux = scale.factor
		return true
	}
	return false
}

// constScale recognizes mul's operand pair as (index, constant scale) and
// returns the index value plus the scale factor. x86-64's LEA only
// supports scale in {1,2,4,8}; anything else is rejected and left as a
// plain multiply for the backend to encode normally.
func constScale(mul *ir.Instruction, defs map[ir.Value]defInfo) (leaScale, bool) {
	for i, a := range mul.Args {
		d, ok := defs[a]
		if !ok || d.instr == nil || d.instr.Op != ir.OpConst || d.instr.ConstKind != ir.ConstNumber {
			continue
		}
		switch d.instr.ConstNumber {
		case 1, 2, 4, 8:
			return leaScale{index: mul.Args[1-i], factor: uint32(d.instr.ConstNumber)}, true
		}
	}
	return leaScale{}, false
}
