package optimizer

import "github.com/tieredvm/corejit/internal/ir"

// typeSpecializationStabilityThreshold is spec.md §4.3.4's minimum
// profiler stability (max_kind_count/total) before a generic op is
// narrowed to a typed one.
const typeSpecializationStabilityThreshold = 0.8

type specializedPair struct {
	intOp   ir.Opcode
	floatOp ir.Opcode
}

var specializable = map[ir.Opcode]specializedPair{
	ir.OpAdd: {ir.OpAddInt, ir.OpAddFloat},
	ir.OpSub: {ir.OpSubInt, ir.OpSubFloat},
	ir.OpMul: {ir.OpMulInt, ir.OpMulFloat},
	ir.OpDiv: {ir.OpInvalid, ir.OpDivFloat},
	ir.OpEq:  {ir.OpEqInt, ir.OpEqFloat},
	ir.OpLt:  {ir.OpLtInt, ir.OpLtFloat},
	ir.OpGt:  {ir.OpGtInt, ir.OpGtFloat},
}

// TypeSpecialize implements spec.md §4.3.4: a generic arithmetic or
// comparison op whose profiled operand type is stable (stability >= 0.8)
// narrows to its typed variant (OpAdd -> OpAddInt/OpAddFloat, OpEq ->
// OpEqInt/OpEqFloat, ...), guarded by an explicit OpGuardType per operand
// whose static type doesn't already match, so a later profile mismatch
// deoptimizes cleanly instead of silently miscomputing (spec.md §4.2
// "Deoptimization", §8 invariant 1). It also removes a redundant
// OpToBoolean whose operand is already statically Boolean, and folds
// OpTypeOf on an operand whose static type is already narrow (including
// JS's famous `typeof null === "object"`). Grounded on
// _examples/original_source/.../type_specialization.cpp's stability-gated
// narrowing approach.
func TypeSpecialize(f *ir.Function, ctx *Context) bool {
	changed := false
	for _, b := range f.Blocks {
		for idx := 0; idx < len(b.Instrs); idx++ {
			instr := b.Instrs[idx]
			if specializeIdempotentToBoolean(f, instr) {
				changed = true
				continue
			}
			if foldTypeOf(instr) {
				changed = true
				continue
			}
			if ctx.Profile == nil {
				continue
			}
			narrowed, guards := specializeArith(f, instr, ctx.Profile)
			if !narrowed {
				continue
			}
			for gi, g := range guards {
				b.InsertBefore(idx+gi, g)
			}
			idx += len(guards)
			changed = true
		}
	}
	return changed
}

func specializeArith(f *ir.Function, instr *ir.Instruction, profile TypeOracle) (bool, []*ir.Instruction) {
	pair, ok := specializable[instr.Op]
	if !ok || len(instr.Args) != 2 {
		return false, nil
	}
	kind, stability := profile.DominantTypeAt(instr.SourceOffset)
	if stability < typeSpecializationStabilityThreshold {
		return false, nil
	}
	var target ir.Opcode
	switch kind {
	case ir.TypeInt32:
		target = pair.intOp
	case ir.TypeFloat64:
		target = pair.floatOp
	default:
		return false, nil
	}
	if target == ir.OpInvalid {
		return false, nil
	}
	var guards []*ir.Instruction
	for _, a := range instr.Args {
		if a.Type() == kind {
			continue
		}
		guards = append(guards, f.NewEffectInstr(ir.OpGuardType, a))
	}
	instr.Op = target
	return true, guards
}

func specializeIdempotentToBoolean(f *ir.Function, instr *ir.Instruction) bool {
	if instr.Op != ir.OpToBoolean || len(instr.Args) != 1 {
		return false
	}
	if instr.Args[0].Type() != ir.TypeBoolean {
		return false
	}
	replaceAll(f, instr.Result(), instr.Args[0])
	instr.Op = ir.OpMove
	return true
}

func foldTypeOf(instr *ir.Instruction) bool {
	if instr.Op != ir.OpTypeOf || len(instr.Args) != 1 {
		return false
	}
	t := instr.Args[0].Type()
	if !t.IsNarrow() {
		return false
	}
	instr.Op = ir.OpConst
	instr.Args = nil
	instr.ConstKind = ir.ConstString
	instr.ConstString = jsTypeOfString(t)
	return true
}

func jsTypeOfString(t ir.Type) string {
	switch t {
	case ir.TypeUndefined:
		return "undefined"
	case ir.TypeNull:
		return "object" // typeof null === "object" is JS's long-standing wart.
	case ir.TypeBoolean:
		return "boolean"
	case ir.TypeInt32, ir.TypeFloat64:
		return "number"
	case ir.TypeString:
		return "string"
	case ir.TypeFunction:
		return "function"
	default:
		return "object"
	}
}
