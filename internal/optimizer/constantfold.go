package optimizer

import (
	"math"

	"github.com/tieredvm/corejit/internal/ir"
)

// ConstantFold implements spec.md §4.3.1: arithmetic, comparison, negation,
// and truthiness-coercion instructions whose operands are all OpConst are
// evaluated at compile time, and the surviving instruction is rewritten in
// place to the folded OpConst — its existing result Value (and every use
// of it) stays valid, so no rewiring is needed. Division and modulo lean
// on Go's own IEEE-754 float semantics, which already match JS's: a
// runtime float64 division by zero yields +/-Infinity or NaN exactly as
// JS's `/` does, and math.Mod's NaN-on-zero-divisor and
// sign-of-dividend behavior already match JS's `%` (spec.md §4.3.1, §8
// invariant 5). This pass also propagates OpMove instructions (a plain
// copy introduced by earlier lowering or an earlier fold) by replacing
// every use of its result with its operand and letting DeadCodeEliminate
// drop the now-unreferenced move. Grounded on
// _examples/original_source/.../constant_folding.cpp's per-opcode fold
// table, adapted from that tree-walking interpreter's fold-and-replace to
// this IR's rewrite-in-place shape.
func ConstantFold(f *ir.Function, ctx *Context) bool {
	changed := false
	defs := buildDefs(f)
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if tryFold(defs, instr) {
				changed = true
			}
		}
	}
	if propagateMoves(f) {
		changed = true
	}
	return changed
}

func propagateMoves(f *ir.Function) bool {
	changed := false
	for _, b := range f.Blocks {
		kept := b.Instrs[:0]
		for _, instr := range b.Instrs {
			if instr.Op == ir.OpMove && instr.Result().Valid() && len(instr.Args) == 1 {
				replaceAll(f, instr.Result(), instr.Args[0])
				changed = true
				continue
			}
			kept = append(kept, instr)
		}
		b.Instrs = kept
	}
	return changed
}

func constOperand(defs map[ir.Value]defInfo, v ir.Value) (*ir.Instruction, bool) {
	d, ok := defs[v]
	if !ok || d.instr == nil || d.instr.Op != ir.OpConst {
		return nil, false
	}
	return d.instr, true
}

func tryFold(defs map[ir.Value]defInfo, instr *ir.Instruction) bool {
	switch instr.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpAddInt, ir.OpSubInt, ir.OpMulInt,
		ir.OpAddFloat, ir.OpSubFloat, ir.OpMulFloat, ir.OpDivFloat:
		return tryFoldArith(defs, instr)
	case ir.OpEq, ir.OpNotEq, ir.OpLt, ir.OpLtEq, ir.OpGt, ir.OpGtEq,
		ir.OpEqInt, ir.OpLtInt, ir.OpGtInt, ir.OpEqFloat, ir.OpLtFloat, ir.OpGtFloat, ir.OpEqString:
		return tryFoldCompare(defs, instr)
	case ir.OpNeg:
		return tryFoldNeg(defs, instr)
	case ir.OpToBoolean:
		return tryFoldToBoolean(defs, instr)
	case ir.OpBitAnd, ir.OpBitOr, ir.OpBitXor, ir.OpShl, ir.OpShr, ir.OpUShr:
		return tryFoldBitwise(defs, instr)
	default:
		return false
	}
}

func tryFoldArith(defs map[ir.Value]defInfo, instr *ir.Instruction) bool {
	if len(instr.Args) != 2 {
		return false
	}
	a, ok1 := constOperand(defs, instr.Args[0])
	b, ok2 := constOperand(defs, instr.Args[1])
	if !ok1 || !ok2 || a.ConstKind != ir.ConstNumber || b.ConstKind != ir.ConstNumber {
		return false
	}
	x, y := a.ConstNumber, b.ConstNumber
	var result float64
	switch instr.Op {
	case ir.OpAdd, ir.OpAddInt, ir.OpAddFloat:
		result = x + y
	case ir.OpSub, ir.OpSubInt, ir.OpSubFloat:
		result = x - y
	case ir.OpMul, ir.OpMulInt, ir.OpMulFloat:
		result = x * y
	case ir.OpDiv, ir.OpDivFloat:
		result = x / y
	case ir.OpMod:
		result = math.Mod(x, y)
	default:
		return false
	}
	rewriteToConstNumber(instr, result)
	return true
}

func tryFoldCompare(defs map[ir.Value]defInfo, instr *ir.Instruction) bool {
	if len(instr.Args) != 2 {
		return false
	}
	a, ok1 := constOperand(defs, instr.Args[0])
	b, ok2 := constOperand(defs, instr.Args[1])
	if !ok1 || !ok2 {
		return false
	}
	switch instr.Op {
	case ir.OpEq, ir.OpEqInt, ir.OpEqFloat, ir.OpEqString, ir.OpNotEq:
		eq := a.ConstKind == b.ConstKind && a.ConstNumber == b.ConstNumber && a.ConstString == b.ConstString
		if instr.Op == ir.OpNotEq {
			eq = !eq
		}
		rewriteToConstBoolean(instr, eq)
		return true
	case ir.OpLt, ir.OpLtEq, ir.OpGt, ir.OpGtEq, ir.OpLtInt, ir.OpGtInt, ir.OpLtFloat, ir.OpGtFloat:
		if a.ConstKind != ir.ConstNumber || b.ConstKind != ir.ConstNumber {
			return false
		}
		x, y := a.ConstNumber, b.ConstNumber
		var result bool
		switch instr.Op {
		case ir.OpLt, ir.OpLtInt, ir.OpLtFloat:
			result = x < y
		case ir.OpGt, ir.OpGtInt, ir.OpGtFloat:
			result = x > y
		case ir.OpLtEq:
			result = x <= y
		case ir.OpGtEq:
			result = x >= y
		}
		rewriteToConstBoolean(instr, result)
		return true
	}
	return false
}

func tryFoldNeg(defs map[ir.Value]defInfo, instr *ir.Instruction) bool {
	if len(instr.Args) != 1 {
		return false
	}
	a, ok := constOperand(defs, instr.Args[0])
	if !ok || a.ConstKind != ir.ConstNumber {
		return false
	}
	rewriteToConstNumber(instr, -a.ConstNumber)
	return true
}

func tryFoldBitwise(defs map[ir.Value]defInfo, instr *ir.Instruction) bool {
	if len(instr.Args) != 2 {
		return false
	}
	a, ok1 := constOperand(defs, instr.Args[0])
	b, ok2 := constOperand(defs, instr.Args[1])
	if !ok1 || !ok2 || a.ConstKind != ir.ConstNumber || b.ConstKind != ir.ConstNumber {
		return false
	}
	// JS bitwise operators coerce both operands to int32 first (ToInt32),
	// per spec.md §3.3's Int32 type; truncating through int32 here mirrors
	// that coercion rather than operating on the raw float64 bit pattern.
	x, y := int32(a.ConstNumber), int32(b.ConstNumber)
	var result int32
	switch instr.Op {
	case ir.OpBitAnd:
		result = x & y
	case ir.OpBitOr:
		result = x | y
	case ir.OpBitXor:
		result = x ^ y
	case ir.OpShl:
		result = x << (uint32(y) & 31)
	case ir.OpShr:
		result = x >> (uint32(y) & 31)
	case ir.OpUShr:
		rewriteToConstNumber(instr, float64(uint32(x)>>(uint32(y)&31)))
		return true
	default:
		return false
	}
	rewriteToConstNumber(instr, float64(result))
	return true
}

func tryFoldToBoolean(defs map[ir.Value]defInfo, instr *ir.Instruction) bool {
	if len(instr.Args) != 1 {
		return false
	}
	a, ok := constOperand(defs, instr.Args[0])
	if !ok {
		return false
	}
	var truthy bool
	switch a.ConstKind {
	case ir.ConstUndefined, ir.ConstNull:
		truthy = false
	case ir.ConstBoolean:
		truthy = a.ConstNumber != 0
	case ir.ConstNumber:
		truthy = a.ConstNumber != 0 && !math.IsNaN(a.ConstNumber)
	case ir.ConstString:
		truthy = a.ConstString != ""
	}
	rewriteToConstBoolean(instr, truthy)
	return true
}

func rewriteToConstNumber(instr *ir.Instruction, n float64) {
	instr.Op = ir.OpConst
	instr.Args = nil
	instr.ConstKind = ir.ConstNumber
	instr.ConstNumber = n
	instr.ConstString = ""
}

func rewriteToConstBoolean(instr *ir.Instruction, b bool) {
	instr.Op = ir.OpConst
	instr.Args = nil
	instr.ConstKind = ir.ConstBoolean
	if b {
		instr.ConstNumber = 1
	} else {
		instr.ConstNumber = 0
	}
	instr.ConstString = ""
}
