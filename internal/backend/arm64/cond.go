package arm64

import "github.com/tieredvm/corejit/internal/ir"

// condFlag is AArch64's 4-bit condition-flag encoding, carried near
// verbatim from the teacher's cond.go (same 16-entry set, same
// invert()), since the bit pattern is part of the ISA and doesn't vary
// with what produced the flags.
type condFlag uint8

const (
	eq condFlag = iota
	ne
	hs
	lo
	mi
	pl
	vs
	vc
	hi
	ls
	ge
	lt
	gt
	le
	al
	nv
)

// invert returns the logically-negated condition. Its caller is
// emitIntCompare's CSET lowering (CSINC with the inverted condition);
// emitBranch has no out-of-range long-form fallback, so no branch is
// ever emitted with an inverted condition.
func (c condFlag) invert() condFlag {
	switch c {
	case eq:
		return ne
	case ne:
		return eq
	case hs:
		return lo
	case lo:
		return hs
	case mi:
		return pl
	case pl:
		return mi
	case vs:
		return vc
	case vc:
		return vs
	case hi:
		return ls
	case ls:
		return hi
	case ge:
		return lt
	case lt:
		return ge
	case gt:
		return le
	case le:
		return gt
	case al:
		return nv
	case nv:
		return al
	default:
		panic(c)
	}
}

// condForCompare maps internal/ir's Eq/Lt/Gt-suffixed comparison opcodes
// to the condition flag CMP+CSET should test, replacing the teacher's
// switch over ssa.IntegerCmpCond/ssa.FloatCmpCond.
func condForCompare(op ir.Opcode) condFlag {
	switch op {
	case ir.OpEqInt, ir.OpEqFloat:
		return eq
	case ir.OpLtInt, ir.OpLtFloat:
		return lt
	case ir.OpGtInt, ir.OpGtFloat:
		return gt
	default:
		panic("condForCompare: not a comparison opcode")
	}
}
