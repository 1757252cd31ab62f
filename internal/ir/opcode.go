package ir

// Opcode identifies an IR instruction. The generic arithmetic/comparison
// opcodes are polymorphic over Value; type specialization (spec.md
// §4.3.4) rewrites them to the suffixed variants (AddInt, LtFloat, EqString,
// ...) once operand types are known narrow.
type Opcode byte

const (
	OpInvalid Opcode = iota

	// Constants and data movement.
	OpConst      // immediate constant, see Instruction.ConstKind/ConstValue.
	OpMove       // copy of another Value; folded away by CSE/const-prop.
	OpBlockParam // value flowing in from a predecessor (phi via block params).

	// Memory/variable access (side-effecting).
	OpLoadLocal
	OpStoreLocal
	OpLoadGlobal
	OpStoreGlobal
	OpLoadProp
	OpStoreProp
	OpDeleteProp
	OpLoadElem
	OpStoreElem
	OpDeleteElem

	// Generic (polymorphic) arithmetic.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	// Type-specialized arithmetic (spec.md §4.3.4).
	OpAddInt
	OpSubInt
	OpMulInt
	OpAddFloat
	OpSubFloat
	OpMulFloat
	OpDivFloat

	// Instruction-combining fusions (spec.md §4.3.6).
	OpFMA      // fused multiply-add: a*b+c in one node.
	OpLEA      // address = base + index*scale + offset, folded from Add+Load.

	// Bitwise / shift (shift amount masked to low 5 bits, spec.md §4.3.1).
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShl
	OpShr
	OpUShr

	// Logical / comparison, generic and specialized.
	OpNot
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpEqInt
	OpLtInt
	OpGtInt
	OpEqFloat
	OpLtFloat
	OpGtFloat
	OpEqString

	// Type conversions (spec.md §4.3.1).
	OpInt32ToFloat64
	OpFloat64ToInt32
	OpBooleanToInt32
	OpStringToNumber
	OpNumberToString
	OpToBoolean
	OpTypeOf

	// Control flow: block terminators.
	OpJump   // unconditional branch to a target block, passing args.
	OpBranch // conditional branch: true-target / false-target, each with args.
	OpReturn
	OpThrow

	// Calls and object model.
	OpCall
	OpCallMethod
	OpNewObject
	OpNewArray
	OpNewClosure
	OpInstanceOf
	OpIn

	// Guards: speculative assumptions that may trigger deoptimization
	// (spec.md §4.2 "Deoptimization").
	OpGuardType
	OpGuardNoOverflow

	// Vectorized forms (spec.md §4.3.7); Arrangement records the SIMD width
	// chosen by the backend (C6-C8).
	OpVecLoad
	OpVecStore
	OpVecAdd
	OpVecMul
	OpVecFMA

	// Spill/reload pseudo-ops inserted by the register allocator (C5) when
	// an interval doesn't fit in the available physical registers. Aux
	// holds the spill-slot index into the function's per-function slot
	// table; backends (C6-C8) lower these to an ordinary stack store/load
	// at Frame.SpillBase - slot*8.
	OpSpillStore
	OpSpillReload

	opcodeCount
)

var opcodeNames = [opcodeCount]string{
	OpInvalid:         "invalid",
	OpConst:           "const",
	OpMove:            "move",
	OpBlockParam:      "blockparam",
	OpLoadLocal:       "load.local",
	OpStoreLocal:      "store.local",
	OpLoadGlobal:      "load.global",
	OpStoreGlobal:     "store.global",
	OpLoadProp:        "load.prop",
	OpStoreProp:       "store.prop",
	OpDeleteProp:      "delete.prop",
	OpLoadElem:        "load.elem",
	OpStoreElem:       "store.elem",
	OpDeleteElem:      "delete.elem",
	OpAdd:             "add",
	OpSub:             "sub",
	OpMul:             "mul",
	OpDiv:             "div",
	OpMod:             "mod",
	OpNeg:             "neg",
	OpAddInt:          "add.i32",
	OpSubInt:          "sub.i32",
	OpMulInt:          "mul.i32",
	OpAddFloat:        "add.f64",
	OpSubFloat:        "sub.f64",
	OpMulFloat:        "mul.f64",
	OpDivFloat:        "div.f64",
	OpFMA:             "fma",
	OpLEA:             "lea",
	OpBitAnd:          "bit.and",
	OpBitOr:           "bit.or",
	OpBitXor:          "bit.xor",
	OpBitNot:          "bit.not",
	OpShl:             "shl",
	OpShr:             "shr",
	OpUShr:            "ushr",
	OpNot:             "not",
	OpEq:              "eq",
	OpNotEq:           "ne",
	OpLt:              "lt",
	OpLtEq:            "le",
	OpGt:              "gt",
	OpGtEq:            "ge",
	OpEqInt:           "eq.i32",
	OpLtInt:           "lt.i32",
	OpGtInt:           "gt.i32",
	OpEqFloat:         "eq.f64",
	OpLtFloat:         "lt.f64",
	OpGtFloat:         "gt.f64",
	OpEqString:        "eq.str",
	OpInt32ToFloat64:  "cvt.i32.f64",
	OpFloat64ToInt32:  "cvt.f64.i32",
	OpBooleanToInt32:  "cvt.bool.i32",
	OpStringToNumber:  "cvt.str.num",
	OpNumberToString:  "cvt.num.str",
	OpToBoolean:       "cvt.bool",
	OpTypeOf:          "typeof",
	OpJump:            "jump",
	OpBranch:          "branch",
	OpReturn:          "return",
	OpThrow:           "throw",
	OpCall:            "call",
	OpCallMethod:      "call.method",
	OpNewObject:       "object.new",
	OpNewArray:        "array.new",
	OpNewClosure:      "closure.new",
	OpInstanceOf:      "instanceof",
	OpIn:              "in",
	OpGuardType:       "guard.type",
	OpGuardNoOverflow: "guard.no_overflow",
	OpVecLoad:         "vec.load",
	OpVecStore:        "vec.store",
	OpVecAdd:          "vec.add",
	OpVecMul:          "vec.mul",
	OpVecFMA:          "vec.fma",
	OpSpillStore:      "spill.store",
	OpSpillReload:     "spill.reload",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o < opcodeCount {
		return opcodeNames[o]
	}
	return "unknown"
}

// IsTerminator reports whether o ends a basic block.
func (o Opcode) IsTerminator() bool {
	switch o {
	case OpJump, OpBranch, OpReturn, OpThrow:
		return true
	default:
		return false
	}
}

// HasSideEffect reports whether o has an observable effect beyond producing
// a value: stores, calls, returns, branches, throw, object/array
// construction (spec.md §4.3.2's liveness seed set).
func (o Opcode) HasSideEffect() bool {
	switch o {
	case OpStoreLocal, OpStoreGlobal, OpStoreProp, OpDeleteProp, OpStoreElem, OpDeleteElem,
		OpCall, OpCallMethod, OpReturn, OpThrow, OpJump, OpBranch,
		OpNewObject, OpNewArray, OpNewClosure,
		OpGuardType, OpGuardNoOverflow, OpVecStore,
		OpSpillStore:
		return true
	default:
		return false
	}
}

// IsCommutative reports whether operand order doesn't affect the result,
// used by CSE (spec.md §4.3.3) to canonicalize the hash key.
func (o Opcode) IsCommutative() bool {
	switch o {
	case OpAdd, OpMul, OpAddInt, OpMulInt, OpAddFloat, OpMulFloat,
		OpBitAnd, OpBitOr, OpBitXor, OpEq, OpNotEq, OpEqInt, OpEqFloat, OpEqString:
		return true
	default:
		return false
	}
}
