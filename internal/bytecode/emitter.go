package bytecode

import "fmt"

// LabelID identifies a not-yet-resolved jump target during emission.
type LabelID uint32

// Emitter builds a single Function's instruction stream. The AST walk that
// drives it is an external collaborator (spec.md §1/§6): Emitter only
// contracts on "append an instruction" / "declare a label" / "jump to a
// label", which is everything spec.md §4.1 requires of `emit_module`.
//
// While emitting, Emitter maintains a label table (label_id -> offset) and a
// pending-jump multimap (label_id -> [instruction_index]); when a label is
// defined, every pending jump to it is patched immediately with the
// now-known target (spec.md §4.1).
type Emitter struct {
	fn *Function

	labelOffsets map[LabelID]uint32
	pending      map[LabelID][]uint32 // label -> instruction indices awaiting patch
	nextLabel    LabelID

	stackDepth    uint32
	maxStackDepth uint32
}

// NewEmitter returns an Emitter appending to fn.
func NewEmitter(fn *Function) *Emitter {
	return &Emitter{
		fn:           fn,
		labelOffsets: make(map[LabelID]uint32),
		pending:      make(map[LabelID][]uint32),
	}
}

// NewLabel allocates a fresh, as-yet-undefined label.
func (e *Emitter) NewLabel() LabelID {
	id := e.nextLabel
	e.nextLabel++
	return id
}

// Offset returns the offset the next emitted instruction will occupy.
func (e *Emitter) Offset() uint32 {
	return uint32(len(e.fn.Instructions))
}

// Emit appends an instruction with the given stack-depth delta and returns
// its offset. delta is the net change in abstract operand-stack depth this
// instruction causes (e.g. Add: -1, PushConst: +1), used to enforce spec.md
// §3.2's invariant that stack depth is single-valued at every offset.
func (e *Emitter) Emit(instr Instruction, delta int) uint32 {
	offset := e.Offset()
	e.fn.Instructions = append(e.fn.Instructions, instr)

	newDepth := int(e.stackDepth) + delta
	if newDepth < 0 {
		panic(fmt.Sprintf("bytecode: stack underflow emitting %s at offset %d", instr.Op, offset))
	}
	e.stackDepth = uint32(newDepth)
	if e.stackDepth > e.maxStackDepth {
		e.maxStackDepth = e.stackDepth
	}
	return offset
}

// EmitJump emits a Jump/JumpIfTrue/JumpIfFalse to target label, recording a
// pending patch if the label isn't defined yet.
func (e *Emitter) EmitJump(op Opcode, target LabelID, delta int) uint32 {
	offset := e.Emit(NewInstruction(op, 0), delta)
	if resolved, ok := e.labelOffsets[target]; ok {
		e.fn.Instructions[offset].Operands[0] = resolved
	} else {
		e.pending[target] = append(e.pending[target], offset)
	}
	return offset
}

// DefineLabel binds label to the current offset and patches every
// previously-pending jump to it (spec.md §4.1).
func (e *Emitter) DefineLabel(label LabelID) {
	offset := e.Offset()
	e.labelOffsets[label] = offset
	for _, instrIdx := range e.pending[label] {
		e.fn.Instructions[instrIdx].Operands[0] = offset
	}
	delete(e.pending, label)
}

// EnterTry appends an (initially open) exception handler and returns its
// index so the caller can later call LeaveTry.
func (e *Emitter) EnterTry(catchVarIndex uint32) int {
	idx := len(e.fn.Handlers)
	e.fn.Handlers = append(e.fn.Handlers, ExceptionHandler{
		TryStart:      e.Offset(),
		CatchVarIndex: catchVarIndex,
	})
	return idx
}

// LeaveTry closes the try range and records catch/finally offsets.
func (e *Emitter) LeaveTry(idx int, catchOffset uint32, finallyOffset uint32, hasFinally bool) {
	h := &e.fn.Handlers[idx]
	h.TryEnd = e.Offset()
	h.CatchOffset = catchOffset
	h.HasFinally = hasFinally
	h.FinallyOffset = finallyOffset
}

// Finish validates that every pending jump was resolved (spec.md §4.1: "At
// emit end every pending jump must be resolved; otherwise the module is
// malformed") and records the function's max stack depth.
func (e *Emitter) Finish() error {
	if len(e.pending) != 0 {
		return fmt.Errorf("bytecode: %d unresolved label(s) at end of emission for function %q", len(e.pending), e.fn.Name)
	}
	e.fn.MaxStackDepth = e.maxStackDepth
	return nil
}

// Validate walks a finished function's instructions and confirms the
// abstract stack depth is single-valued at every offset reachable from
// entry (spec.md §3.2 invariant, §8 invariant 2), using block-local deltas
// recomputed from a conservative CFG. It is intentionally a structural
// check, not a full reconstruction of AST-time validation, since the
// AST/parser is out of scope (spec.md §1).
func Validate(fn *Function) error {
	_, err := ComputeDepths(fn)
	return err
}

// ComputeDepths runs the same reachability/stack-depth walk as Validate but
// returns the resulting per-offset depth array (entry 0 depth, -1 for
// unreached offsets, one extra trailing slot for "just past the last
// instruction"). internal/ir's bytecode-to-IR lowering (C2) reuses this to
// know each basic block's entry stack depth without re-deriving it.
func ComputeDepths(fn *Function) ([]int, error) {
	n := len(fn.Instructions)
	depthAt := make([]int, n+1)
	for i := range depthAt {
		depthAt[i] = -1
	}
	depthAt[0] = 0
	// Exception handlers are reachable via unwinding, not via an ordinary
	// jump, so the forward walk below would otherwise never mark their
	// catch/finally offsets as visited. Both start with an empty operand
	// stack: the caught value is delivered through the handler's
	// CatchVarIndex local, never pushed.
	for _, h := range fn.Handlers {
		depthAt[h.CatchOffset] = 0
		if h.HasFinally {
			depthAt[h.FinallyOffset] = 0
		}
	}
	visit := func(i int, depth int) error {
		if depthAt[i] == -1 {
			depthAt[i] = depth
			return nil
		}
		if depthAt[i] != depth {
			return fmt.Errorf("bytecode: stack depth mismatch at offset %d: %d vs %d", i, depthAt[i], depth)
		}
		return nil
	}
	for i := 0; i < n; i++ {
		if depthAt[i] == -1 {
			continue // unreachable; DCE's job, not ours.
		}
		instr := fn.Instructions[i]
		delta := stackDelta(instr.Op)
		next := depthAt[i] + delta
		if next < 0 {
			return nil, fmt.Errorf("bytecode: stack underflow at offset %d", i)
		}
		switch instr.Op {
		case OpJump:
			if err := visit(int(instr.Operands[0]), next); err != nil {
				return nil, err
			}
		case OpJumpIfTrue, OpJumpIfFalse:
			if err := visit(int(instr.Operands[0]), next); err != nil {
				return nil, err
			}
			if err := visit(i+1, next); err != nil {
				return nil, err
			}
		case OpReturn, OpThrow:
			// terminal: no successor to propagate depth to.
		default:
			if i+1 <= n {
				if err := visit(i+1, next); err != nil {
					return nil, err
				}
			}
		}
	}
	return depthAt, nil
}

// stackDelta gives the conservative net operand-stack effect of an opcode,
// used by Validate. Opcodes with operand-count-dependent effects (Call,
// CallMethod, NewClosure, NewArray) are approximated as 0 since their true
// arity is only known at the point of emission, where Emitter.Emit already
// tracked the precise depth.
func stackDelta(op Opcode) int {
	switch op {
	case OpPop, OpSetLocal, OpSetGlobal, OpDeleteElem,
		OpAdd, OpSub, OpMul, OpDiv, OpMod,
		OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr, OpUShr,
		OpLogicalAnd, OpLogicalOr,
		OpEq, OpNotEq, OpStrictEq, OpStrictNotEq, OpLt, OpLtEq, OpGt, OpGtEq,
		OpJumpIfTrue, OpJumpIfFalse, OpInstanceOf, OpIn, OpGetElem:
		return -1
	case OpDup, OpPushConst, OpPushUndefined, OpPushNull, OpPushTrue, OpPushFalse,
		OpGetLocal, OpGetArg, OpGetGlobal, OpGetThis, OpNewObject:
		return 1
	case OpSetProp:
		return -2
	case OpSetElem:
		return -3
	case OpSwap, OpJump, OpReturn, OpThrow, OpTryEnter, OpTryLeave, OpCall, OpCallMethod,
		OpNewClosure, OpNewArray, OpSpread, OpGetProp, OpDeleteProp,
		OpNot, OpNeg, OpBitNot, OpTypeOf, OpInc, OpDec:
		return 0
	default:
		return 0
	}
}
