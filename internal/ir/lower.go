package ir

import (
	"fmt"

	"github.com/tieredvm/corejit/internal/bytecode"
)

// Lower performs C2's structural one-pass lowering of a bytecode.Function
// into typed SSA IR: stack slots become virtual registers via the
// Braun-style SSA construction in builder.go (stack-to-register
// conversion), bytecode jumps become explicit block terminators, and every
// instruction records the bytecode offset it came from so the tier
// controller can map a native fault back to an interpreter resume point
// (spec.md §3.6, §8 invariant 8).
func Lower(fn *bytecode.Function, pool *bytecode.ConstPool, strings *bytecode.StringTable) (*Function, error) {
	depths, err := bytecode.ComputeDepths(fn)
	if err != nil {
		return nil, err
	}
	n := len(fn.Instructions)

	isBoundary := make([]bool, n+1)
	isBoundary[0] = true
	for i := 0; i < n; i++ {
		instr := fn.Instructions[i]
		switch instr.Op {
		case bytecode.OpJump:
			isBoundary[instr.Operands[0]] = true
			if i+1 <= n {
				isBoundary[i+1] = true
			}
		case bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse:
			isBoundary[instr.Operands[0]] = true
			if i+1 <= n {
				isBoundary[i+1] = true
			}
		case bytecode.OpReturn, bytecode.OpThrow:
			if i+1 <= n {
				isBoundary[i+1] = true
			}
		}
	}
	handlerEntry := make(map[int]bool)
	for _, h := range fn.Handlers {
		isBoundary[h.CatchOffset] = true
		handlerEntry[int(h.CatchOffset)] = true
		if h.HasFinally {
			isBoundary[h.FinallyOffset] = true
			handlerEntry[int(h.FinallyOffset)] = true
		}
	}

	f := &Function{Name: fn.Name, NumLocals: fn.NumLocals, SourceFunctionID: fn.ID}
	offsetBlock := make(map[int]*BasicBlock)
	for i := 0; i < n; i++ {
		if isBoundary[i] && depths[i] != -1 {
			b := f.NewBlock()
			offsetBlock[i] = b
		}
	}
	if entry, ok := offsetBlock[0]; ok {
		entry.entry = true
		f.EntryID = entry.id
	}

	bld := NewBuilder(f)

	// Variable layout: locals, then abstract stack slots, then the
	// function's incoming arguments, then `this`.
	stackBase := Variable(fn.NumLocals)
	argBase := stackBase + Variable(fn.MaxStackDepth)
	thisVar := argBase + Variable(fn.Arity)
	for v := Variable(0); v < thisVar+1; v++ {
		bld.DeclareVariable(v, TypeUnknown)
	}
	stackVar := func(depth int) Variable { return stackBase + Variable(depth) }
	argVar := func(idx uint32) Variable { return argBase + Variable(idx) }

	if entry, ok := offsetBlock[0]; ok {
		for i := uint32(0); i < fn.Arity; i++ {
			p := f.AddParam(entry, TypeUnknown)
			bld.WriteVariable(entry, argVar(i), p)
		}
		p := f.AddParam(entry, TypeUnknown)
		bld.WriteVariable(entry, thisVar, p)
	}

	// Exception handler entries are reached by the runtime's unwinder, not
	// by any ordinary jump: there is no predecessor edge to resolve a phi
	// against, so every local is instead reloaded directly from the
	// interpreter frame that the unwinder already repopulated (the caught
	// value lands in its CatchVarIndex slot via that same reload, with no
	// special case needed here).
	for off := range handlerEntry {
		b := offsetBlock[off]
		f.SetLoweringOffset(uint32(off))
		for slot := uint32(0); slot < fn.NumLocals; slot++ {
			v := f.EmitValue(b, OpLoadLocal, TypeUnknown)
			b.Instrs[len(b.Instrs)-1].Aux = slot
			bld.WriteVariable(b, Variable(slot), v)
		}
		bld.SealBlock(b)
	}

	var cur *BasicBlock
	depth := 0
	constOne := func(b *BasicBlock) Value { return f.EmitConst(b, ConstNumber, 1, "", TypeFloat64) }

	for i := 0; i < n; i++ {
		if depths[i] == -1 {
			continue // unreachable; not lowered.
		}
		if b, ok := offsetBlock[i]; ok && b != cur {
			if cur != nil && cur.Terminator() == nil {
				f.SetJump(cur, b, nil)
			}
			cur = b
			depth = depths[i]
		}
		f.SetLoweringOffset(uint32(i))
		instr := fn.Instructions[i]
		push := func(v Value) {
			bld.WriteVariable(cur, stackVar(depth), v)
			depth++
		}
		pop := func() Value {
			depth--
			return bld.ReadVariable(cur, stackVar(depth))
		}
		binop := func(op Opcode) {
			b := pop()
			a := pop()
			push(f.EmitValue(cur, op, TypeUnknown, a, b))
		}
		unop := func(op Opcode) {
			a := pop()
			push(f.EmitValue(cur, op, TypeUnknown, a))
		}

		switch instr.Op {
		case bytecode.OpNop, bytecode.OpTryEnter, bytecode.OpTryLeave:
			// Structural only: block boundaries already captured the
			// protected-region shape; the bytecode offset on later IR
			// nodes is what the tier controller's deopt table keys off.

		case bytecode.OpPop:
			pop()
		case bytecode.OpDup:
			v := bld.ReadVariable(cur, stackVar(depth-1))
			push(v)
		case bytecode.OpSwap:
			a := bld.ReadVariable(cur, stackVar(depth-1))
			b := bld.ReadVariable(cur, stackVar(depth-2))
			bld.WriteVariable(cur, stackVar(depth-2), a)
			bld.WriteVariable(cur, stackVar(depth-1), b)

		case bytecode.OpPushConst:
			c := pool.Get(instr.Operands[0])
			push(lowerConst(f, cur, c))
		case bytecode.OpPushUndefined:
			push(f.EmitConst(cur, ConstUndefined, 0, "", TypeUndefined))
		case bytecode.OpPushNull:
			push(f.EmitConst(cur, ConstNull, 0, "", TypeNull))
		case bytecode.OpPushTrue:
			push(f.EmitConst(cur, ConstBoolean, 1, "", TypeBoolean))
		case bytecode.OpPushFalse:
			push(f.EmitConst(cur, ConstBoolean, 0, "", TypeBoolean))

		case bytecode.OpGetLocal:
			push(bld.ReadVariable(cur, Variable(instr.Operands[0])))
		case bytecode.OpSetLocal:
			v := pop()
			bld.WriteVariable(cur, Variable(instr.Operands[0]), v)
		case bytecode.OpGetArg:
			push(bld.ReadVariable(cur, argVar(instr.Operands[0])))
		case bytecode.OpGetGlobal:
			push(f.emitValueWithName(cur, OpLoadGlobal, TypeUnknown, strings.Get(instr.Operands[0])))
		case bytecode.OpSetGlobal:
			v := pop()
			instr := f.EmitEffect(cur, OpStoreGlobal, v)
			instr.AuxString = strings.Get(fn.Instructions[i].Operands[0])
		case bytecode.OpGetThis:
			push(bld.ReadVariable(cur, thisVar))

		case bytecode.OpGetProp:
			obj := pop()
			push(f.emitValueWithName(cur, OpLoadProp, TypeUnknown, strings.Get(instr.Operands[0]), obj))
		case bytecode.OpSetProp:
			val := pop()
			obj := pop()
			ei := f.EmitEffect(cur, OpStoreProp, obj, val)
			ei.AuxString = strings.Get(instr.Operands[0])
		case bytecode.OpDeleteProp:
			obj := pop()
			ei := f.EmitEffect(cur, OpDeleteProp, obj)
			ei.AuxString = strings.Get(instr.Operands[0])
			push(f.EmitConst(cur, ConstBoolean, 1, "", TypeBoolean))
		case bytecode.OpGetElem:
			key := pop()
			obj := pop()
			push(f.EmitValue(cur, OpLoadElem, TypeUnknown, obj, key))
		case bytecode.OpSetElem:
			val := pop()
			key := pop()
			obj := pop()
			f.EmitEffect(cur, OpStoreElem, obj, key, val)
		case bytecode.OpDeleteElem:
			key := pop()
			obj := pop()
			f.EmitEffect(cur, OpDeleteElem, obj, key)
			push(f.EmitConst(cur, ConstBoolean, 1, "", TypeBoolean))

		case bytecode.OpAdd:
			binop(OpAdd)
		case bytecode.OpSub:
			binop(OpSub)
		case bytecode.OpMul:
			binop(OpMul)
		case bytecode.OpDiv:
			binop(OpDiv)
		case bytecode.OpMod:
			binop(OpMod)
		case bytecode.OpNeg:
			unop(OpNeg)
		case bytecode.OpInc:
			a := pop()
			push(f.EmitValue(cur, OpAdd, TypeUnknown, a, constOne(cur)))
		case bytecode.OpDec:
			a := pop()
			push(f.EmitValue(cur, OpSub, TypeUnknown, a, constOne(cur)))

		case bytecode.OpBitAnd:
			binop(OpBitAnd)
		case bytecode.OpBitOr:
			binop(OpBitOr)
		case bytecode.OpBitXor:
			binop(OpBitXor)
		case bytecode.OpBitNot:
			unop(OpBitNot)
		case bytecode.OpShl:
			binop(OpShl)
		case bytecode.OpShr:
			binop(OpShr)
		case bytecode.OpUShr:
			binop(OpUShr)

		case bytecode.OpNot:
			unop(OpNot)
		case bytecode.OpLogicalAnd, bytecode.OpLogicalOr:
			b := pop()
			a := pop()
			cond := f.EmitValue(cur, OpToBoolean, TypeBoolean, a)
			mergeB := f.NewBlock()
			result := f.AddParam(mergeB, TypeUnknown)
			if instr.Op == bytecode.OpLogicalAnd {
				f.SetBranch(cur, cond, mergeB, []Value{b}, mergeB, []Value{a})
			} else {
				f.SetBranch(cur, cond, mergeB, []Value{a}, mergeB, []Value{b})
			}
			cur = mergeB
			push(result)

		case bytecode.OpEq:
			binop(OpEq)
		case bytecode.OpNotEq:
			binop(OpNotEq)
		case bytecode.OpStrictEq:
			binop(OpEq)
		case bytecode.OpStrictNotEq:
			binop(OpNotEq)
		case bytecode.OpLt:
			binop(OpLt)
		case bytecode.OpLtEq:
			binop(OpLtEq)
		case bytecode.OpGt:
			binop(OpGt)
		case bytecode.OpGtEq:
			binop(OpGtEq)

		case bytecode.OpJump:
			target := offsetBlock[int(instr.Operands[0])]
			f.SetJump(cur, target, nil)
		case bytecode.OpJumpIfTrue:
			cond := pop()
			trueTarget := offsetBlock[int(instr.Operands[0])]
			falseTarget := offsetBlock[i+1]
			f.SetBranch(cur, cond, trueTarget, nil, falseTarget, nil)
		case bytecode.OpJumpIfFalse:
			cond := pop()
			falseTarget := offsetBlock[int(instr.Operands[0])]
			trueTarget := offsetBlock[i+1]
			f.SetBranch(cur, cond, trueTarget, nil, falseTarget, nil)

		case bytecode.OpCall:
			argc := int(instr.Operands[0])
			args := make([]Value, argc+1) // args[0] = callee
			for k := argc - 1; k >= 0; k-- {
				args[k+1] = pop()
			}
			args[0] = pop()
			v := f.EmitValue(cur, OpCall, TypeUnknown, args...)
			cur.Instrs[len(cur.Instrs)-1].Aux = uint32(argc)
			push(v)
		case bytecode.OpCallMethod:
			argc := int(instr.Operands[0])
			args := make([]Value, argc+2) // args[0] = receiver, args[1] = method name owner
			for k := argc - 1; k >= 0; k-- {
				args[k+2] = pop()
			}
			args[1] = pop() // property/method value
			args[0] = pop() // receiver
			v := f.EmitValue(cur, OpCallMethod, TypeUnknown, args...)
			cur.Instrs[len(cur.Instrs)-1].Aux = uint32(argc)
			push(v)
		case bytecode.OpNewClosure:
			upvalCount := int(instr.Operands[1])
			captures := make([]Value, upvalCount)
			for k := upvalCount - 1; k >= 0; k-- {
				captures[k] = pop()
			}
			v := f.EmitValue(cur, OpNewClosure, TypeFunction, captures...)
			cur.Instrs[len(cur.Instrs)-1].Aux = instr.Operands[0]
			push(v)

		case bytecode.OpReturn:
			v := pop()
			f.SetReturn(cur, v)
		case bytecode.OpThrow:
			v := pop()
			f.SetThrow(cur, v)

		case bytecode.OpNewObject:
			push(f.EmitValue(cur, OpNewObject, TypeObject))
		case bytecode.OpNewArray:
			count := int(instr.Operands[0])
			elems := make([]Value, count)
			for k := count - 1; k >= 0; k-- {
				elems[k] = pop()
			}
			push(f.EmitValue(cur, OpNewArray, TypeArray, elems...))
		case bytecode.OpSpread:
			// Spread-argument expansion is resolved by the call/array
			// builder that consumes this value, not by OpSpread itself;
			// here it is just an explicit marker around the iterable.
			v := pop()
			m := f.EmitValue(cur, OpMove, TypeUnknown, v)
			cur.Instrs[len(cur.Instrs)-1].Aux = 1
			push(m)

		case bytecode.OpTypeOf:
			unop(OpTypeOf)
		case bytecode.OpInstanceOf:
			binop(OpInstanceOf)
		case bytecode.OpIn:
			binop(OpIn)

		default:
			return nil, fmt.Errorf("ir: lower: unhandled bytecode opcode %s at offset %d", instr.Op, i)
		}
	}

	if cur != nil && cur.Terminator() == nil {
		f.SetReturn(cur, ValueInvalid)
	}

	for _, b := range f.Blocks {
		if !b.sealed {
			bld.SealBlock(b)
		}
	}

	return f, nil
}

func lowerConst(f *Function, b *BasicBlock, c bytecode.Const) Value {
	switch c.Kind {
	case bytecode.ConstUndefined:
		return f.EmitConst(b, ConstUndefined, 0, "", TypeUndefined)
	case bytecode.ConstNull:
		return f.EmitConst(b, ConstNull, 0, "", TypeNull)
	case bytecode.ConstBool:
		n := float64(0)
		if c.Bool {
			n = 1
		}
		return f.EmitConst(b, ConstBoolean, n, "", TypeBoolean)
	case bytecode.ConstNumber:
		return f.EmitConst(b, ConstNumber, c.Number, "", TypeFloat64)
	case bytecode.ConstString:
		return f.EmitConst(b, ConstString, 0, c.String, TypeString)
	case bytecode.ConstFunctionRef:
		// A function reference materializes as a capture-free closure.
		v := f.EmitValue(b, OpNewClosure, TypeFunction)
		b.Instrs[len(b.Instrs)-1].Aux = c.FunctionIndex
		return v
	default:
		// Object and regexp templates have no IR value form and lower to
		// undefined, as the interpreter's PushConst also does.
		return f.EmitConst(b, ConstUndefined, 0, "", TypeUnknown)
	}
}
