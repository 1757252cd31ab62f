package interp

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/tieredvm/corejit/internal/bytecode"
	"github.com/tieredvm/corejit/internal/gc"
	"github.com/tieredvm/corejit/internal/profiler"
	"github.com/tieredvm/corejit/internal/tier"
)

// Env is the state one loaded module's interpreter shares with the tier
// controller and the realm's heap: the global object table, and the
// collaborators every call/loop/allocation reports back to (spec.md §5,
// §4.2, §4.5).
type Env struct {
	Module   *bytecode.Module
	Heap     *gc.Heap
	Profiles *profiler.Registry
	Tier     *tier.Controller

	mu      sync.RWMutex
	globals map[string]Value
}

func NewEnv(module *bytecode.Module, heap *gc.Heap, profiles *profiler.Registry, t *tier.Controller) *Env {
	return &Env{Module: module, Heap: heap, Profiles: profiles, Tier: t, globals: make(map[string]Value)}
}

func (e *Env) SetGlobal(name string, v Value) {
	e.mu.Lock()
	e.globals[name] = v
	e.mu.Unlock()
}

func (e *Env) GetGlobal(name string) Value {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.globals[name]
	if !ok {
		return UndefinedValue()
	}
	return v
}

// thrown carries a JS exception value up through nested Run calls until a
// handler in an enclosing call frame's own function claims it, or it
// escapes to the caller of engine_eval as an Error (spec.md §7).
type thrown struct{ v Value }

func (t *thrown) Error() string { return "uncaught exception: " + t.v.ToStringValue() }

// Run interprets fn from its entry with args bound to its argument slots,
// per spec.md §4.2's tier-0 semantics: every call and every loop back-edge
// reports to env.Tier so the real promotion/OSR/deopt machinery in
// internal/tier runs from genuine execution traffic, and every allocation
// goes through env.Heap (spec.md §3.5 "every allocation goes through it").
//
// Compiled artifacts a higher tier produces are never invoked here: no
// calling-convention trampoline between this core's internal ABI and the
// machine code internal/backend/{amd64,arm64,riscv} emits exists anywhere
// in this repo (none of the tier/codecache tests invoke generated code
// either -- they only assert on the published Artifact), so Run always
// executes fn's bytecode directly and only *consults* env.Tier for
// promotion bookkeeping and introspection (engine_stats' `.jit` counters).
// Documented here rather than silently pretending tiered dispatch is wired
// end-to-end.
func Run(env *Env, fn *bytecode.Function, args []Value) (Value, error) {
	env.Heap.ResumeMutator()
	defer env.Heap.ReachSafepoint()

	if env.Tier != nil {
		env.Tier.OnCall(fn.ID) // records the execution in the profiler itself
	} else if prof := env.Profiles.Get(fn.ID); prof != nil {
		prof.RecordExecution()
	}

	f := &frame{env: env, fn: fn, locals: make([]Value, fn.NumLocals)}
	f.args = make([]Value, len(args))
	copy(f.args, args)
	for i := range f.locals {
		f.locals[i] = UndefinedValue()
	}

	return f.run()
}

type frame struct {
	env    *Env
	fn     *bytecode.Function
	locals []Value
	args   []Value
	stack  []Value
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() Value {
	n := len(f.stack)
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v
}

func (f *frame) run() (Value, error) {
	ip := 0
	instrs := f.fn.Instructions

	for ip < len(instrs) {
		instr := instrs[ip]
		next := ip + 1

		switch instr.Op {
		case bytecode.OpNop:

		case bytecode.OpPop:
			f.pop()
		case bytecode.OpDup:
			v := f.pop()
			f.push(v)
			f.push(v)
		case bytecode.OpSwap:
			b, a := f.pop(), f.pop()
			f.push(b)
			f.push(a)

		case bytecode.OpPushConst:
			f.push(f.constValue(instr.Operands[0]))
		case bytecode.OpPushUndefined:
			f.push(UndefinedValue())
		case bytecode.OpPushNull:
			f.push(NullValue())
		case bytecode.OpPushTrue:
			f.push(Bool(true))
		case bytecode.OpPushFalse:
			f.push(Bool(false))

		case bytecode.OpGetLocal:
			f.push(f.locals[instr.Operands[0]])
		case bytecode.OpSetLocal:
			f.locals[instr.Operands[0]] = f.pop()
		case bytecode.OpGetArg:
			idx := instr.Operands[0]
			if int(idx) < len(f.args) {
				f.push(f.args[idx])
			} else {
				f.push(UndefinedValue())
			}
		case bytecode.OpGetGlobal:
			f.push(f.env.GetGlobal(f.env.Module.Strings.Get(instr.Operands[0])))
		case bytecode.OpSetGlobal:
			f.env.SetGlobal(f.env.Module.Strings.Get(instr.Operands[0]), f.pop())
		case bytecode.OpGetThis:
			f.push(UndefinedValue()) // no receiver binding without a call-site `this` (out of scope).

		case bytecode.OpGetProp:
			obj := f.pop()
			name := f.env.Module.Strings.Get(instr.Operands[0])
			f.push(propGet(obj, name))
		case bytecode.OpSetProp:
			val := f.pop()
			obj := f.pop()
			name := f.env.Module.Strings.Get(instr.Operands[0])
			f.propSet(obj, name, val)
		case bytecode.OpDeleteProp:
			obj := f.pop()
			name := f.env.Module.Strings.Get(instr.Operands[0])
			if obj.Kind() == Object && obj.ObjValue() != nil {
				obj.ObjValue().Delete(name)
			}
			f.push(Bool(true))

		case bytecode.OpGetElem:
			key := f.pop()
			obj := f.pop()
			f.push(elemGet(obj, key))
		case bytecode.OpSetElem:
			val := f.pop()
			key := f.pop()
			obj := f.pop()
			f.elemSet(obj, key, val)
		case bytecode.OpDeleteElem:
			f.pop()
			f.pop()
			f.push(Bool(true))

		case bytecode.OpAdd:
			b, a := f.pop(), f.pop()
			if a.Kind() == String || b.Kind() == String {
				f.push(Str(a.ToStringValue() + b.ToStringValue()))
			} else {
				f.push(Num(a.ToNumber() + b.ToNumber()))
			}
		case bytecode.OpSub:
			b, a := f.pop(), f.pop()
			f.push(Num(a.ToNumber() - b.ToNumber()))
		case bytecode.OpMul:
			b, a := f.pop(), f.pop()
			f.push(Num(a.ToNumber() * b.ToNumber()))
		case bytecode.OpDiv:
			b, a := f.pop(), f.pop()
			f.push(Num(a.ToNumber() / b.ToNumber()))
		case bytecode.OpMod:
			b, a := f.pop(), f.pop()
			f.push(Num(mod(a.ToNumber(), b.ToNumber())))
		case bytecode.OpNeg:
			f.push(Num(-f.pop().ToNumber()))
		case bytecode.OpInc:
			f.push(Num(f.pop().ToNumber() + 1))
		case bytecode.OpDec:
			f.push(Num(f.pop().ToNumber() - 1))

		case bytecode.OpBitAnd:
			b, a := f.pop(), f.pop()
			f.push(Num(float64(int32(a.ToNumber()) & int32(b.ToNumber()))))
		case bytecode.OpBitOr:
			b, a := f.pop(), f.pop()
			f.push(Num(float64(int32(a.ToNumber()) | int32(b.ToNumber()))))
		case bytecode.OpBitXor:
			b, a := f.pop(), f.pop()
			f.push(Num(float64(int32(a.ToNumber()) ^ int32(b.ToNumber()))))
		case bytecode.OpBitNot:
			f.push(Num(float64(^int32(f.pop().ToNumber()))))
		case bytecode.OpShl:
			b, a := f.pop(), f.pop()
			f.push(Num(float64(int32(a.ToNumber()) << (uint32(b.ToNumber()) & 31))))
		case bytecode.OpShr:
			b, a := f.pop(), f.pop()
			f.push(Num(float64(int32(a.ToNumber()) >> (uint32(b.ToNumber()) & 31))))
		case bytecode.OpUShr:
			b, a := f.pop(), f.pop()
			f.push(Num(float64(uint32(a.ToNumber()) >> (uint32(b.ToNumber()) & 31))))

		case bytecode.OpNot:
			f.push(Bool(!f.pop().ToBoolean()))
		case bytecode.OpLogicalAnd:
			b, a := f.pop(), f.pop()
			if !a.ToBoolean() {
				f.push(a)
			} else {
				f.push(b)
			}
		case bytecode.OpLogicalOr:
			b, a := f.pop(), f.pop()
			if a.ToBoolean() {
				f.push(a)
			} else {
				f.push(b)
			}

		case bytecode.OpEq:
			b, a := f.pop(), f.pop()
			f.push(Bool(looseEquals(a, b)))
		case bytecode.OpNotEq:
			b, a := f.pop(), f.pop()
			f.push(Bool(!looseEquals(a, b)))
		case bytecode.OpStrictEq:
			b, a := f.pop(), f.pop()
			f.push(Bool(SameValueZero(a, b)))
		case bytecode.OpStrictNotEq:
			b, a := f.pop(), f.pop()
			f.push(Bool(!SameValueZero(a, b)))
		case bytecode.OpLt:
			b, a := f.pop(), f.pop()
			f.push(Bool(a.ToNumber() < b.ToNumber()))
		case bytecode.OpLtEq:
			b, a := f.pop(), f.pop()
			f.push(Bool(a.ToNumber() <= b.ToNumber()))
		case bytecode.OpGt:
			b, a := f.pop(), f.pop()
			f.push(Bool(a.ToNumber() > b.ToNumber()))
		case bytecode.OpGtEq:
			b, a := f.pop(), f.pop()
			f.push(Bool(a.ToNumber() >= b.ToNumber()))

		case bytecode.OpJump:
			next = int(instr.Operands[0])
			f.reportBackedge(ip, next)
		case bytecode.OpJumpIfTrue:
			target := int(instr.Operands[0])
			if f.pop().ToBoolean() {
				next = target
				f.reportBackedge(ip, next)
			}
		case bytecode.OpJumpIfFalse:
			target := int(instr.Operands[0])
			if !f.pop().ToBoolean() {
				next = target
				f.reportBackedge(ip, next)
			}

		case bytecode.OpCall:
			argc := int(instr.Operands[0])
			callArgs := make([]Value, argc)
			for i := argc - 1; i >= 0; i-- {
				callArgs[i] = f.pop()
			}
			callee := f.pop()
			ret, err := f.call(callee, callArgs)
			if err != nil {
				if resumeAt, ok := f.catch(ip, err); ok {
					next = resumeAt
				} else {
					return Value{}, err
				}
			} else {
				f.push(ret)
			}
		case bytecode.OpCallMethod:
			// operand0: argument count. operand1: string-table index of the
			// method name.
			argc := int(instr.Operands[0])
			callArgs := make([]Value, argc)
			for i := argc - 1; i >= 0; i-- {
				callArgs[i] = f.pop()
			}
			name := f.env.Module.Strings.Get(instr.Operands[1])
			recv := f.pop()
			callee := propGet(recv, name)
			ret, err := f.call(callee, callArgs)
			if err != nil {
				if resumeAt, ok := f.catch(ip, err); ok {
					next = resumeAt
				} else {
					return Value{}, err
				}
			} else {
				f.push(ret)
			}
		case bytecode.OpNewClosure:
			// Upvalue capture needs a closure-environment representation
			// this core's scope doesn't define (built-in prototypes and
			// the AST/scoping surface are out of scope, spec.md §1); a
			// closure is represented here as a bare reference to its
			// function index, callable but without captured bindings.
			f.push(FuncRef(instr.Operands[0]))
		case bytecode.OpReturn:
			if len(f.stack) == 0 {
				return UndefinedValue(), nil
			}
			return f.pop(), nil
		case bytecode.OpThrow:
			v := f.pop()
			if resumeAt, ok := f.catch(ip, &thrown{v: v}); ok {
				next = resumeAt
			} else {
				return Value{}, &thrown{v: v}
			}

		case bytecode.OpTryEnter, bytecode.OpTryLeave:
			// Handler ranges are already resolved by offset in
			// fn.Handlers; entering/leaving a try block needs no runtime
			// bookkeeping beyond what OpThrow's HandlerFor lookup already
			// does.

		case bytecode.OpNewObject:
			o := NewObj()
			f.env.Heap.Allocate(o, unsafe.Sizeof(*o))
			f.push(ObjRef(o))
		case bytecode.OpNewArray:
			n := int(instr.Operands[0])
			elems := make([]Value, n)
			for i := n - 1; i >= 0; i-- {
				elems[i] = f.pop()
			}
			o := NewArray(elems)
			f.env.Heap.Allocate(o, unsafe.Sizeof(*o))
			f.push(ObjRef(o))
		case bytecode.OpSpread:
			// Spreading an iterable into the enclosing array/call needs an
			// iterator protocol this core doesn't implement (built-ins are
			// out of scope); left as a structural pass-through.

		case bytecode.OpTypeOf:
			f.push(Str(f.pop().Kind().String()))
		case bytecode.OpInstanceOf:
			b, a := f.pop(), f.pop()
			f.push(Bool(a.Kind() == Object && b.Kind() == Function))
		case bytecode.OpIn:
			key, obj := f.pop(), f.pop()
			found := false
			if obj.Kind() == Object && obj.ObjValue() != nil {
				found = obj.ObjValue().Get(key.ToStringValue()).Kind() != Undefined
			}
			f.push(Bool(found))

		default:
			return Value{}, fmt.Errorf("interp: unhandled opcode %s at offset %d", instr.Op, ip)
		}

		ip = next
	}
	return UndefinedValue(), nil
}

// reportBackedge notifies the tier controller of a loop back-edge: target
// <= ip identifies target as a loop header (spec.md §4.2 OSR).
func (f *frame) reportBackedge(ip, target int) {
	if target <= ip && f.env.Tier != nil {
		f.env.Tier.OnBackedge(f.fn.ID, uint32(target))
	}
}

// call dispatches to another function by Value: Function values carry a
// funcID into the same module (spec.md §1's closure scope, see OpNewClosure
// above).
func (f *frame) call(callee Value, args []Value) (Value, error) {
	if callee.Kind() != Function {
		return Value{}, fmt.Errorf("interp: call target is not a function (got %s)", callee.Kind())
	}
	funcID := callee.FuncID()
	if int(funcID) >= len(f.env.Module.Functions) {
		return Value{}, fmt.Errorf("interp: call to undefined function %d", funcID)
	}
	return Run(f.env, f.env.Module.Functions[funcID], args)
}

// catch looks for a handler in *this* frame's function that covers the
// instruction that produced err (either a direct OpThrow at ip, or the
// OpCall/OpCallMethod at ip whose callee threw). It is deliberately scoped
// to this frame only: an error that isn't covered here propagates to the
// Go caller of Run, which is this function's own caller frame re-entering
// its own catch check at its own call site, exactly mirroring how a real
// unwinder walks frames outward.
func (f *frame) catch(ip int, err error) (int, bool) {
	t, ok := err.(*thrown)
	if !ok {
		return 0, false
	}
	h, ok := f.fn.HandlerFor(uint32(ip))
	if !ok {
		return 0, false
	}
	// The handler's catch block starts with an empty operand stack
	// (bytecode.ComputeDepths assumes depthAt[CatchOffset] == 0): the caught value
	// is delivered through the local slot, never pushed.
	if int(h.CatchVarIndex) < len(f.locals) {
		f.locals[h.CatchVarIndex] = t.v
	}
	f.stack = f.stack[:0]
	return int(h.CatchOffset), true
}

func (f *frame) constValue(idx uint32) Value {
	c := f.env.Module.Consts.Get(idx)
	switch c.Kind {
	case bytecode.ConstUndefined:
		return UndefinedValue()
	case bytecode.ConstNull:
		return NullValue()
	case bytecode.ConstBool:
		return Bool(c.Bool)
	case bytecode.ConstNumber:
		return Num(c.Number)
	case bytecode.ConstString:
		return Str(c.String)
	case bytecode.ConstFunctionRef:
		return FuncRef(c.FunctionIndex)
	default:
		return UndefinedValue()
	}
}

func propGet(obj Value, name string) Value {
	if obj.Kind() == Object && obj.ObjValue() != nil {
		return obj.ObjValue().Get(name)
	}
	return UndefinedValue()
}

func (f *frame) propSet(obj Value, name string, val Value) {
	if obj.Kind() != Object || obj.ObjValue() == nil {
		return
	}
	o := obj.ObjValue()
	o.Set(name, val)
	if (val.Kind() == Object || val.Kind() == Function) && val.ObjValue() != nil {
		f.env.Heap.WriteBarrier(o, val.ObjValue())
	}
}

func elemGet(obj, key Value) Value {
	if obj.Kind() != Object || obj.ObjValue() == nil {
		return UndefinedValue()
	}
	if i, ok := asIndex(key); ok {
		return obj.ObjValue().GetElem(i)
	}
	return obj.ObjValue().Get(key.ToStringValue())
}

func (f *frame) elemSet(obj, key, val Value) {
	if obj.Kind() != Object || obj.ObjValue() == nil {
		return
	}
	o := obj.ObjValue()
	if i, ok := asIndex(key); ok {
		o.SetElem(i, val)
	} else {
		o.Set(key.ToStringValue(), val)
	}
	if (val.Kind() == Object || val.Kind() == Function) && val.ObjValue() != nil {
		f.env.Heap.WriteBarrier(o, val.ObjValue())
	}
}

func asIndex(key Value) (int, bool) {
	if key.Kind() != Number {
		return 0, false
	}
	n := key.NumberValue()
	if n < 0 || n != float64(int(n)) {
		return 0, false
	}
	return int(n), true
}

func looseEquals(a, b Value) bool {
	if a.Kind() == b.Kind() {
		return SameValueZero(a, b)
	}
	// Cross-kind coercion beyond number<->string is out of scope (no
	// built-in ToPrimitive); numeric/string operands still coerce through
	// ToNumber so `1 == "1"` behaves as expected.
	if (a.Kind() == Number || a.Kind() == String) && (b.Kind() == Number || b.Kind() == String) {
		return a.ToNumber() == b.ToNumber()
	}
	return false
}

func mod(a, b float64) float64 {
	if b == 0 {
		return nan()
	}
	m := a - b*float64(int64(a/b))
	return m
}

func nan() float64 {
	var z float64
	return z / z
}
