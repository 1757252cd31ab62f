package interp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/bytecode"
	"github.com/tieredvm/corejit/internal/gc"
	"github.com/tieredvm/corejit/internal/interp"
	"github.com/tieredvm/corejit/internal/profiler"
)

func newEnv(t *testing.T, module *bytecode.Module) *interp.Env {
	t.Helper()
	h := gc.New(gc.DefaultConfig())
	t.Cleanup(h.Close)
	return interp.NewEnv(module, h, profiler.NewRegistry(), nil)
}

// buildFunction emits instr (already stack-depth-balanced via delta) into a
// fresh Function appended to m, and validates it, mirroring
// internal/tier/tier_test.go's buildAddModule helper.
func buildFunction(t *testing.T, m *bytecode.Module, name string, arity, numLocals uint32, emit func(e *bytecode.Emitter)) *bytecode.Function {
	t.Helper()
	fn := &bytecode.Function{Name: name, Arity: arity, NumLocals: numLocals}
	e := bytecode.NewEmitter(fn)
	emit(e)
	require.NoError(t, e.Finish())
	require.NoError(t, bytecode.Validate(fn))
	m.AddFunction(fn)
	return fn
}

func TestRun_AddsTwoConstants(t *testing.T) {
	m := bytecode.NewModule()
	fn := buildFunction(t, m, "main", 0, 0, func(e *bytecode.Emitter) {
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(1)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(2)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpAdd), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	})

	env := newEnv(t, m)
	v, err := interp.Run(env, fn, nil)
	require.NoError(t, err)
	require.Equal(t, interp.Number, v.Kind())
	require.Equal(t, float64(3), v.NumberValue())
}

func TestRun_LocalsAndArgsRoundTrip(t *testing.T) {
	m := bytecode.NewModule()
	fn := buildFunction(t, m, "id", 1, 1, func(e *bytecode.Emitter) {
		e.Emit(bytecode.NewInstruction(bytecode.OpGetArg, 0), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpSetLocal, 0), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 0), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	})

	env := newEnv(t, m)
	v, err := interp.Run(env, fn, []interp.Value{interp.Str("hello")})
	require.NoError(t, err)
	require.Equal(t, "hello", v.StringValue())
}

func TestRun_LoopSumsToTen(t *testing.T) {
	m := bytecode.NewModule()
	fn := buildFunction(t, m, "sum", 0, 2, func(e *bytecode.Emitter) {
		head := e.NewLabel()
		done := e.NewLabel()

		// local0 = 0 (sum); local1 = 0 (i)
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(0)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpSetLocal, 0), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(0)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpSetLocal, 1), -1)

		e.DefineLabel(head)
		// if i >= 5 jump done
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 1), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(5)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGtEq), -1)
		e.EmitJump(bytecode.OpJumpIfTrue, done, -1)

		// sum = sum + i; i = i + 1
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 0), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 1), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpAdd), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpSetLocal, 0), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 1), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(1)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpAdd), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpSetLocal, 1), -1)
		e.EmitJump(bytecode.OpJump, head, 0)

		e.DefineLabel(done)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 0), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	})

	env := newEnv(t, m)
	v, err := interp.Run(env, fn, nil)
	require.NoError(t, err)
	require.Equal(t, float64(0+1+2+3+4), v.NumberValue())
}

func TestRun_ObjectPropertyRoundTrip(t *testing.T) {
	m := bytecode.NewModule()
	name := m.Strings.Intern("x")
	fn := buildFunction(t, m, "main", 0, 1, func(e *bytecode.Emitter) {
		e.Emit(bytecode.NewInstruction(bytecode.OpNewObject), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpSetLocal, 0), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 0), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(42)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpSetProp, name), -2)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 0), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetProp, name), 0)
		e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	})

	env := newEnv(t, m)
	v, err := interp.Run(env, fn, nil)
	require.NoError(t, err)
	require.Equal(t, float64(42), v.NumberValue())
}

func TestRun_ArrayElementRoundTrip(t *testing.T) {
	m := bytecode.NewModule()
	fn := buildFunction(t, m, "main", 0, 1, func(e *bytecode.Emitter) {
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(7)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpNewArray, 1), 0)
		e.Emit(bytecode.NewInstruction(bytecode.OpSetLocal, 0), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 0), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(0)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetElem), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	})

	env := newEnv(t, m)
	v, err := interp.Run(env, fn, nil)
	require.NoError(t, err)
	require.Equal(t, float64(7), v.NumberValue())
}

func TestRun_CallInvokesCallee(t *testing.T) {
	m := bytecode.NewModule()
	callee := buildFunction(t, m, "double", 1, 0, func(e *bytecode.Emitter) {
		e.Emit(bytecode.NewInstruction(bytecode.OpGetArg, 0), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetArg, 0), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpAdd), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	})
	caller := buildFunction(t, m, "main", 0, 0, func(e *bytecode.Emitter) {
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.Add(bytecode.Const{Kind: bytecode.ConstFunctionRef, FunctionIndex: callee.ID})), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(21)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpCall, 1), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	})

	env := newEnv(t, m)
	v, err := interp.Run(env, caller, nil)
	require.NoError(t, err)
	require.Equal(t, float64(42), v.NumberValue())
}

func TestRun_TryCatchHandlesThrow(t *testing.T) {
	m := bytecode.NewModule()
	fn := buildFunction(t, m, "main", 0, 1, func(e *bytecode.Emitter) {
		done := e.NewLabel()

		idx := e.EnterTry(0)
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(13)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpThrow), -1)
		e.LeaveTry(idx, e.Offset(), 0, false)

		// catch: local0 = caught value
		e.Emit(bytecode.NewInstruction(bytecode.OpGetLocal, 0), 1)
		e.EmitJump(bytecode.OpJump, done, 0)

		e.DefineLabel(done)
		e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	})

	env := newEnv(t, m)
	v, err := interp.Run(env, fn, nil)
	require.NoError(t, err)
	require.Equal(t, float64(13), v.NumberValue())
}

func TestRun_UncaughtThrowPropagatesAsError(t *testing.T) {
	m := bytecode.NewModule()
	fn := buildFunction(t, m, "main", 0, 0, func(e *bytecode.Emitter) {
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(1)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpThrow), -1)
	})

	env := newEnv(t, m)
	_, err := interp.Run(env, fn, nil)
	require.Error(t, err)
}

func TestRun_GlobalsRoundTripThroughEnv(t *testing.T) {
	m := bytecode.NewModule()
	name := m.Strings.Intern("g")
	fn := buildFunction(t, m, "main", 0, 0, func(e *bytecode.Emitter) {
		e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(9)), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpSetGlobal, name), -1)
		e.Emit(bytecode.NewInstruction(bytecode.OpGetGlobal, name), 1)
		e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	})

	env := newEnv(t, m)
	v, err := interp.Run(env, fn, nil)
	require.NoError(t, err)
	require.Equal(t, float64(9), v.NumberValue())
	require.Equal(t, float64(9), env.GetGlobal("g").NumberValue())
}

func TestSameValueZero_NaNEqualsNaNAndZeroSignIgnored(t *testing.T) {
	nan := interp.Num(nanValue())
	require.True(t, interp.SameValueZero(nan, nan))
	require.True(t, interp.SameValueZero(interp.Num(0), interp.Num(negZero())))
}

func nanValue() float64 {
	var z float64
	return z / z
}

func negZero() float64 {
	var z float64
	return -z
}
