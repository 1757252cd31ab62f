package corejit_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	corejit "github.com/tieredvm/corejit"
	"github.com/tieredvm/corejit/internal/bytecode"
	"github.com/tieredvm/corejit/internal/gc"
	"github.com/tieredvm/corejit/internal/interp"
	"github.com/tieredvm/corejit/internal/platform"
)

func newEngine(t *testing.T) *corejit.Engine {
	t.Helper()
	if !platform.CompilerSupported() {
		t.Skip("no native backend for this GOARCH")
	}
	e, err := corejit.NewEngine(nil)
	require.NoError(t, err)
	t.Cleanup(e.Drop)
	return e
}

func addModule(t *testing.T) *bytecode.Module {
	t.Helper()
	m := bytecode.NewModule()
	fn := &bytecode.Function{Name: "main"}
	em := bytecode.NewEmitter(fn)
	em.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(19)), 1)
	em.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(23)), 1)
	em.Emit(bytecode.NewInstruction(bytecode.OpAdd), -1)
	em.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	require.NoError(t, em.Finish())
	require.NoError(t, bytecode.Validate(fn))
	m.AddFunction(fn)
	m.MainIndex = fn.ID
	return m
}

func TestEval_RunsModuleMainFunction(t *testing.T) {
	e := newEngine(t)
	v, err := e.Eval(addModule(t))
	require.NoError(t, err)
	require.Equal(t, float64(42), v.NumberValue())
}

func TestLoadModule_GlobalsRoundTrip(t *testing.T) {
	e := newEngine(t)
	h, err := e.LoadModule(addModule(t))
	require.NoError(t, err)

	h.SetGlobal("answer", interp.Num(42))
	require.Equal(t, float64(42), h.GetGlobal("answer").NumberValue())
}

func TestRequestGC_DoesNotPanicWithNoModulesLoaded(t *testing.T) {
	e := newEngine(t)
	e.RequestGC(gc.Minor)
	e.RequestGC(gc.Major)
	e.RequestGC(gc.Full)
}

func TestStats_ReflectsLoadedModuleFunctions(t *testing.T) {
	e := newEngine(t)
	_, err := e.LoadModule(addModule(t))
	require.NoError(t, err)

	stats := e.Stats()
	require.Equal(t, 1, stats.JIT.FunctionsByTier[0]+stats.JIT.FunctionsByTier[1]+
		stats.JIT.FunctionsByTier[2]+stats.JIT.FunctionsByTier[3])
}

func TestNewConfig_WithersDoNotMutateReceiver(t *testing.T) {
	base := corejit.NewConfig()
	tuned := base.WithBaselineThreshold(7).WithNurserySize(1 << 10)
	require.NotSame(t, base, tuned)
	require.Equal(t, corejit.NewConfig(), base)
}
