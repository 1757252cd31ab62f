package bytecode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/bytecode"
)

// Scenario A from spec.md §8: PushConst 5; PushConst 10; Add; Return folds
// to a single constant feeding Return.
func TestRunPeephole_ConstantFolding(t *testing.T) {
	pool := &bytecode.ConstPool{}
	five := pool.AddNumber(5)
	ten := pool.AddNumber(10)

	fn := &bytecode.Function{Name: "add5and10"}
	e := bytecode.NewEmitter(fn)
	e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, five), 1)
	e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, ten), 1)
	e.Emit(bytecode.NewInstruction(bytecode.OpAdd), -1)
	e.Emit(bytecode.NewInstruction(bytecode.OpReturn), 0)
	require.NoError(t, e.Finish())
	require.NoError(t, bytecode.Validate(fn))

	changed := bytecode.RunPeephole(fn, bytecode.OptPeephole, pool)
	require.True(t, changed)

	require.Len(t, fn.Instructions, 2)
	require.Equal(t, bytecode.OpPushConst, fn.Instructions[0].Op)
	folded := pool.Get(fn.Instructions[0].Operands[0])
	require.Equal(t, bytecode.ConstNumber, folded.Kind)
	require.Equal(t, 15.0, folded.Number)
	require.Equal(t, bytecode.OpReturn, fn.Instructions[1].Op)
}

func TestEmitter_PendingJumpsMustResolve(t *testing.T) {
	fn := &bytecode.Function{Name: "bad"}
	e := bytecode.NewEmitter(fn)
	l := e.NewLabel()
	e.EmitJump(bytecode.OpJump, l, 0)
	require.Error(t, e.Finish())
}

func TestEmitter_LabelPatchedAfterForwardJump(t *testing.T) {
	fn := &bytecode.Function{Name: "fwd"}
	e := bytecode.NewEmitter(fn)
	l := e.NewLabel()
	jmp := e.EmitJump(bytecode.OpJump, l, 0)
	e.Emit(bytecode.NewInstruction(bytecode.OpPop), 0)
	e.DefineLabel(l)
	e.Emit(bytecode.NewInstruction(bytecode.OpReturn), 0)
	require.NoError(t, e.Finish())

	require.Equal(t, uint32(2), fn.Instructions[jmp].Operands[0])
}

func TestShortenJumpChains(t *testing.T) {
	fn := &bytecode.Function{
		Instructions: []bytecode.Instruction{
			bytecode.NewInstruction(bytecode.OpJump, 1),
			bytecode.NewInstruction(bytecode.OpJump, 2),
			bytecode.NewInstruction(bytecode.OpReturn),
		},
	}
	pool := &bytecode.ConstPool{}
	changed := bytecode.RunPeephole(fn, bytecode.OptPeephole, pool)
	require.True(t, changed)
	// The chain 0->1->2 is shortened to 0->2; DCE then drops the now
	// unreachable instruction 1, so the Return moves to index 1.
	require.Equal(t, uint32(1), fn.Instructions[0].Operands[0])
}

func TestValidate_StackDepthSingleValued(t *testing.T) {
	// A function whose two paths into the same join point push a
	// different number of values is invalid per spec.md §3.2/§8 invariant 2.
	fn := &bytecode.Function{
		Instructions: []bytecode.Instruction{
			bytecode.NewInstruction(bytecode.OpPushTrue),                // 0: depth 0->1
			bytecode.NewInstruction(bytecode.OpJumpIfFalse, 4),          // 1: depth 1->0, branch to 4 at depth 0
			bytecode.NewInstruction(bytecode.OpPushUndefined),           // 2: depth 0->1
			bytecode.NewInstruction(bytecode.OpPushUndefined),           // 3: depth 1->2, falls into 4 at depth 2
			bytecode.NewInstruction(bytecode.OpReturn),                  // 4: join point, ambiguous depth
		},
	}
	require.Error(t, bytecode.Validate(fn))
}
