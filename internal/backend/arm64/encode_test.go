package arm64_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/backend/arm64"
	"github.com/tieredvm/corejit/internal/backend/common"
	"github.com/tieredvm/corejit/internal/ir"
	"github.com/tieredvm/corejit/internal/regalloc"
)

func TestEmitFunction_AddReturnsRet(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeInt32)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeInt32)
	c := f.EmitValue(entry, ir.OpAddInt, ir.TypeInt32, a, b)
	f.SetReturn(entry, c)

	alloc := regalloc.AllocateFunction(f, arm64.AllocatablePool())
	frame := common.Frame{SpillBase: -8, SlotCount: alloc.Slots.Count()}

	code, _, err := arm64.EmitFunction(f, alloc, frame)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.Len(t, code, len(code)/4*4, "every arm64 instruction is exactly 4 bytes")
}

func TestEmitFunction_BranchResolvesBothTargets(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	thenBlk := f.NewBlock()
	elseBlk := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeInt32)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeInt32)
	cond := f.EmitValue(entry, ir.OpLtInt, ir.TypeBoolean, a, b)
	f.SetBranch(entry, cond, thenBlk, nil, elseBlk, nil)
	f.SetReturn(thenBlk, a)
	f.SetReturn(elseBlk, b)

	alloc := regalloc.AllocateFunction(f, arm64.AllocatablePool())
	frame := common.Frame{SpillBase: -8, SlotCount: alloc.Slots.Count()}

	code, _, err := arm64.EmitFunction(f, alloc, frame)
	require.NoError(t, err)
	require.NotEmpty(t, code)
}
