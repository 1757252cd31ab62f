package riscv_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/backend/common"
	"github.com/tieredvm/corejit/internal/backend/riscv"
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

	alloc := regalloc.AllocateFunction(f, riscv.AllocatablePool())
	frame := common.Frame{SpillBase: -8, SlotCount: alloc.Slots.Count()}

	code, meta, err := riscv.EmitFunction(f, alloc, frame)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.Len(t, code, len(code)/4*4, "every RV64 scalar instruction is exactly 4 bytes")
	require.Equal(t, 0, meta.SpillSlotCount)
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

	alloc := regalloc.AllocateFunction(f, riscv.AllocatablePool())
	frame := common.Frame{SpillBase: -8, SlotCount: alloc.Slots.Count()}

	code, _, err := riscv.EmitFunction(f, alloc, frame)
	require.NoError(t, err)
	require.NotEmpty(t, code)
}

func TestEmitFunction_SpillingStillProducesValidCode(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	pool := riscv.AllocatablePool()
	pool.Pool[regalloc.RegTypeInt] = pool.Pool[regalloc.RegTypeInt][:1]

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeInt32)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeInt32)
	c := f.EmitValue(entry, ir.OpAddInt, ir.TypeInt32, a, b)
	d := f.EmitConst(entry, ir.ConstNumber, 3, "", ir.TypeInt32)
	e := f.EmitValue(entry, ir.OpAddInt, ir.TypeInt32, c, d)
	f.SetReturn(entry, e)

	alloc := regalloc.AllocateFunction(f, pool)
	frame := common.Frame{SpillBase: -8, SlotCount: alloc.Slots.Count()}

	_, meta, err := riscv.EmitFunction(f, alloc, frame)
	require.NoError(t, err)
	require.Greater(t, meta.FrameSize, 0)
}
