package amd64_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/backend/amd64"
	"github.com/tieredvm/corejit/internal/backend/common"
	"github.com/tieredvm/corejit/internal/ir"
	"github.com/tieredvm/corejit/internal/regalloc"
)

func TestEmitFunction_AddReturnsValidPrologueAndRet(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeInt32)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeInt32)
	c := f.EmitValue(entry, ir.OpAddInt, ir.TypeInt32, a, b)
	f.SetReturn(entry, c)

	alloc := regalloc.AllocateFunction(f, amd64.AllocatablePool())
	frame := common.Frame{SpillBase: -8, SlotCount: alloc.Slots.Count()}

	code, meta, err := amd64.EmitFunction(f, alloc, frame)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.Equal(t, byte(0xC3), code[len(code)-1], "function must end in ret")
	require.Equal(t, 0, meta.SpillSlotCount, "three values easily fit the allocatable pool")
}

func TestEmitFunction_SpillingStillProducesValidCode(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	pool := amd64.AllocatablePool()
	pool.Pool[regalloc.RegTypeInt] = pool.Pool[regalloc.RegTypeInt][:1]

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeInt32)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeInt32)
	c := f.EmitValue(entry, ir.OpAddInt, ir.TypeInt32, a, b)
	d := f.EmitConst(entry, ir.ConstNumber, 3, "", ir.TypeInt32)
	e := f.EmitValue(entry, ir.OpAddInt, ir.TypeInt32, c, d)
	f.SetReturn(entry, e)

	alloc := regalloc.AllocateFunction(f, pool)
	require.Greater(t, alloc.Slots.Count(), 0)

	frame := common.Frame{SpillBase: -8, SlotCount: alloc.Slots.Count()}
	code, meta, err := amd64.EmitFunction(f, alloc, frame)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.Greater(t, meta.FrameSize, 0)
}
