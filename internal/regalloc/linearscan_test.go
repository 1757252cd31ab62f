package regalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/ir"
	"github.com/tieredvm/corejit/internal/regalloc"
)

func vid(v ir.Value) regalloc.VRegID { return regalloc.VRegID(v.ID()) }

func TestAllocateFunction_AmplePoolAssignsEveryValue(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeInt32)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeInt32)
	c := f.EmitValue(entry, ir.OpAddInt, ir.TypeInt32, a, b)
	f.SetReturn(entry, c)

	regs := regalloc.RegisterSet{}
	regs.Pool[regalloc.RegTypeInt] = []regalloc.RealReg{1, 2, 3, 4}

	alloc := regalloc.AllocateFunction(f, regs)
	require.Equal(t, 0, alloc.Slots.Count(), "plenty of registers, nothing should spill")

	for _, v := range []ir.Value{a, b, c} {
		_, ok := alloc.RealReg(regalloc.VReg(vid(v)).SetRegType(regalloc.RegTypeInt))
		require.True(t, ok, "%v should have landed in a register", v)
	}
}

func TestAllocateFunction_SpillsWhenPoolTooSmall(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeInt32)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeInt32)
	c := f.EmitValue(entry, ir.OpAddInt, ir.TypeInt32, a, b)
	d := f.EmitConst(entry, ir.ConstNumber, 3, "", ir.TypeInt32)
	e := f.EmitValue(entry, ir.OpAddInt, ir.TypeInt32, c, d)
	f.SetReturn(entry, e)

	regs := regalloc.RegisterSet{}
	regs.Pool[regalloc.RegTypeInt] = []regalloc.RealReg{1}
	regs.Scratch[regalloc.RegTypeInt] = []regalloc.RealReg{2, 3}

	alloc := regalloc.AllocateFunction(f, regs)
	require.Greater(t, alloc.Slots.Count(), 0, "a single register can't hold a+b live at once")

	var stores, reloads int
	for _, instr := range entry.Instrs {
		switch instr.Op {
		case ir.OpSpillStore:
			stores++
		case ir.OpSpillReload:
			reloads++
		}
	}
	require.Greater(t, stores, 0)
	require.Greater(t, reloads, 0)
}

func TestAllocateFunction_SeparatesRegisterClasses(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	i := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeInt32)
	fl := f.EmitConst(entry, ir.ConstNumber, 1.5, "", ir.TypeFloat64)
	f.SetReturn(entry, i)

	regs := regalloc.RegisterSet{}
	regs.Pool[regalloc.RegTypeInt] = []regalloc.RealReg{1}
	regs.Pool[regalloc.RegTypeFloat] = []regalloc.RealReg{1}

	alloc := regalloc.AllocateFunction(f, regs)
	intReg, ok := alloc.RealReg(regalloc.VReg(vid(i)).SetRegType(regalloc.RegTypeInt))
	require.True(t, ok)
	floatReg, ok := alloc.RealReg(regalloc.VReg(vid(fl)).SetRegType(regalloc.RegTypeFloat))
	require.True(t, ok)
	require.Equal(t, regalloc.RealReg(1), intReg)
	require.Equal(t, regalloc.RealReg(1), floatReg, "sharing the physical index 1 across classes is fine, they're disjoint register files")
}
