package optimizer_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/ir"
	"github.com/tieredvm/corejit/internal/optimizer"
)

type fakeOracle struct {
	kind      ir.Type
	stability float64
}

func (o fakeOracle) DominantTypeAt(uint32) (ir.Type, float64) { return o.kind, o.stability }

type fakeISA struct{ bits int }

func (f fakeISA) WidestVectorBits() int { return f.bits }

func TestConstantFold_FoldsArithmeticChain(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeFloat64)
	b := f.EmitConst(entry, ir.ConstNumber, 3, "", ir.TypeFloat64)
	sum := f.EmitValue(entry, ir.OpAdd, ir.TypeFloat64, a, b)
	f.SetReturn(entry, sum)

	changed := optimizer.ConstantFold(f, &optimizer.Context{})
	require.True(t, changed)

	sumInstr := findByResult(entry, sum)
	require.NotNil(t, sumInstr)
	require.Equal(t, ir.OpConst, sumInstr.Op)
	require.Equal(t, 5.0, sumInstr.ConstNumber)
}

func TestConstantFold_DivisionByZeroMatchesJSSemantics(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	one := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeFloat64)
	zero := f.EmitConst(entry, ir.ConstNumber, 0, "", ir.TypeFloat64)
	div := f.EmitValue(entry, ir.OpDiv, ir.TypeFloat64, one, zero)
	f.SetReturn(entry, div)

	optimizer.ConstantFold(f, &optimizer.Context{})

	divInstr := findByResult(entry, div)
	require.NotNil(t, divInstr)
	require.Equal(t, ir.OpConst, divInstr.Op)
	require.True(t, math.IsInf(divInstr.ConstNumber, 1))
}

func TestDeadCodeEliminate_DropsUnusedPureInstruction(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeFloat64)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeFloat64)
	f.EmitValue(entry, ir.OpAddFloat, ir.TypeFloat64, a, b)
	f.SetReturn(entry, a)

	changed := optimizer.DeadCodeEliminate(f, &optimizer.Context{})
	require.True(t, changed)

	for _, instr := range entry.Instrs {
		require.NotEqual(t, ir.OpAddFloat, instr.Op)
	}
}

func TestCommonSubexpressionEliminate_MergesDuplicateComputation(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeFloat64)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeFloat64)
	sum1 := f.EmitValue(entry, ir.OpAddFloat, ir.TypeFloat64, a, b)
	sum2 := f.EmitValue(entry, ir.OpAddFloat, ir.TypeFloat64, a, b)
	f.EmitEffect(entry, ir.OpStoreGlobal, sum1)
	store2 := f.EmitEffect(entry, ir.OpStoreGlobal, sum2)
	f.SetReturn(entry, ir.ValueInvalid)

	changed := optimizer.CommonSubexpressionEliminate(f, &optimizer.Context{})
	require.True(t, changed)

	count := 0
	for _, instr := range entry.Instrs {
		if instr.Op == ir.OpAddFloat {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.Equal(t, sum1, store2.Args[0], "the second store should now read the first add's result")
}

func TestTypeSpecialize_NarrowsStableIntAddWithGuards(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitValue(entry, ir.OpLoadLocal, ir.TypeUnknown)
	b := f.EmitValue(entry, ir.OpLoadLocal, ir.TypeUnknown)
	sum := f.EmitValue(entry, ir.OpAdd, ir.TypeInt32, a, b)
	findByResult(entry, sum).SourceOffset = 7
	f.SetReturn(entry, sum)

	ctx := &optimizer.Context{Profile: fakeOracle{kind: ir.TypeInt32, stability: 0.9}}
	changed := optimizer.TypeSpecialize(f, ctx)
	require.True(t, changed)

	guards, sawAddInt := 0, false
	for _, instr := range entry.Instrs {
		switch instr.Op {
		case ir.OpGuardType:
			guards++
		case ir.OpAddInt:
			sawAddInt = true
		}
	}
	require.True(t, sawAddInt)
	require.Equal(t, 2, guards)
}

func TestTypeSpecialize_SkipsBelowStabilityThreshold(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitValue(entry, ir.OpLoadLocal, ir.TypeUnknown)
	b := f.EmitValue(entry, ir.OpLoadLocal, ir.TypeUnknown)
	f.EmitValue(entry, ir.OpAdd, ir.TypeInt32, a, b)
	f.SetReturn(entry, ir.ValueInvalid)

	ctx := &optimizer.Context{Profile: fakeOracle{kind: ir.TypeInt32, stability: 0.5}}
	changed := optimizer.TypeSpecialize(f, ctx)
	require.False(t, changed)
}

func TestLICM_HoistsInvariantFromLoopBody(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	header := f.NewBlock()
	body := f.NewBlock()
	exit := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeFloat64)
	b := f.EmitConst(entry, ir.ConstNumber, 3, "", ir.TypeFloat64)
	f.SetJump(entry, header, nil)

	cond := f.EmitValue(header, ir.OpConst, ir.TypeBoolean)
	f.SetBranch(header, cond, body, nil, exit, nil)

	invariant := f.EmitValue(body, ir.OpAddFloat, ir.TypeFloat64, a, b)
	f.EmitEffect(body, ir.OpStoreGlobal, invariant)
	f.SetJump(body, header, nil)

	f.SetReturn(exit, ir.ValueInvalid)

	changed := optimizer.LICM(f, &optimizer.Context{})
	require.True(t, changed)

	hoisted := false
	for _, instr := range entry.Instrs {
		if instr.Op == ir.OpAddFloat {
			hoisted = true
		}
	}
	require.True(t, hoisted, "invariant add should have moved into the preheader")
	for _, instr := range body.Instrs {
		require.NotEqual(t, ir.OpAddFloat, instr.Op, "invariant add should no longer live in the loop body")
	}
}

func TestInstructionCombine_FusesMultiplyAddIntoFMA(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeFloat64)
	b := f.EmitConst(entry, ir.ConstNumber, 3, "", ir.TypeFloat64)
	c := f.EmitConst(entry, ir.ConstNumber, 4, "", ir.TypeFloat64)
	prod := f.EmitValue(entry, ir.OpMulFloat, ir.TypeFloat64, a, b)
	sum := f.EmitValue(entry, ir.OpAddFloat, ir.TypeFloat64, prod, c)
	f.SetReturn(entry, sum)

	changed := optimizer.InstructionCombine(f, &optimizer.Context{})
	require.True(t, changed)

	sumInstr := findByResult(entry, sum)
	require.NotNil(t, sumInstr)
	require.Equal(t, ir.OpFMA, sumInstr.Op)
	require.Equal(t, []ir.Value{a, b, c}, sumInstr.Args)
}

func TestVectorize_RewritesInductionIndexedArrayLoop(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	header := f.NewBlock()
	body := f.NewBlock()
	exit := f.NewBlock()
	f.EntryID = entry.ID()

	arrA := f.EmitValue(entry, ir.OpLoadLocal, ir.TypeArray)
	arrB := f.EmitValue(entry, ir.OpLoadLocal, ir.TypeArray)
	zero := f.EmitConst(entry, ir.ConstNumber, 0, "", ir.TypeInt32)
	f.SetJump(entry, header, []ir.Value{zero})

	i := f.AddParam(header, ir.TypeInt32)
	limit := f.EmitConst(header, ir.ConstNumber, 10, "", ir.TypeInt32)
	cond := f.EmitValue(header, ir.OpLtInt, ir.TypeBoolean, i, limit)
	f.SetBranch(header, cond, body, nil, exit, nil)

	loadA := f.EmitValue(body, ir.OpLoadElem, ir.TypeInt32, arrA, i)
	loadB := f.EmitValue(body, ir.OpLoadElem, ir.TypeInt32, arrB, i)
	sum := f.EmitValue(body, ir.OpAddInt, ir.TypeInt32, loadA, loadB)
	f.EmitEffect(body, ir.OpStoreElem, arrA, i, sum)
	one := f.EmitConst(body, ir.ConstNumber, 1, "", ir.TypeInt32)
	next := f.EmitValue(body, ir.OpAddInt, ir.TypeInt32, i, one)
	f.SetJump(body, header, []ir.Value{next})

	f.SetReturn(exit, ir.ValueInvalid)

	ctx := &optimizer.Context{VectorISA: fakeISA{bits: 256}}
	changed := optimizer.Vectorize(f, ctx)
	require.True(t, changed)

	require.Equal(t, ir.OpVecLoad, findByResult(body, loadA).Op)
	require.Equal(t, ir.OpVecLoad, findByResult(body, loadB).Op)
	require.Equal(t, ir.OpVecAdd, findByResult(body, sum).Op)
	require.Equal(t, ir.OpAddInt, findByResult(body, next).Op, "the scalar induction increment itself must not be vectorized")

	var storeOp ir.Opcode
	for _, instr := range body.Instrs {
		if instr.Op == ir.OpVecStore || (instr.Op == ir.OpStoreElem && len(instr.Args) == 3 && instr.Args[2] == sum) {
			storeOp = instr.Op
		}
	}
	require.Equal(t, ir.OpVecStore, storeOp)
}

func TestVectorize_NoOpWithoutWideVectorISA(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()
	f.SetReturn(entry, ir.ValueInvalid)

	changed := optimizer.Vectorize(f, &optimizer.Context{})
	require.False(t, changed)
}

func TestSchedule_PreservesSideEffectOrder(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 1, "", ir.TypeFloat64)
	s1 := f.EmitEffect(entry, ir.OpStoreGlobal, a)
	b := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeFloat64)
	s2 := f.EmitEffect(entry, ir.OpStoreGlobal, b)
	f.SetReturn(entry, ir.ValueInvalid)

	optimizer.Schedule(f, &optimizer.Context{})

	var stores []*ir.Instruction
	for _, instr := range entry.Instrs {
		if instr.Op == ir.OpStoreGlobal {
			stores = append(stores, instr)
		}
	}
	require.Equal(t, []*ir.Instruction{s1, s2}, stores)
}

func TestRun_FixedPointFoldsAndEliminatesDeadCode(t *testing.T) {
	f := &ir.Function{}
	entry := f.NewBlock()
	f.EntryID = entry.ID()

	a := f.EmitConst(entry, ir.ConstNumber, 2, "", ir.TypeFloat64)
	b := f.EmitConst(entry, ir.ConstNumber, 3, "", ir.TypeFloat64)
	sum := f.EmitValue(entry, ir.OpAdd, ir.TypeFloat64, a, b)
	f.EmitValue(entry, ir.OpMulFloat, ir.TypeFloat64, a, b)
	f.SetReturn(entry, sum)

	rounds := optimizer.Run(f, optimizer.LevelFull, nil)
	require.Greater(t, rounds, 0)

	require.Len(t, entry.Instrs, 2)
	require.Equal(t, ir.OpConst, entry.Instrs[0].Op)
	require.Equal(t, 5.0, entry.Instrs[0].ConstNumber)
	require.Equal(t, ir.OpReturn, entry.Instrs[1].Op)
}

func findByResult(b *ir.BasicBlock, v ir.Value) *ir.Instruction {
	for _, instr := range b.Instrs {
		if instr.Result() == v {
			return instr
		}
	}
	return nil
}
