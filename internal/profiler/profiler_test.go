package profiler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeFeedback_StabilityAndDominantKind(t *testing.T) {
	var tf TypeFeedback
	for i := 0; i < 9; i++ {
		tf.Observe(KindInt32)
	}
	tf.Observe(KindFloat64)

	kind, stability := tf.DominantKind()
	require.Equal(t, KindInt32, kind)
	require.InDelta(t, 0.9, stability, 1e-9)
}

func TestBranchCounter_Bias(t *testing.T) {
	var b BranchCounter
	for i := 0; i < 3; i++ {
		b.Observe(true)
	}
	b.Observe(false)
	require.InDelta(t, 0.75, b.Bias(), 1e-9)
}

func TestCallSiteProfile_Classification(t *testing.T) {
	mono := NewCallSiteProfile()
	mono.Observe(1)
	mono.Observe(1)
	class, target, n := mono.Classify()
	require.Equal(t, Monomorphic, class)
	require.EqualValues(t, 1, target)
	require.EqualValues(t, 2, n)

	poly := NewCallSiteProfile()
	poly.Observe(1)
	poly.Observe(2)
	poly.Observe(1)
	class, _, _ = poly.Classify()
	require.Equal(t, Polymorphic, class)

	mega := NewCallSiteProfile()
	for id := uint32(0); id < 6; id++ {
		mega.Observe(id)
	}
	class, _, _ = mega.Classify()
	require.Equal(t, Megamorphic, class)
}

func TestFunctionProfile_HotnessQueries(t *testing.T) {
	p := NewFunctionProfile(42)
	for i := 0; i < 100; i++ {
		p.RecordExecution()
	}
	require.True(t, p.IsFunctionHot(100))
	require.False(t, p.IsFunctionHot(101))

	loop := p.Loop(7)
	loop.ObserveEntry()
	for i := 0; i < 50; i++ {
		loop.ObserveHeader()
	}
	require.True(t, p.IsLoopHot(7, 50))
	require.InDelta(t, 50, loop.MeanIterations(), 1e-9)
}

func TestFunctionProfile_DeoptRingWrapsAndPreservesOrder(t *testing.T) {
	p := NewFunctionProfile(1)
	for i := 0; i < deoptRingSize+3; i++ {
		p.RecordDeopt(DeoptCause{BytecodeOffset: uint32(i), Reason: "guard"})
	}
	causes := p.DeoptCauses()
	require.Len(t, causes, deoptRingSize)
	require.EqualValues(t, 3, causes[0].BytecodeOffset)
	require.EqualValues(t, deoptRingSize+2, causes[len(causes)-1].BytecodeOffset)
}

func TestRegistry_GetIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := r.Get(5)
	b := r.Get(5)
	require.Same(t, a, b)
	require.Len(t, r.Snapshot(), 1)
}
