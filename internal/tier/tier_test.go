package tier_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/bytecode"
	"github.com/tieredvm/corejit/internal/platform"
	"github.com/tieredvm/corejit/internal/profiler"
	"github.com/tieredvm/corejit/internal/tier"
)

const (
	testEventuallyWait = time.Second
	testEventuallyTick = 5 * time.Millisecond
)

func buildAddModule(t *testing.T) *bytecode.Module {
	t.Helper()
	m := bytecode.NewModule()

	fn := &bytecode.Function{Name: "add", NumLocals: 0}
	e := bytecode.NewEmitter(fn)
	e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(1)), 1)
	e.Emit(bytecode.NewInstruction(bytecode.OpPushConst, m.Consts.AddNumber(2)), 1)
	e.Emit(bytecode.NewInstruction(bytecode.OpAdd), -1)
	e.Emit(bytecode.NewInstruction(bytecode.OpReturn), -1)
	require.NoError(t, e.Finish())
	require.NoError(t, bytecode.Validate(fn))

	m.AddFunction(fn)
	return m
}

func newController(t *testing.T) *tier.Controller {
	t.Helper()
	if !platform.CompilerSupported() {
		t.Skip("no native backend for this GOARCH")
	}
	regs, emit, err := tier.Select()
	require.NoError(t, err)

	cfg := tier.DefaultConfig()
	cfg.Workers = 1
	c := tier.New(buildAddModule(t), profiler.NewRegistry(), regs, emit, cfg)
	t.Cleanup(c.Close)
	return c
}

func TestCompileSync_PublishesAnExecutableArtifact(t *testing.T) {
	c := newController(t)

	art, err := c.CompileSync(0, tier.Baseline)
	require.NoError(t, err)
	require.NotEmpty(t, art.Code)
	require.Equal(t, uint64(1), art.Generation)

	entry := c.CurrentEntry(0)
	require.Equal(t, art, entry.Load())
	require.Equal(t, tier.Baseline, c.CurrentTier(0))
}

func TestCompileSync_RecompilingIncrementsGeneration(t *testing.T) {
	c := newController(t)

	first, err := c.CompileSync(0, tier.Baseline)
	require.NoError(t, err)

	second, err := c.CompileSync(0, tier.Optimizing)
	require.NoError(t, err)
	require.Greater(t, second.Generation, first.Generation)
	require.Equal(t, tier.Optimizing, c.CurrentTier(0))
}

func TestOnCall_PromotesToBaselineAtThreshold(t *testing.T) {
	c := newController(t)

	for i := uint64(0); i < tier.DefaultConfig().BaselineThreshold; i++ {
		c.OnCall(0)
	}

	require.Eventually(t, func() bool {
		return c.CurrentEntry(0).Load() != nil
	}, testEventuallyWait, testEventuallyTick, "execution count crossing the baseline threshold should queue and complete a compile")
	require.Equal(t, tier.Baseline, c.CurrentTier(0))
}

func TestDeoptimize_InvalidatesAndFallsBackToBaseline(t *testing.T) {
	c := newController(t)

	_, err := c.CompileSync(0, tier.Optimizing)
	require.NoError(t, err)
	require.Equal(t, tier.Optimizing, c.CurrentTier(0))

	require.NoError(t, c.Deoptimize(0, profiler.DeoptCause{BytecodeOffset: 0, Reason: "type-instability"}))

	require.Equal(t, tier.Baseline, c.CurrentTier(0))
	require.NotNil(t, c.CurrentEntry(0).Load())
	require.False(t, c.PendingDeoptimization(0))
}

func TestDeoptimize_BlacklistsAfterRepeatedFailures(t *testing.T) {
	c := newController(t)
	cause := profiler.DeoptCause{BytecodeOffset: 3, Reason: "arithmetic-overflow"}

	strikes := tier.DefaultConfig().DeoptCooldownStrikes
	for i := 0; i < strikes; i++ {
		require.NoError(t, c.Deoptimize(0, cause))
	}

	require.True(t, c.Blacklisted(0, cause.BytecodeOffset))
}

func TestInvalidateInlinedCallers_LowersAndRecompilesCaller(t *testing.T) {
	c := newController(t)

	_, err := c.CompileSync(0, tier.Optimizing)
	require.NoError(t, err)
	c.MarkInlined(0, 99)

	c.InvalidateInlinedCallers(99)

	require.Eventually(t, func() bool {
		return c.CurrentTier(0) == tier.Optimizing && c.CurrentEntry(0).Load() != nil
	}, testEventuallyWait, testEventuallyTick, "caller should be recompiled back to its previous tier")
}
