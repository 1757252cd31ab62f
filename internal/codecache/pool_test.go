package codecache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/codecache"
	"github.com/tieredvm/corejit/internal/platform"
)

func TestPool_AllocateWritesAndExecutes(t *testing.T) {
	if !platform.CompilerSupported() {
		t.Skip()
	}

	p := codecache.NewPool()
	block, err := p.Allocate(64)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(block), 64)

	require.NoError(t, platform.MakeExecutable(block))
	require.NoError(t, p.Release(block))
	require.NoError(t, p.Drain())
}

func TestPool_ReleaseThenAllocateRecyclesTheSameBlock(t *testing.T) {
	if !platform.CompilerSupported() {
		t.Skip()
	}

	p := codecache.NewPool()
	first, err := p.Allocate(32)
	require.NoError(t, err)
	firstAddr := &first[0]

	require.NoError(t, platform.MakeExecutable(first))
	require.NoError(t, p.Release(first))

	second, err := p.Allocate(32)
	require.NoError(t, err)
	require.Same(t, firstAddr, &second[0], "a same-size-class allocation should recycle the released block")

	require.NoError(t, platform.MakeExecutable(second))
	require.NoError(t, p.Release(second))
	require.NoError(t, p.Drain())
}

func TestPool_ReleaseOfUnknownBlockErrors(t *testing.T) {
	if !platform.CompilerSupported() {
		t.Skip()
	}

	p := codecache.NewPool()
	require.Error(t, p.Release(make([]byte, 64)))
}

func TestPool_GuardPageBlockAllocatesAndReleases(t *testing.T) {
	if !platform.CompilerSupported() {
		t.Skip()
	}

	p := codecache.NewPool()
	p.GuardPages = true

	block, err := p.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, platform.MakeExecutable(block))
	require.NoError(t, p.Release(block))
	require.NoError(t, p.Drain())
}
