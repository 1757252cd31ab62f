package codecache_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/backend/common"
	"github.com/tieredvm/corejit/internal/codecache"
	"github.com/tieredvm/corejit/internal/platform"
)

func TestCache_EntryIsStableAcrossCalls(t *testing.T) {
	c := codecache.New()
	a := c.Entry(1)
	b := c.Entry(1)
	require.Same(t, a, b)
	require.Nil(t, a.Load())
}

func TestCache_PublishIncrementsGenerationAndSupersedes(t *testing.T) {
	if !platform.CompilerSupported() {
		t.Skip()
	}

	c := codecache.New()
	pool := codecache.NewPool()

	block1, err := pool.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, platform.MakeExecutable(block1))

	art1, superseded1 := c.Publish(42, block1, &common.Metadata{FrameSize: 16})
	require.Nil(t, superseded1)
	require.Equal(t, uint64(1), art1.Generation)
	require.Equal(t, art1, c.Entry(42).Load())
	require.Equal(t, uint64(1), c.Generation(42))

	block2, err := pool.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, platform.MakeExecutable(block2))

	art2, superseded2 := c.Publish(42, block2, &common.Metadata{FrameSize: 16})
	require.Same(t, art1, superseded2)
	require.Equal(t, uint64(2), art2.Generation)
	require.Equal(t, art2, c.Entry(42).Load())

	require.NoError(t, pool.Release(block1))
	require.NoError(t, pool.Release(block2))
	require.NoError(t, pool.Drain())
}

func TestCache_InvalidateClearsTheEntry(t *testing.T) {
	if !platform.CompilerSupported() {
		t.Skip()
	}

	c := codecache.New()
	pool := codecache.NewPool()

	block, err := pool.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, platform.MakeExecutable(block))
	c.Publish(7, block, &common.Metadata{})

	removed, ok := c.Invalidate(7)
	require.True(t, ok)
	require.NotNil(t, removed)
	require.Nil(t, c.Entry(7).Load())

	_, ok = c.Invalidate(7)
	require.False(t, ok, "invalidating an already-invalidated entry reports nothing removed")

	require.NoError(t, pool.Release(block))
	require.NoError(t, pool.Drain())
}

func TestCache_LookupResolvesAnAddressInsideAnArtifact(t *testing.T) {
	if !platform.CompilerSupported() {
		t.Skip()
	}

	c := codecache.New()
	pool := codecache.NewPool()

	block, err := pool.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, platform.MakeExecutable(block))
	c.Publish(99, block, &common.Metadata{})

	mid := uintptr(unsafe.Pointer(&block[len(block)/2]))
	entry := c.Lookup(mid)
	require.NotNil(t, entry)
	require.Equal(t, uint64(99), entry.ID())

	before := mid - 0x1000000
	require.Nil(t, c.Lookup(before))

	require.NoError(t, pool.Release(block))
	require.NoError(t, pool.Drain())
}
