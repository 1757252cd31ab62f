package gc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/gc"
)

func testConfig() gc.Config {
	cfg := gc.DefaultConfig()
	cfg.Workers = 2
	cfg.PromotionAges[gc.Nursery] = 1
	cfg.PromotionAges[gc.Young] = 1
	cfg.PromotionAges[gc.Medium] = 1
	return cfg
}

func TestAllocateRootedSurvivesMinorGC(t *testing.T) {
	h := gc.New(testConfig())
	defer h.Close()

	obj := newTestCell("rooted")
	h.Allocate(obj, 32)

	var root gc.Cell = obj
	h.AddRoot(&root)

	h.Collect(gc.Minor)

	require.EqualValues(t, 0, h.Stats().FreedObjects)
}

func TestAllocateUnrootedFreedByMinorGC(t *testing.T) {
	h := gc.New(testConfig())
	defer h.Close()

	obj := newTestCell("garbage")
	h.Allocate(obj, 32)

	h.Collect(gc.Minor)

	require.EqualValues(t, 1, h.Stats().FreedObjects)
	require.EqualValues(t, 32, h.Stats().FreedBytes)
}

func TestAllocateLargeRoutesToLargeObjectSpace(t *testing.T) {
	h := gc.New(testConfig())
	defer h.Close()

	big := h.Qualifies(gc.DefaultConfig().LargeObjectThreshold)
	require.True(t, big)

	obj := newTestCell("large")
	mem, err := h.AllocateLarge(obj, gc.DefaultConfig().LargeObjectThreshold)
	require.NoError(t, err)
	require.Len(t, mem, int(gc.DefaultConfig().LargeObjectThreshold))

	var root gc.Cell = obj
	h.AddRoot(&root)
	h.Collect(gc.Full)
	require.EqualValues(t, 0, h.Stats().FreedObjects)

	h.RemoveRoot(&root)
	h.Collect(gc.Full)
	require.EqualValues(t, 1, h.Stats().FreedObjects)
}
