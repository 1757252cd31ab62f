package gc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/gc"
)

// TestMarkHandlesCycles builds a reference cycle (a -> b -> c -> a) rooted
// only at a, and checks that tryMark's CAS gate keeps the work-stealing
// mark phase from looping forever or double-processing a node: all three
// survive one collection, and the cycle alone (with no external root)
// is fully collected by the next.
func TestMarkHandlesCycles(t *testing.T) {
	h := gc.New(testConfig())
	defer h.Close()

	a := newTestCell("a")
	b := newTestCell("b")
	c := newTestCell("c")
	h.Allocate(a, 8)
	h.Allocate(b, 8)
	h.Allocate(c, 8)

	a.link(h, b)
	b.link(h, c)
	c.link(h, a)

	var root gc.Cell = a
	h.AddRoot(&root)

	h.Collect(gc.Minor)
	require.EqualValues(t, 0, h.Stats().FreedObjects)

	h.RemoveRoot(&root)
	h.Collect(gc.Minor)
	require.EqualValues(t, 3, h.Stats().FreedObjects)
}

// TestMarkParallelFansOutAcrossWorkers exercises a wide, shallow object
// graph (one root fanning out to many leaves) under a multi-worker pool,
// checking that stealing distributes the work without dropping any node.
func TestMarkParallelFansOutAcrossWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 4

	h := gc.New(cfg)
	defer h.Close()

	root := newTestCell("fanout-root")
	h.Allocate(root, 8)
	var rootSlot gc.Cell = root
	h.AddRoot(&rootSlot)

	const leaves = 500
	for i := 0; i < leaves; i++ {
		leaf := newTestCell("leaf")
		h.Allocate(leaf, 8)
		root.link(h, leaf)
	}

	h.Collect(gc.Minor)
	require.EqualValues(t, 0, h.Stats().FreedObjects)
}
