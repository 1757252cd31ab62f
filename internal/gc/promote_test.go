package gc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/gc"
)

// TestPromotionLadder walks one rooted cell through Nursery -> Young ->
// Medium -> Old via successive minor collections, with each generation's
// promotion age set to 1 so a single survived collection is enough to
// advance.
func TestPromotionLadder(t *testing.T) {
	h := gc.New(testConfig())
	defer h.Close()

	obj := newTestCell("survivor")
	h.Allocate(obj, 16)
	var root gc.Cell = obj
	h.AddRoot(&root)

	require.Equal(t, gc.Nursery, obj.GCHeader().Generation())

	h.Collect(gc.Minor)
	require.Equal(t, gc.Young, obj.GCHeader().Generation())

	h.Collect(gc.Minor)
	require.Equal(t, gc.Medium, obj.GCHeader().Generation())

	h.Collect(gc.Major)
	require.Equal(t, gc.Old, obj.GCHeader().Generation())

	// Old never promotes further; a Full collection should leave it in
	// place and still alive.
	h.Collect(gc.Full)
	require.Equal(t, gc.Old, obj.GCHeader().Generation())
	require.EqualValues(t, 3, h.Stats().PromotedObjects)
}

// TestCrossGenerationWriteBarrierKeepsNurseryTargetAlive models the
// write-barrier survival scenario: an Old-generation object acquires a
// reference into a freshly allocated, unrooted Nursery object. A minor
// collection must still find that nursery object live via the remembered
// set recorded by the write barrier, not just via the root set.
func TestCrossGenerationWriteBarrierKeepsNurseryTargetAlive(t *testing.T) {
	h := gc.New(testConfig())
	defer h.Close()

	old := newTestCell("old-holder")
	h.Allocate(old, 16)
	var root gc.Cell = old
	h.AddRoot(&root)

	// Promote old all the way to the Old generation.
	h.Collect(gc.Minor)
	h.Collect(gc.Minor)
	h.Collect(gc.Major)
	require.Equal(t, gc.Old, old.GCHeader().Generation())

	young := newTestCell("new-nursery-target")
	h.Allocate(young, 8)
	require.Equal(t, gc.Nursery, young.GCHeader().Generation())

	old.link(h, young)
	require.EqualValues(t, 1, h.Stats().WriteBarrierHits)

	h.Collect(gc.Minor)

	require.EqualValues(t, 0, h.Stats().FreedObjects)
	require.Equal(t, gc.Young, young.GCHeader().Generation())
}
