package gc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieredvm/corejit/internal/gc"
)

func TestWeakRefClearedWhenTargetCollected(t *testing.T) {
	h := gc.New(testConfig())
	defer h.Close()

	target := newTestCell("weakly-held")
	h.Allocate(target, 16)

	ref := h.CreateWeakRef(target)
	require.Equal(t, gc.Cell(target), ref.Target())

	h.Collect(gc.Minor) // target is unrooted: dies this cycle

	require.Nil(t, ref.Target())
}

func TestWeakRefSurvivesWhenTargetRooted(t *testing.T) {
	h := gc.New(testConfig())
	defer h.Close()

	target := newTestCell("rooted")
	h.Allocate(target, 16)
	var root gc.Cell = target
	h.AddRoot(&root)

	ref := h.CreateWeakRef(target)
	h.Collect(gc.Minor)

	require.Equal(t, gc.Cell(target), ref.Target())
}
