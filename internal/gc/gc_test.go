package gc_test

import (
	"sync"

	"github.com/tieredvm/corejit/internal/gc"
)

// testCell is a minimal gc.Cell used throughout this package's tests: a
// named object with a fixed set of outgoing references, mutable so
// TraceMutableRefs has something real to rewrite.
type testCell struct {
	hdr  gc.Header
	name string

	mu   sync.Mutex
	refs []gc.Cell
}

func newTestCell(name string) *testCell { return &testCell{name: name} }

func (c *testCell) GCHeader() *gc.Header { return &c.hdr }

func (c *testCell) TraceRefs(visit func(gc.Cell)) {
	c.mu.Lock()
	refs := append([]gc.Cell(nil), c.refs...)
	c.mu.Unlock()
	for _, r := range refs {
		visit(r)
	}
}

func (c *testCell) TraceMutableRefs(visit func(*gc.Cell)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.refs {
		visit(&c.refs[i])
	}
}

// link records an outgoing reference from c to target, invoking the
// owning heap's write barrier the way a bytecode STORE_FIELD op would.
func (c *testCell) link(h *gc.Heap, target gc.Cell) {
	c.mu.Lock()
	c.refs = append(c.refs, target)
	c.mu.Unlock()
	h.WriteBarrier(c, target)
}
