package common

// SafepointEntry maps one code offset where a safepoint check (or a call,
// which is always a safepoint) was emitted back to the IR instruction's
// originating bytecode offset, so the tier controller (C9) can walk back
// to an interpretable frame on deoptimization or a GC-triggered pause
// (spec.md §3.6, §8 invariant 8).
type SafepointEntry struct {
	CodeOffset   int
	SourceOffset uint32
}

// Metadata is what EmitFunction hands back alongside the raw machine
// code: everything C9's tier controller and internal/codecache need to
// register, invalidate, and deoptimize a compiled artifact.
type Metadata struct {
	// FrameSize is the total stack frame size in bytes, including spill
	// slots, reserved for the prologue's stack-pointer adjustment.
	FrameSize int
	// SpillSlotCount is regalloc.SpillSlots.Count() at the time this
	// function was compiled, recorded for diagnostics.
	SpillSlotCount int
	Safepoints     []SafepointEntry
}

// Frame describes a compiled function's stack layout: spill slots live
// below the saved frame pointer, growing toward lower addresses exactly
// as a standard down-growing native stack frame does. SpillBase is the
// displacement from the frame pointer to the first (slot 0) spill slot;
// slot i lives at SpillBase - i*8, per the OpSpillStore/OpSpillReload
// doc comment in internal/ir/opcode.go.
type Frame struct {
	SpillBase int32
	SlotCount int
}

// Size returns the total bytes this frame's spill area occupies, 8-byte
// aligned per spec.md §9's settled Open Question.
func (f Frame) Size() int32 {
	return int32(f.SlotCount) * 8
}
