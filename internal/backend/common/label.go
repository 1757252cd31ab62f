package common

import "fmt"

// Label names a branch target: an ir.BlockID's code offset, not known
// until that block has actually been encoded (a forward reference) or
// already known (a backward one, the common loop-back-edge case).
type Label int

// LabelResolver implements §4.4's shared label/branch pattern: emit a
// branch with a zeroed offset and record (source offset, label, a
// patch callback) in a pending list; once every block's address is
// known, walk the list and patch each one, range-checking the final
// offset and falling back to a caller-supplied long-form encoder when a
// short branch can't reach.
//
// Each of the three backends owns its own encoding of "zeroed offset"
// and "patch these bytes", so PatchFunc is supplied per pending entry
// rather than baked into this type -- the teacher's amd64/arm64 machines
// each keep their own flavor of this list for the same reason (the
// instruction formats driving the patch differ per ISA).
type LabelResolver struct {
	defined map[Label]int
	pending []pendingBranch
}

type pendingBranch struct {
	sourceOffset int
	label        Label
	instrKind    string
	rangeLo      int64
	rangeHi      int64
	patch        func(buf *Buffer, sourceOffset, targetOffset int) error
	longForm     func(buf *Buffer, sourceOffset, targetOffset int) error
}

// NewLabelResolver returns an empty resolver.
func NewLabelResolver() *LabelResolver {
	return &LabelResolver{defined: make(map[Label]int)}
}

// Define records that label now resolves to offset, the buffer's current
// length at the point its owning block was encoded.
func (r *LabelResolver) Define(label Label, offset int) {
	r.defined[label] = offset
}

// Offset reports a label's defined offset, if known yet.
func (r *LabelResolver) Offset(label Label) (int, bool) {
	off, ok := r.defined[label]
	return off, ok
}

// AddPending records a branch instruction (already emitted with a
// placeholder offset) that needs patching once label is defined.
// rangeLo/rangeHi bound the signed byte displacement the short encoding
// can hold (e.g. ARM64 B.cond: -1<<20 .. 1<<20-1); patch is called with
// the branch's own source offset and the label's eventual target offset
// once both are known. If the computed displacement falls outside
// [rangeLo, rangeHi], longForm is used instead (a caller-supplied
// multi-instruction materialization), matching spec.md §4.4's
// "EncodingRangeExceeded ... fall back to long-form branch" behavior.
func (r *LabelResolver) AddPending(sourceOffset int, label Label, instrKind string, rangeLo, rangeHi int64,
	patch, longForm func(buf *Buffer, sourceOffset, targetOffset int) error,
) {
	r.pending = append(r.pending, pendingBranch{
		sourceOffset: sourceOffset,
		label:        label,
		instrKind:    instrKind,
		rangeLo:      rangeLo,
		rangeHi:      rangeHi,
		patch:        patch,
		longForm:     longForm,
	})
}

// ResolveAll patches every pending branch against buf, returning an
// *EncodingRangeExceededError if a displacement overflows its range and
// no longForm fallback was supplied, or a plain error if the label it
// targets was never defined (a malformed CFG -- a branch to a block that
// doesn't exist).
func (r *LabelResolver) ResolveAll(buf *Buffer) error {
	for _, p := range r.pending {
		target, ok := r.defined[p.label]
		if !ok {
			return fmt.Errorf("backend: branch at offset %d targets undefined label %v", p.sourceOffset, p.label)
		}
		disp := int64(target - p.sourceOffset)
		if disp < p.rangeLo || disp > p.rangeHi {
			if p.longForm == nil {
				return &EncodingRangeExceededError{Kind: p.instrKind, Offset: p.sourceOffset, Displacement: disp}
			}
			if err := p.longForm(buf, p.sourceOffset, target); err != nil {
				return err
			}
			continue
		}
		if err := p.patch(buf, p.sourceOffset, target); err != nil {
			return err
		}
	}
	return nil
}

// EncodingRangeExceededError is spec.md §4.4's EncodingRangeExceeded
// condition surfacing as a Go error: the compile is rejected outright
// (falling back to a lower tier) rather than silently truncating a
// displacement, per spec.md §8 invariant 3.
type EncodingRangeExceededError struct {
	Kind         string
	Offset       int
	Displacement int64
}

func (e *EncodingRangeExceededError) Error() string {
	return fmt.Sprintf("backend: %s at offset %d exceeds encodable range (displacement %d)", e.Kind, e.Offset, e.Displacement)
}
