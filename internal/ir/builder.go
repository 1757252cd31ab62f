package ir

// Builder implements the SSA-construction algorithm of Braun et al.,
// "Simple and Efficient Construction of SSA Form" (CC'13): variables are
// read/written against whichever block is "current" without ever
// pre-computing dominance frontiers, and a block's phis (here: block
// parameters) are resolved lazily, completed once the block is sealed
// (every predecessor known). This is the construction technique the
// teacher's wazero frontend uses to turn a structured stack-bytecode input
// into typed SSA; see DESIGN.md.
type Builder struct {
	f     *Function
	types map[Variable]Type
}

// NewBuilder returns a Builder over f, used to resolve a Variable (a
// bytecode local slot or an abstract-stack slot) to its dominating SSA
// Value as instructions are lowered block by block.
func NewBuilder(f *Function) *Builder {
	return &Builder{f: f, types: make(map[Variable]Type)}
}

// DeclareVariable records the static type a Variable's block params should
// carry when a phi must be synthesized for it. Locals default to
// TypeUnknown until the profiler narrows them (spec.md §4.3.4); the
// abstract-stack slots are typed from the value pushed.
func (bld *Builder) DeclareVariable(v Variable, t Type) { bld.types[v] = t }

// WriteVariable records value as variable's current definition within b.
func (bld *Builder) WriteVariable(b *BasicBlock, variable Variable, value Value) {
	b.vars[variable] = value
}

// ReadVariable resolves variable to its dominating Value as observed from
// within b.
func (bld *Builder) ReadVariable(b *BasicBlock, variable Variable) Value {
	if v, ok := b.vars[variable]; ok {
		return v
	}
	return bld.readVariableRecursive(b, variable)
}

func (bld *Builder) readVariableRecursive(b *BasicBlock, variable Variable) Value {
	var val Value
	switch {
	case !b.sealed:
		// Predecessors aren't all known yet (a loop header reached before
		// its back edge was lowered): allocate a block param now and
		// finish wiring its operands once SealBlock is called.
		val = bld.f.AddParam(b, bld.types[variable])
		if b.incompletePhis == nil {
			b.incompletePhis = make(map[Variable]Value)
		}
		b.incompletePhis[variable] = val
	case len(b.Preds) == 1:
		val = bld.ReadVariable(bld.f.Block(b.Preds[0]), variable)
	default:
		// Break potential cycles (loop-carried variables) by writing the
		// new phi's placeholder value before recursing into predecessors.
		val = bld.f.AddParam(b, bld.types[variable])
		bld.WriteVariable(b, variable, val)
		val = bld.addPhiOperands(b, variable, val)
	}
	bld.WriteVariable(b, variable, val)
	return val
}

// addPhiOperands fills in phi's incoming argument on every edge of b,
// reading variable's value as seen from each predecessor, then tries to
// collapse the phi away if every predecessor agrees.
func (bld *Builder) addPhiOperands(b *BasicBlock, variable Variable, phi Value) Value {
	paramIndex := paramIndexOf(b, phi)
	for i, pred := range b.Preds {
		operand := bld.ReadVariable(bld.f.Block(pred), variable)
		edge := b.predEdges[i]
		args := edge.instr.TargetArgs[edge.index]
		for len(args) <= paramIndex {
			args = append(args, ValueInvalid)
		}
		args[paramIndex] = operand
		edge.instr.TargetArgs[edge.index] = args
	}
	return bld.tryRemoveTrivialPhi(b, paramIndex, phi)
}

func paramIndexOf(b *BasicBlock, phi Value) int {
	for i, p := range b.Params {
		if p == phi {
			return i
		}
	}
	panic("ir: phi value not found among its own block's params")
}

// tryRemoveTrivialPhi collapses a phi whose every incoming operand (other
// than the phi itself) is the same Value, redirecting future reads of
// variable on b to that value directly. The now-unused block param, and the
// arguments its predecessors pass for it, stay in place; the optimizer's
// dead-code pass (C4) removes instructions only, not block params.
func (bld *Builder) tryRemoveTrivialPhi(b *BasicBlock, paramIndex int, phi Value) Value {
	var same Value = ValueInvalid
	trivial := true
	for _, edge := range b.predEdges {
		args := edge.instr.TargetArgs[edge.index]
		if paramIndex >= len(args) {
			continue
		}
		op := args[paramIndex]
		if op == phi || !op.Valid() {
			continue // unresolved or self-reference: ignore.
		}
		if same.Valid() && op != same {
			trivial = false
			break
		}
		same = op
	}
	if !trivial || !same.Valid() {
		return phi
	}
	for _, edge := range b.predEdges {
		args := edge.instr.TargetArgs[edge.index]
		if paramIndex < len(args) {
			args[paramIndex] = same
		}
	}
	return same
}

// SealBlock marks b as having all its predecessors known and finishes
// wiring any phi that was speculatively created for it before that point.
func (bld *Builder) SealBlock(b *BasicBlock) {
	for variable, phi := range b.incompletePhis {
		resolved := bld.addPhiOperands(b, variable, phi)
		if resolved != phi {
			bld.WriteVariable(b, variable, resolved)
		}
	}
	b.incompletePhis = nil
	b.sealed = true
}
