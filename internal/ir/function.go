package ir

// Function holds an ordered sequence of Instructions (grouped into basic
// blocks) plus the state needed to build and walk them (spec.md §3.3).
type Function struct {
	Name      string
	NumLocals uint32

	Blocks  []*BasicBlock
	EntryID BlockID

	// SourceFunctionID ties this IRFunction back to its owning
	// bytecode.Function, needed by the tier controller's OSR/deopt tables
	// (spec.md §3.6).
	SourceFunctionID uint32

	nextValueID ValueID
	nextInstrID int

	// loweringOffset is stamped onto every instruction emitted once
	// loweringActive is set (offset 0 included), set by Lower as it walks the originating bytecode so each
	// IR node records where it came from (spec.md §3.6, §8 invariant 8).
	loweringOffset uint32
	loweringActive bool
}

// SetLoweringOffset is called by Lower before translating each bytecode
// instruction so that every IR node emitted in its name carries the
// originating offset.
func (f *Function) SetLoweringOffset(offset uint32) {
	f.loweringOffset = offset
	f.loweringActive = true
}

// Block returns the block with the given id.
func (f *Function) Block(id BlockID) *BasicBlock { return f.Blocks[id] }

// Entry returns the function's entry block.
func (f *Function) Entry() *BasicBlock { return f.Blocks[f.EntryID] }

func (f *Function) newValue(t Type) Value {
	id := f.nextValueID
	f.nextValueID++
	return valueWithType(id, t)
}

// NewBlock appends and returns a fresh, initially-empty BasicBlock.
func (f *Function) NewBlock() *BasicBlock {
	b := &BasicBlock{
		id:   BlockID(len(f.Blocks)),
		vars: make(map[Variable]Value),
	}
	f.Blocks = append(f.Blocks, b)
	return b
}

// AddParam appends a new parameter of type t to b and returns its Value.
func (f *Function) AddParam(b *BasicBlock, t Type) Value {
	v := f.newValue(t)
	b.ParamTypes = append(b.ParamTypes, t)
	b.Params = append(b.Params, v)
	return v
}

// AddPred records that from branches to b via instr's Targets[index]; used
// by cfg.go's dominator computation, by the register allocator's
// Function.Preds, and by the builder to retarget a phi's arguments onto an
// already-emitted terminator.
func (f *Function) AddPred(b *BasicBlock, from BlockID, instr *Instruction, index int) {
	b.Preds = append(b.Preds, from)
	b.predEdges = append(b.predEdges, predEdge{instr: instr, index: index})
}

// emit appends instr to the end of b, assigning it the next instruction id
// and, while lowering, the current source offset. It does not create a
// result Value; EmitValue/EmitEffect below do that and then call it.
func (f *Function) emit(b *BasicBlock, instr *Instruction) {
	instr.id = f.nextInstrID
	f.nextInstrID++
	if f.loweringActive {
		instr.SourceOffset = f.loweringOffset
	}
	b.Instrs = append(b.Instrs, instr)
}

// EmitValue appends a value-producing instruction to b and returns its
// result Value.
func (f *Function) EmitValue(b *BasicBlock, op Opcode, t Type, args ...Value) Value {
	v := f.newValue(t)
	instr := &Instruction{Op: op, Args: args, result: v}
	f.emit(b, instr)
	return v
}

// EmitEffect appends a side-effect-only instruction (no result) to b.
func (f *Function) EmitEffect(b *BasicBlock, op Opcode, args ...Value) *Instruction {
	instr := &Instruction{Op: op, Args: args, result: ValueInvalid}
	f.emit(b, instr)
	return instr
}

// emitValueWithName is EmitValue plus an AuxString, used for property and
// global accesses where the name is more convenient than a string-table
// round trip.
func (f *Function) emitValueWithName(b *BasicBlock, op Opcode, t Type, name string, args ...Value) Value {
	v := f.newValue(t)
	instr := &Instruction{Op: op, Args: args, result: v, AuxString: name}
	f.emit(b, instr)
	return v
}

// NewValueInstr allocates a fresh, value-producing instruction without
// appending it to any block, letting a later-stage pass (type
// specialization's guards, instruction combining's fused ops) splice it
// into a specific slot via BasicBlock.InsertBefore instead of always
// appending at the tail the way EmitValue does during initial lowering.
func (f *Function) NewValueInstr(op Opcode, t Type, args ...Value) (*Instruction, Value) {
	v := f.newValue(t)
	instr := &Instruction{Op: op, Args: args, result: v}
	instr.id = f.nextInstrID
	f.nextInstrID++
	return instr, v
}

// NewEffectInstr is NewValueInstr for a side-effect-only instruction (a
// guard, most commonly), with no result Value.
func (f *Function) NewEffectInstr(op Opcode, args ...Value) *Instruction {
	instr := &Instruction{Op: op, Args: args, result: ValueInvalid}
	instr.id = f.nextInstrID
	f.nextInstrID++
	return instr
}

// EmitConst appends an OpConst instruction and returns its Value.
func (f *Function) EmitConst(b *BasicBlock, kind ConstValueKind, num float64, str string, t Type) Value {
	v := f.newValue(t)
	instr := &Instruction{Op: OpConst, result: v, ConstKind: kind, ConstNumber: num, ConstString: str}
	f.emit(b, instr)
	return v
}

// SetJump closes b with an unconditional jump to target, supplying args
// for target's block params.
func (f *Function) SetJump(b *BasicBlock, target *BasicBlock, args []Value) {
	instr := &Instruction{Op: OpJump, Targets: []BlockID{target.id}, TargetArgs: [][]Value{args}}
	f.emit(b, instr)
	f.AddPred(target, b.id, instr, 0)
}

// SetBranch closes b with a conditional branch on cond: trueTarget if cond
// is truthy, falseTarget otherwise (spec.md §3.2's JumpIfTrue/JumpIfFalse
// pair collapsed into one IR terminator, matching spec.md §4.1's "branches
// become explicit block terminators").
func (f *Function) SetBranch(b *BasicBlock, cond Value, trueTarget *BasicBlock, trueArgs []Value, falseTarget *BasicBlock, falseArgs []Value) {
	instr := &Instruction{
		Op:         OpBranch,
		Args:       []Value{cond},
		Targets:    []BlockID{trueTarget.id, falseTarget.id},
		TargetArgs: [][]Value{trueArgs, falseArgs},
	}
	f.emit(b, instr)
	f.AddPred(trueTarget, b.id, instr, 0)
	f.AddPred(falseTarget, b.id, instr, 1)
}

// SetReturn closes b with a return of an optional value.
func (f *Function) SetReturn(b *BasicBlock, v Value) {
	var args []Value
	if v.Valid() {
		args = []Value{v}
	}
	f.emit(b, &Instruction{Op: OpReturn, Args: args})
}

// SetThrow closes b with a throw of v.
func (f *Function) SetThrow(b *BasicBlock, v Value) {
	f.emit(b, &Instruction{Op: OpThrow, Args: []Value{v}})
}

// NumValues returns the number of distinct Values allocated so far, used to
// size dense per-value arrays in later passes (liveness, regalloc).
func (f *Function) NumValues() int { return int(f.nextValueID) }

// AllInstructions calls fn for every instruction in the function, in block
// order then in-block order.
func (f *Function) AllInstructions(fn func(b *BasicBlock, instr *Instruction)) {
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			fn(b, instr)
		}
	}
}
