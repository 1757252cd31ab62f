package bytecode

// LocalName is one entry of a Function's optional local-name table, used by
// debug tooling (spec.md §3.2: "optional local-name table").
type LocalName struct {
	Slot uint32
	Name string
}

// Function is one compiled unit of bytecode: a JS function or the synthetic
// module-level "main" (spec.md §3.2).
type Function struct {
	ID       uint32
	Name     string
	Arity    uint32
	NumLocals uint32
	// MaxStackDepth is the maximum abstract operand-stack depth reached by
	// this function's instructions; used to preallocate the interpreter's
	// value stack and, per spec.md §8 invariant 2, must be single-valued at
	// every offset across all reaching control-flow paths.
	MaxStackDepth uint32
	Strict        bool

	Instructions []Instruction
	Handlers     []ExceptionHandler
	LocalNames   []LocalName

	// BytecodeToSource, if non-nil, maps each instruction index to a source
	// span; left nil by this core since the tokenizer/parser/source-map
	// surface is out of scope (spec.md §1).
	BytecodeToSource []uint32
}

// HandlerFor returns the innermost exception handler covering offset, or
// (ExceptionHandler{}, false) if none applies. Handler tables are built in
// the order nested try-blocks are emitted, so later (more specific) matches
// must be preferred: callers should search from the end.
func (f *Function) HandlerFor(offset uint32) (ExceptionHandler, bool) {
	for i := len(f.Handlers) - 1; i >= 0; i-- {
		if f.Handlers[i].Covers(offset) {
			return f.Handlers[i], true
		}
	}
	return ExceptionHandler{}, false
}
