package bytecode

// OptLevel selects which peephole pre-passes RunPeephole applies to a
// Function (spec.md §4.1 "Optional peephole pre-passes
// (selectable by optimization level)").
type OptLevel byte

const (
	OptNone OptLevel = iota
	OptPeephole
)

// Module is an ordered set of Functions sharing a string table and constant
// pool (spec.md §3.2).
type Module struct {
	Functions []*Function
	// MainIndex is the index into Functions of the synthetic top-level
	// function generated for module-level statements.
	MainIndex uint32

	Strings *StringTable
	Consts  *ConstPool
}

// NewModule returns an empty Module with fresh string table and constant
// pool.
func NewModule() *Module {
	return &Module{
		Strings: NewStringTable(),
		Consts:  &ConstPool{},
	}
}

// AddFunction appends fn to the module and assigns it the next function ID.
func (m *Module) AddFunction(fn *Function) uint32 {
	fn.ID = uint32(len(m.Functions))
	m.Functions = append(m.Functions, fn)
	return fn.ID
}

// Main returns the synthetic top-level function.
func (m *Module) Main() *Function {
	return m.Functions[m.MainIndex]
}
