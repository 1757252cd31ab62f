package bytecode

import "math"

// ConstKind tags the type of a constant pool entry, per spec.md §3.2's
// typed constant pool: "undefined/null/bool/number/string/function-ref/
// object-template/regexp-template".
type ConstKind byte

const (
	ConstUndefined ConstKind = iota
	ConstNull
	ConstBool
	ConstNumber
	ConstString
	ConstFunctionRef
	ConstObjectTemplate
	ConstRegexpTemplate
)

// Const is one entry of a Module's shared constant pool.
type Const struct {
	Kind ConstKind

	Bool   bool
	Number float64
	// String holds the string text itself for ConstString, ConstFunctionRef's
	// debug name, or the regexp source text for ConstRegexpTemplate.
	String string
	// FunctionIndex is valid when Kind == ConstFunctionRef.
	FunctionIndex uint32
	// ObjectTemplate is valid when Kind == ConstObjectTemplate: a list of
	// property-name string-table indices describing an object shape.
	// `OpNewObject` does not consult it; it always creates an empty object.
	ObjectTemplate []uint32
}

// ConstPool is the module-wide typed constant pool shared by every Function
// in a Module (spec.md §3.2).
type ConstPool struct {
	entries []Const
}

// Add appends a constant and returns its pool index.
func (p *ConstPool) Add(c Const) uint32 {
	idx := uint32(len(p.entries))
	p.entries = append(p.entries, c)
	return idx
}

// AddNumber is a convenience wrapper that de-duplicates identical numeric
// constants, mirroring how constant folding (spec.md §4.3.1) re-emits
// `LoadConst` nodes that commonly repeat across a hot function.
func (p *ConstPool) AddNumber(v float64) uint32 {
	for i, e := range p.entries {
		if e.Kind == ConstNumber && e.Number == v && math.Signbit(e.Number) == math.Signbit(v) {
			return uint32(i)
		}
	}
	return p.Add(Const{Kind: ConstNumber, Number: v})
}

// Get returns the constant at idx.
func (p *ConstPool) Get(idx uint32) Const {
	return p.entries[idx]
}

// Len returns the number of entries in the pool.
func (p *ConstPool) Len() int {
	return len(p.entries)
}

// StringTable interns strings referenced by bytecode (property names,
// global names, local-name tables) separately from the constant pool,
// per spec.md §3.2 "a shared string table".
type StringTable struct {
	strings []string
	index   map[string]uint32
}

// NewStringTable returns an empty StringTable.
func NewStringTable() *StringTable {
	return &StringTable{index: make(map[string]uint32)}
}

// Intern returns the index for s, adding it if not already present.
func (t *StringTable) Intern(s string) uint32 {
	if idx, ok := t.index[s]; ok {
		return idx
	}
	idx := uint32(len(t.strings))
	t.strings = append(t.strings, s)
	t.index[s] = idx
	return idx
}

// Get returns the string at idx.
func (t *StringTable) Get(idx uint32) string {
	return t.strings[idx]
}

// Len returns the number of interned strings.
func (t *StringTable) Len() int {
	return len(t.strings)
}
