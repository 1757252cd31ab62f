// Package ir implements the typed, SSA-ish register IR used by every JIT
// tier (C2), lowered structurally from bytecode (C1). The Value encoding
// (id packed with type) and Variable-based SSA construction are carried in
// idiom from internal/engine/wazevo/ssa in the teacher repo
// (tetratelabs/wazero); see DESIGN.md.
package ir

// Type is a node in spec.md §3.3's type lattice:
//
//	Unknown ⊑ { Undefined, Null, Boolean, Int32, Float64, String, Object,
//	            Array, Function } ⊑ Mixed
//
// Meet is standard lattice-meet: any two distinct narrow types meet to
// Mixed, and Unknown meets with anything to that thing.
type Type byte

const (
	TypeUnknown Type = iota
	TypeUndefined
	TypeNull
	TypeBoolean
	TypeInt32
	TypeFloat64
	TypeString
	TypeObject
	TypeArray
	TypeFunction
	TypeMixed

	numTypes
)

var typeNames = [numTypes]string{
	TypeUnknown:   "unknown",
	TypeUndefined: "undefined",
	TypeNull:      "null",
	TypeBoolean:   "boolean",
	TypeInt32:     "int32",
	TypeFloat64:   "float64",
	TypeString:    "string",
	TypeObject:    "object",
	TypeArray:     "array",
	TypeFunction:  "function",
	TypeMixed:     "mixed",
}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < numTypes {
		return typeNames[t]
	}
	return "invalid"
}

// IsNarrow reports whether t is a single concrete kind (not Unknown/Mixed),
// i.e. eligible for type specialization (spec.md §4.3.4).
func (t Type) IsNarrow() bool {
	return t > TypeUnknown && t < TypeMixed
}

// Meet computes the lattice meet of t and u (spec.md §3.3).
func Meet(t, u Type) Type {
	if t == TypeUnknown {
		return u
	}
	if u == TypeUnknown {
		return t
	}
	if t == u {
		return t
	}
	return TypeMixed
}

// RegKind classifies a Type for register-allocation purposes: integers and
// booleans live in general-purpose registers, floats in float/vector
// registers, everything wider (String/Object/Array/Function/Mixed) is a
// boxed reference living in a general-purpose register too (a pointer into
// the GC heap, C10).
type RegKind byte

const (
	RegKindInt RegKind = iota
	RegKindFloat
)

// RegKindOf returns the register class a value of type t is allocated in.
func RegKindOf(t Type) RegKind {
	if t == TypeFloat64 {
		return RegKindFloat
	}
	return RegKindInt
}
