// Package optimizer implements C4: the fixed-point IR optimization
// pipeline run between IR construction (C2) and register allocation (C5).
// The driver shape — an ordered list of passes, each reporting whether it
// changed anything, re-run until a fixed point or a pass-budget ceiling —
// is grounded on internal/engine/wazevo/ssa/pass.go's `passes []pass`
// runner in the teacher; see DESIGN.md.
package optimizer

import "github.com/tieredvm/corejit/internal/ir"

// Level selects how much of the pipeline runs, mirroring spec.md §4.3's
// per-tier optimization level (Baseline: none/canonicalize-only;
// Optimizing: medium; SuperOptimizing: full).
type Level byte

const (
	LevelNone Level = iota
	LevelCanonicalize
	LevelMedium
	LevelFull
)

// pass is one optimization pass: it mutates f in place and reports whether
// it changed anything.
type pass struct {
	name string
	run  func(f *ir.Function, ctx *Context) bool
}

// Context carries the cross-pass state a single pipeline run shares: the
// profiler feedback for type specialization and the target ISA's
// vector-width menu for vectorization. Both are optional (nil is valid:
// the corresponding passes just skip).
type Context struct {
	Profile   TypeOracle
	VectorISA VectorISA
}

// TypeOracle is the minimal profiler surface the type-specialization pass
// needs, kept as an interface so internal/optimizer doesn't import
// internal/profiler's concurrency machinery directly.
type TypeOracle interface {
	DominantTypeAt(bytecodeOffset uint32) (kind ir.Type, stability float64)
}

// VectorISA is the minimal backend surface the vectorizer consults to pick
// the widest available vector form (spec.md §4.3.7: "the backend chooses
// the widest supported").
type VectorISA interface {
	WidestVectorBits() int
}

// pipelineFor returns the ordered pass list for level, per spec.md §4.3's
// eight passes in order. LevelCanonicalize runs only the passes cheap
// enough to always be a win (folding, DCE, CSE); LevelMedium adds type
// specialization and LICM; LevelFull adds combining, vectorization, and
// scheduling.
func pipelineFor(level Level) []pass {
	switch level {
	case LevelNone:
		return nil
	case LevelCanonicalize:
		return []pass{
			{"constant-fold", ConstantFold},
			{"dce", DeadCodeEliminate},
			{"cse", CommonSubexpressionEliminate},
		}
	case LevelMedium:
		return []pass{
			{"constant-fold", ConstantFold},
			{"dce", DeadCodeEliminate},
			{"cse", CommonSubexpressionEliminate},
			{"type-specialize", TypeSpecialize},
			{"licm", LICM},
		}
	default: // LevelFull
		return []pass{
			{"constant-fold", ConstantFold},
			{"dce", DeadCodeEliminate},
			{"cse", CommonSubexpressionEliminate},
			{"type-specialize", TypeSpecialize},
			{"licm", LICM},
			{"combine", InstructionCombine},
			{"vectorize", Vectorize},
			{"schedule", Schedule},
		}
	}
}

// maxPassBudget bounds the fixed-point iteration so a pathological
// oscillation between two passes can't loop forever.
const maxPassBudget = 32

// Run drives the pipeline for level over f until no pass reports a change
// or the pass budget is exhausted, returning the number of rounds in which
// some pass changed f (the final round that changes nothing is not counted).
func Run(f *ir.Function, level Level, ctx *Context) int {
	if ctx == nil {
		ctx = &Context{}
	}
	passes := pipelineFor(level)
	round := 0
	for ; round < maxPassBudget; round++ {
		changed := false
		for _, p := range passes {
			if p.run(f, ctx) {
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return round
}
