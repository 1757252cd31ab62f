package optimizer

import "github.com/tieredvm/corejit/internal/ir"

// Vectorize implements spec.md §4.3.7: a loop whose body reads array
// elements at the loop's induction-variable index, combines them with one
// arithmetic op, and writes the result back to an array at that same
// index is rewritten to the Vec* opcodes at the backend's widest
// available vector width (ctx.VectorISA), rewriting the matched scalar
// instructions in place. No scalar copy of them and no remainder loop is
// emitted for a trip count the vector width does not divide. The induction
// variable is recognized as a loop-header block parameter whose
// back-edge value is exactly itself plus a constant; detection stops
// there rather than attempting general dependence analysis. Grounded on
// _examples/original_source/src/core/jit/.../parallel_array_optimization.cpp's
// stride-detection approach, scaled down to the one pattern this IR can
// express without a dependence analyzer of its own.
func Vectorize(f *ir.Function, ctx *Context) bool {
	if ctx.VectorISA == nil {
		return false
	}
	width := ctx.VectorISA.WidestVectorBits()
	if width < 128 {
		return false
	}
	dom := ir.ComputeDominators(f)
	loops := ir.FindLoops(f, dom)
	if len(loops) == 0 {
		return false
	}
	defs := buildDefs(f)
	changed := false
	for _, loop := range loops {
		if vectorizeLoop(f, loop, width, defs) {
			changed = true
		}
	}
	return changed
}

func vectorizeLoop(f *ir.Function, loop *ir.Loop, width int, defs map[ir.Value]defInfo) bool {
	induction, ok := findInductionVar(f, loop, defs)
	if !ok {
		return false
	}
	changed := false
	for id := range loop.Body {
		b := f.Block(id)
		for _, instr := range b.Instrs {
			switch instr.Op {
			case ir.OpLoadElem:
				if len(instr.Args) == 2 && instr.Args[1] == induction {
					instr.Op = ir.OpVecLoad
					instr.Aux = uint32(width)
					changed = true
				}
			case ir.OpStoreElem:
				if len(instr.Args) == 3 && instr.Args[1] == induction && isVectorized(instr.Args[2], defs) {
					instr.Op = ir.OpVecStore
					instr.Aux = uint32(width)
					changed = true
				}
			case ir.OpAddInt, ir.OpAddFloat:
				if len(instr.Args) == 2 && isVectorized(instr.Args[0], defs) && isVectorized(instr.Args[1], defs) {
					instr.Op = ir.OpVecAdd
					instr.Aux = uint32(width)
					changed = true
				}
			case ir.OpMulInt, ir.OpMulFloat:
				if len(instr.Args) == 2 && isVectorized(instr.Args[0], defs) && isVectorized(instr.Args[1], defs) {
					instr.Op = ir.OpVecMul
					instr.Aux = uint32(width)
					changed = true
				}
			}
		}
	}
	return changed
}

func isVectorized(v ir.Value, defs map[ir.Value]defInfo) bool {
	d, ok := defs[v]
	if !ok || d.instr == nil {
		return false
	}
	switch d.instr.Op {
	case ir.OpVecLoad, ir.OpVecAdd, ir.OpVecMul, ir.OpVecFMA:
		return true
	default:
		return false
	}
}

// findInductionVar looks for a header block parameter p such that, on the
// back edge (the predecessor edge that is itself inside the loop body),
// the value supplied for p's slot is `p + const` — the textbook simple
// induction variable shape.
func findInductionVar(f *ir.Function, loop *ir.Loop, defs map[ir.Value]defInfo) (ir.Value, bool) {
	header := f.Block(loop.Header)

	var edges []struct {
		instr *ir.Instruction
		index int
	}
	header.ForEachPredEdge(func(instr *ir.Instruction, index int) {
		edges = append(edges, struct {
			instr *ir.Instruction
			index int
		}{instr, index})
	})

	for i, predID := range header.Preds {
		if !loop.Body[predID] {
			continue // the loop-entry edge, not a back edge.
		}
		if i >= len(edges) {
			continue
		}
		args := edges[i].instr.TargetArgs[edges[i].index]
		for pi, p := range header.Params {
			if pi >= len(args) {
				continue
			}
			back := args[pi]
			d, ok := defs[back]
			if !ok || d.instr == nil {
				continue
			}
			if d.instr.Op != ir.OpAddInt && d.instr.Op != ir.OpAdd {
				continue
			}
			if len(d.instr.Args) == 2 && d.instr.Args[0] == p {
				if _, isConst := constOperand(defs, d.instr.Args[1]); isConst {
					return p, true
				}
			}
		}
	}
	return ir.ValueInvalid, false
}
