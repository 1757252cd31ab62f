package regalloc

import "github.com/tieredvm/corejit/internal/ir"

// funcAdapter implements Function directly over an *ir.Function, letting
// linearscan.go run against the pre-backend IR without C6-C8's backend
// lowering having happened yet. It owns the one VReg<->ir.Value mapping
// and the one allocation result (which VReg landed in which RealReg, or
// spilled to which slot) for the function being allocated.
type funcAdapter struct {
	fn     *ir.Function
	blocks []Block
	byID   map[ir.BlockID]*blockAdapter

	vregs    map[ir.Value]VReg
	isVector map[ir.Value]bool

	allocation map[VRegID]RealReg
	spillSlot  map[VRegID]int
	slots      *SpillSlots
}

// newFuncAdapter builds the adapter and its block list in reverse
// postorder, the order linearscan.go numbers program points in.
func newFuncAdapter(fn *ir.Function) *funcAdapter {
	fa := &funcAdapter{
		fn:         fn,
		byID:       make(map[ir.BlockID]*blockAdapter, len(fn.Blocks)),
		vregs:      make(map[ir.Value]VReg),
		isVector:   make(map[ir.Value]bool),
		allocation: make(map[VRegID]RealReg),
		spillSlot:  make(map[VRegID]int),
		slots:      NewSpillSlots(),
	}
	fn.AllInstructions(func(b *ir.BasicBlock, instr *ir.Instruction) {
		switch instr.Op {
		case ir.OpVecLoad, ir.OpVecAdd, ir.OpVecMul, ir.OpVecFMA:
			if instr.Result().Valid() {
				fa.isVector[instr.Result()] = true
			}
		}
	})
	rpo := ir.ComputeDominators(fn).ReversePostorder()
	fa.blocks = make([]Block, 0, len(rpo))
	for _, id := range rpo {
		ba := &blockAdapter{fa: fa, b: fn.Block(id)}
		fa.byID[id] = ba
		fa.blocks = append(fa.blocks, ba)
	}
	return fa
}

func (fa *funcAdapter) Blocks() []Block { return fa.blocks }

// vregFor returns the (possibly freshly allocated bookkeeping for) VReg
// identifying v. The VRegID is v's own ValueID: IR Values are already
// unique per function, so there is no need for a second ID space.
func (fa *funcAdapter) vregFor(v ir.Value) VReg {
	if vr, ok := fa.vregs[v]; ok {
		return vr
	}
	rt := RegTypeOf(ir.RegKindOf(v.Type()), fa.isVector[v])
	vr := VReg(v.ID()).SetRegType(rt)
	fa.vregs[v] = vr
	return vr
}

func (fa *funcAdapter) indexOf(b *ir.BasicBlock, instr *ir.Instruction) int {
	for i, cur := range b.Instrs {
		if cur == instr {
			return i
		}
	}
	return -1
}

// InsertSpillBefore splices an OpSpillStore of v's value into slot
// immediately before instr (normally called right after the instruction
// that defines v, to flush a value linearscan.go decided not to keep in
// a register for its whole lifetime).
func (fa *funcAdapter) InsertSpillBefore(instr Instr, v VReg, slot int) {
	ia := instr.(*instrAdapter)
	b := ia.block
	idx := fa.indexOf(b, ia.instr)
	if idx < 0 {
		return
	}
	store := fa.fn.NewEffectInstr(ir.OpSpillStore, fa.valueFor(v))
	store.Aux = uint32(slot)
	b.InsertBefore(idx, store)
}

// InsertReloadBefore splices an OpSpillReload of v from slot immediately
// before instr, rewriting every occurrence of v in instr's Args/TargetArgs
// to the reload's fresh result Value, and returns the VReg identifying
// that fresh value (linearscan.go assigns it one of the class's reserved
// scratch registers rather than re-running allocation for it).
func (fa *funcAdapter) InsertReloadBefore(instr Instr, v VReg, slot int) VReg {
	ia := instr.(*instrAdapter)
	b := ia.block
	idx := fa.indexOf(b, ia.instr)
	if idx < 0 {
		return VRegInvalid
	}
	old := fa.valueFor(v)
	reload, newVal := fa.fn.NewValueInstr(ir.OpSpillReload, old.Type())
	reload.Aux = uint32(slot)
	b.InsertBefore(idx, reload)

	for i, a := range ia.instr.Args {
		if a == old {
			ia.instr.Args[i] = newVal
		}
	}
	for ti := range ia.instr.TargetArgs {
		for i, a := range ia.instr.TargetArgs[ti] {
			if a == old {
				ia.instr.TargetArgs[ti][i] = newVal
			}
		}
	}
	return fa.vregFor(newVal)
}

// valueFor is the inverse of vregFor: it recovers the ir.Value a VReg
// names by searching fa.vregs for the entry with the same VRegID, so the
// Value returned keeps its original IR type. A VReg the adapter did not
// mint yields ValueInvalid.
func (fa *funcAdapter) valueFor(v VReg) ir.Value {
	for val, vr := range fa.vregs {
		if vr.ID() == v.ID() {
			return val
		}
	}
	return ir.ValueInvalid
}

// blockAdapter implements Block over an *ir.BasicBlock.
type blockAdapter struct {
	fa     *funcAdapter
	b      *ir.BasicBlock
	instrs []Instr // cached: see Instrs.
}

func (ba *blockAdapter) ID() int { return int(ba.b.ID()) }

// Instrs returns one instrAdapter per instruction present in b at the
// time of the first call, cached from then on. The cache matters because
// linearscan.go numbers program points, builds intervals, and later
// applies the resulting allocation in three separate passes over the
// same Instrs() list -- if each call minted fresh wrapper objects, the
// position/interval maps keyed by Instr identity from pass one would
// never match the Instr values pass three sees. Spill/reload insertion
// (InsertSpillBefore/InsertReloadBefore) deliberately bypasses this
// cache and mutates ba.b.Instrs directly, since reload/store pseudo-ops
// are never themselves subject to allocation.
func (ba *blockAdapter) Instrs() []Instr {
	if ba.instrs == nil {
		ba.instrs = make([]Instr, len(ba.b.Instrs))
		for i, instr := range ba.b.Instrs {
			ba.instrs[i] = &instrAdapter{fa: ba.fa, block: ba.b, instr: instr}
		}
	}
	return ba.instrs
}

// Preds returns this block's predecessors, used by live.go's backward
// dataflow (liveness needs successors; live.go inverts Preds into a
// successor map once rather than threading Targets through the Instr
// interface).
func (ba *blockAdapter) Preds() []Block {
	out := make([]Block, 0, len(ba.b.Preds))
	for _, id := range ba.b.Preds {
		out = append(out, ba.fa.byID[id])
	}
	return out
}

// ParamDefs returns the VRegs this block's incoming phi parameters
// define at block entry. Not part of the Block interface proper (most
// Block implementations -- a future backend-lowered one included -- have
// no phis left by the time they reach register allocation); live.go
// checks for this optional capability the way io.ReaderFrom is checked.
func (ba *blockAdapter) ParamDefs() []VReg {
	out := make([]VReg, len(ba.b.Params))
	for i, p := range ba.b.Params {
		out[i] = ba.fa.vregFor(p)
	}
	return out
}

// instrAdapter implements Instr over an *ir.Instruction.
type instrAdapter struct {
	fa    *funcAdapter
	block *ir.BasicBlock
	instr *ir.Instruction
}

func (ia *instrAdapter) String() string { return ia.instr.String() }

func (ia *instrAdapter) Defs() []VReg {
	if !ia.instr.Result().Valid() {
		return nil
	}
	return []VReg{ia.fa.vregFor(ia.instr.Result())}
}

func (ia *instrAdapter) Uses() []VReg {
	var out []VReg
	for _, a := range ia.instr.Args {
		out = append(out, ia.fa.vregFor(a))
	}
	for _, args := range ia.instr.TargetArgs {
		for _, a := range args {
			out = append(out, ia.fa.vregFor(a))
		}
	}
	return out
}

func (ia *instrAdapter) AssignDef(v VReg) {
	if ia.instr.Result().Valid() {
		ia.fa.allocation[ia.fa.vregFor(ia.instr.Result()).ID()] = v.RealReg()
	}
}

func (ia *instrAdapter) AssignUses(vs []VReg) {
	uses := ia.Uses()
	for i, u := range uses {
		if i < len(vs) && vs[i] != 0 {
			ia.fa.allocation[u.ID()] = vs[i].RealReg()
		}
	}
}

func (ia *instrAdapter) IsCall() bool {
	switch ia.instr.Op {
	case ir.OpCall, ir.OpCallMethod:
		return true
	default:
		return false
	}
}
