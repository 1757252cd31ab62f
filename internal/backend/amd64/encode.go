package amd64

import (
	"fmt"
	"math"

	"github.com/tieredvm/corejit/internal/backend/common"
	"github.com/tieredvm/corejit/internal/ir"
	"github.com/tieredvm/corejit/internal/regalloc"
)

// rex bit flags, named the way the teacher's rexInfo const block does in
// instr_encoding.go (W = 64-bit operand size, R/X/B extend ModRM.reg,
// SIB.index, and ModRM.rm/SIB.base to registers 8-15).
const (
	rexW     byte = 1 << 3
	rexR     byte = 1 << 2
	rexX     byte = 1 << 1
	rexB     byte = 1 << 0
	rexFixed byte = 0x40
)

func emitREX(buf *common.Buffer, w bool, r, x, b bool) {
	var bits byte
	if w {
		bits |= rexW
	}
	if r {
		bits |= rexR
	}
	if x {
		bits |= rexX
	}
	if b {
		bits |= rexB
	}
	if bits != 0 {
		buf.Emit1(rexFixed | bits)
	}
}

// emitModRMReg encodes a register-direct ModRM byte (mod=11) for a
// two-operand reg/reg instruction: opcodeReg is the ModRM.reg field
// (either a second operand register or, for group opcodes, a literal
// sub-opcode number), rm is the ModRM.rm field.
func emitModRMReg(buf *common.Buffer, opcodeReg, rm modrmEnc) {
	buf.Emit1(0xC0 | opcodeReg.bits<<3 | rm.bits)
}

// emitModRMFrameDisp32 encodes a [rbp + disp32] memory operand, used for
// every spill slot and local-variable access: the frame pointer is
// always live across the function body (machine_pro_epi_logue.go in the
// teacher keeps rbp as a dedicated frame-pointer register the same way).
func emitModRMFrameDisp32(buf *common.Buffer, opcodeReg modrmEnc, disp int32) {
	buf.Emit1(0x80 | opcodeReg.bits<<3 | modrmEncOf(rbp).bits)
	buf.Emit4(uint32(disp))
}

// encCtx carries the state EmitFunction threads through one function's
// instruction walk: the label resolver for block targets, the frame
// layout for spill/local addressing, and the allocation telling each
// Value where it lives.
type encCtx struct {
	buf        common.Buffer
	labels     *common.LabelResolver
	frame      common.Frame
	alloc      *regalloc.Allocation
	blockOf    map[ir.BlockID]common.Label
	safepoints []common.SafepointEntry
}

// EmitFunction lowers fn (already register-allocated by C5's
// AllocateFunction, whose result is passed in as alloc) to x86-64
// machine code. fn's CFG order is used directly as the emission order,
// matching spec.md §4.4's "structural" backend contract: no block
// reordering or layout optimization happens here.
func EmitFunction(fn *ir.Function, alloc *regalloc.Allocation, frame common.Frame) ([]byte, *common.Metadata, error) {
	ctx := &encCtx{
		labels:  common.NewLabelResolver(),
		frame:   frame,
		alloc:   alloc,
		blockOf: make(map[ir.BlockID]common.Label),
	}
	for _, b := range fn.Blocks {
		ctx.blockOf[b.ID()] = common.Label(b.ID())
	}

	emitPrologue(&ctx.buf, frame)

	for _, b := range fn.Blocks {
		ctx.labels.Define(ctx.blockOf[b.ID()], ctx.buf.Len())
		for _, instr := range b.Instrs {
			if err := ctx.emitInstr(fn, b, instr); err != nil {
				return nil, nil, err
			}
		}
	}

	if err := ctx.labels.ResolveAll(&ctx.buf); err != nil {
		return nil, nil, err
	}

	return ctx.buf.Bytes(), &common.Metadata{
		FrameSize:      int(frame.Size()),
		SpillSlotCount: frame.SlotCount,
		Safepoints:     ctx.safepoints,
	}, nil
}

// emitPrologue pushes rbp, establishes the new frame pointer, and
// reserves frame.Size() bytes of stack for spill slots -- the standard
// x86-64 "push rbp; mov rbp, rsp; sub rsp, N" sequence, grounded on the
// teacher's machine_pro_epi_logue.go (same three-instruction shape,
// generalized from wasm's fixed local/param layout to this frame's
// spill-only layout since C5 owns the only stack state this backend
// needs to reserve).
func emitPrologue(buf *common.Buffer, frame common.Frame) {
	buf.Emit1(0x50 | modrmEncOf(rbp).bits) // push rbp
	emitREX(buf, true, false, false, false)
	buf.Emit1(0x89) // mov r/m64, r64
	emitModRMReg(buf, modrmEncOf(rsp), modrmEncOf(rbp))
	if n := frame.Size(); n > 0 {
		emitREX(buf, true, false, false, false)
		buf.Emit1(0x81) // sub r/m64, imm32 (group 1, /5)
		emitModRMReg(buf, modrmEnc{bits: 5}, modrmEncOf(rsp))
		buf.Emit4(uint32(n))
	}
}

func emitEpilogue(buf *common.Buffer, frame common.Frame) {
	if n := frame.Size(); n > 0 {
		emitREX(buf, true, false, false, false)
		buf.Emit1(0x81) // add r/m64, imm32 (group 1, /0)
		emitModRMReg(buf, modrmEnc{bits: 0}, modrmEncOf(rsp))
		buf.Emit4(uint32(n))
	}
	buf.Emit1(0x58 | modrmEncOf(rbp).bits) // pop rbp
	buf.Emit1(0xC3)                        // ret
}

func (c *encCtx) regOf(v regalloc.VReg) (regalloc.RealReg, bool) {
	return c.alloc.RealReg(v)
}

func (c *encCtx) vregOf(val ir.Value, vector bool) regalloc.VReg {
	t := regalloc.RegTypeOf(ir.RegKindOf(val.Type()), vector)
	return regalloc.VReg(val.ID()).SetRegType(t)
}

// emitInstr dispatches one IR instruction to its encoding. Only the
// opcode subset a register-allocated function can still contain after
// C2-C4 have run is handled here in full; opcodes the optimizer is
// documented to always eliminate before this point (the generic
// Add/Sub/Mul/Eq/Lt family, resolved to their Int/Float-suffixed form by
// type specialization, spec.md §4.3.4) fall through to an explicit error
// rather than silently mis-encoding, since reaching this backend with
// one would be an upstream bug, not a case this encoder should paper
// over.
func (c *encCtx) emitInstr(fn *ir.Function, b *ir.BasicBlock, instr *ir.Instruction) error {
	switch instr.Op {
	case ir.OpConst:
		return c.emitConst(instr)
	case ir.OpAddInt, ir.OpSubInt, ir.OpMulInt:
		return c.emitIntBinOp(instr)
	case ir.OpBitAnd, ir.OpBitOr, ir.OpBitXor:
		return c.emitBitOp(instr)
	case ir.OpEqInt, ir.OpLtInt, ir.OpGtInt:
		return c.emitIntCompare(instr)
	case ir.OpAddFloat, ir.OpSubFloat, ir.OpMulFloat, ir.OpDivFloat:
		return c.emitFloatBinOp(instr)
	case ir.OpSpillStore:
		return c.emitSpillStore(instr)
	case ir.OpSpillReload:
		return c.emitSpillReload(instr)
	case ir.OpJump:
		return c.emitJump(b, instr)
	case ir.OpBranch:
		return c.emitBranch(b, instr)
	case ir.OpReturn:
		c.safepoints = append(c.safepoints, common.SafepointEntry{CodeOffset: c.buf.Len(), SourceOffset: instr.SourceOffset})
		emitEpilogue(&c.buf, c.frame)
		return nil
	case ir.OpCall:
		c.safepoints = append(c.safepoints, common.SafepointEntry{CodeOffset: c.buf.Len(), SourceOffset: instr.SourceOffset})
		return c.emitCall(instr)
	default:
		return fmt.Errorf("amd64: unsupported opcode %s reached the backend (expected type specialization/lowering to have removed it)", instr.Op)
	}
}

func (c *encCtx) emitConst(instr *ir.Instruction) error {
	if instr.Result().Type() == ir.TypeFloat64 {
		return c.emitFloatConst(instr)
	}
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return nil // spilled immediately; applyAllocation already emitted the store after this.
	}
	enc := modrmEncOf(dst)
	emitREX(&c.buf, true, false, false, enc.needRex)
	c.buf.Emit1(0xB8 | enc.bits)
	c.buf.Emit8(uint64(int64(instr.ConstNumber)))
	return nil
}

// emitFloatConst has no dedicated GPR destination to stage the bit
// pattern through (a float64 constant's Value only ever lands in an xmm
// register), so it borrows the reserved int scratch register: movabsq
// the bit pattern into it, then MOVQ xmm, r/m64 (66 REX.W 0F 6E) copies
// those bits into the destination xmm register -- the same two-step
// "GPR then gprToXmm" sequence the teacher's instr_encoding.go uses for
// its own constant-materializing xmmRmR.
func (c *encCtx) emitFloatConst(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), true))
	if !ok {
		return nil
	}
	scratch := r11
	bits := math.Float64bits(instr.ConstNumber)
	senc := modrmEncOf(scratch)
	emitREX(&c.buf, true, false, false, senc.needRex)
	c.buf.Emit1(0xB8 | senc.bits)
	c.buf.Emit8(bits)

	denc := modrmEncOf(dst)
	c.buf.Emit1(0x66) // operand-size override, required by MOVQ xmm<-gpr
	emitREX(&c.buf, true, denc.needRex, false, senc.needRex)
	c.buf.Emit1(0x0F)
	c.buf.Emit1(0x6E)
	emitModRMReg(&c.buf, denc, senc)
	return nil
}

func (c *encCtx) emitIntBinOp(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return nil
	}
	src, ok := c.regOf(c.vregOf(instr.Args[1], false))
	if !ok {
		return fmt.Errorf("amd64: spilled rhs operand reached emitIntBinOp without a reload")
	}
	var opc byte
	switch instr.Op {
	case ir.OpAddInt:
		opc = 0x01
	case ir.OpSubInt:
		opc = 0x29
	case ir.OpMulInt:
		return c.emitIMul(dst, src)
	}
	emitREX(&c.buf, false, modrmEncOf(src).needRex, false, modrmEncOf(dst).needRex)
	c.buf.Emit1(opc)
	emitModRMReg(&c.buf, modrmEncOf(src), modrmEncOf(dst))
	return nil
}

func (c *encCtx) emitIMul(dst, src regalloc.RealReg) error {
	emitREX(&c.buf, false, modrmEncOf(dst).needRex, false, modrmEncOf(src).needRex)
	c.buf.Emit1(0x0F)
	c.buf.Emit1(0xAF)
	emitModRMReg(&c.buf, modrmEncOf(dst), modrmEncOf(src))
	return nil
}

func (c *encCtx) emitBitOp(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return nil
	}
	src, ok := c.regOf(c.vregOf(instr.Args[1], false))
	if !ok {
		return fmt.Errorf("amd64: spilled rhs operand reached emitBitOp without a reload")
	}
	var opc byte
	switch instr.Op {
	case ir.OpBitAnd:
		opc = 0x21
	case ir.OpBitOr:
		opc = 0x09
	case ir.OpBitXor:
		opc = 0x31
	}
	emitREX(&c.buf, false, modrmEncOf(src).needRex, false, modrmEncOf(dst).needRex)
	c.buf.Emit1(opc)
	emitModRMReg(&c.buf, modrmEncOf(src), modrmEncOf(dst))
	return nil
}

func (c *encCtx) emitIntCompare(instr *ir.Instruction) error {
	lhs, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("amd64: spilled lhs operand reached emitIntCompare without a reload")
	}
	rhs, ok := c.regOf(c.vregOf(instr.Args[1], false))
	if !ok {
		return fmt.Errorf("amd64: spilled rhs operand reached emitIntCompare without a reload")
	}
	emitREX(&c.buf, false, modrmEncOf(rhs).needRex, false, modrmEncOf(lhs).needRex)
	c.buf.Emit1(0x39) // cmp r/m, r
	emitModRMReg(&c.buf, modrmEncOf(rhs), modrmEncOf(lhs))

	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return nil
	}
	var cc byte
	switch instr.Op {
	case ir.OpEqInt:
		cc = 0x94 // sete
	case ir.OpLtInt:
		cc = 0x9C // setl
	case ir.OpGtInt:
		cc = 0x9F // setg
	}
	enc := modrmEncOf(dst)
	if enc.needRex {
		emitREX(&c.buf, false, false, false, true)
	}
	c.buf.Emit1(0x0F)
	c.buf.Emit1(cc)
	emitModRMReg(&c.buf, modrmEnc{bits: 0}, enc)
	return nil
}

func (c *encCtx) emitFloatBinOp(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return nil
	}
	src, ok := c.regOf(c.vregOf(instr.Args[1], false))
	if !ok {
		return fmt.Errorf("amd64: spilled rhs operand reached emitFloatBinOp without a reload")
	}
	var opc byte
	switch instr.Op {
	case ir.OpAddFloat:
		opc = 0x58
	case ir.OpSubFloat:
		opc = 0x5C
	case ir.OpMulFloat:
		opc = 0x59
	case ir.OpDivFloat:
		opc = 0x5E
	}
	c.buf.Emit1(0xF2) // scalar-double legacy prefix
	emitREX(&c.buf, false, modrmEncOf(dst).needRex, false, modrmEncOf(src).needRex)
	c.buf.Emit1(0x0F)
	c.buf.Emit1(opc)
	emitModRMReg(&c.buf, modrmEncOf(dst), modrmEncOf(src))
	return nil
}

// emitSpillStore writes the spilled Value's register to its frame slot;
// Aux holds the slot index (internal/ir/opcode.go's OpSpillStore doc
// comment), and the value being stored is this instruction's sole Arg --
// but it was already spilled by the time regalloc ran, so the register
// it's reading from is whatever scratch/source register applyAllocation
// left it in via the preceding producing instruction.
func (c *encCtx) emitSpillStore(instr *ir.Instruction) error {
	src, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("amd64: OpSpillStore's source operand has no register")
	}
	disp := c.frame.SpillBase - int32(instr.Aux)*8
	enc := modrmEncOf(src)
	emitREX(&c.buf, true, enc.needRex, false, false)
	c.buf.Emit1(0x89) // mov [rbp+disp], src
	emitModRMFrameDisp32(&c.buf, enc, disp)
	return nil
}

func (c *encCtx) emitSpillReload(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return fmt.Errorf("amd64: OpSpillReload's destination has no register")
	}
	disp := c.frame.SpillBase - int32(instr.Aux)*8
	enc := modrmEncOf(dst)
	emitREX(&c.buf, true, enc.needRex, false, false)
	c.buf.Emit1(0x8B) // mov dst, [rbp+disp]
	emitModRMFrameDisp32(&c.buf, enc, disp)
	return nil
}

func (c *encCtx) emitJump(b *ir.BasicBlock, instr *ir.Instruction) error {
	target := c.blockOf[instr.Targets[0]]
	if off, ok := c.labels.Offset(target); ok && off <= c.buf.Len() {
		c.buf.Emit1(0xE9)
		disp := int32(off - (c.buf.Len() + 4))
		c.buf.Emit4(uint32(disp))
		return nil
	}
	src := c.buf.Len()
	c.buf.Emit1(0xE9)
	c.buf.Emit4(0)
	c.labels.AddPending(src, target, "jmp rel32", -1<<31, 1<<31-1,
		func(buf *common.Buffer, srcOff, tgtOff int) error {
			buf.Patch4(srcOff+1, uint32(int32(tgtOff-(srcOff+5))))
			return nil
		}, nil)
	return nil
}

// emitBranch lowers OpBranch's (cond, trueTarget, falseTarget) into a
// test+jcc/jmp pair: test the condition register against itself, jump to
// the false target on zero, fall through (or jump) to the true target
// otherwise -- matching the teacher's convention of always materializing
// a boolean into a GPR first (aluRmiR/setcc) rather than keeping
// condition-flag state live across block boundaries.
func (c *encCtx) emitBranch(b *ir.BasicBlock, instr *ir.Instruction) error {
	cond, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("amd64: spilled branch condition reached emitBranch without a reload")
	}
	enc := modrmEncOf(cond)
	emitREX(&c.buf, false, enc.needRex, false, enc.needRex)
	c.buf.Emit1(0x85) // test r/m, r
	emitModRMReg(&c.buf, enc, enc)

	falseTarget := c.blockOf[instr.Targets[1]]
	src := c.buf.Len()
	c.buf.Emit1(0x0F)
	c.buf.Emit1(0x84) // je rel32
	c.buf.Emit4(0)
	c.labels.AddPending(src, falseTarget, "jcc rel32", -1<<31, 1<<31-1,
		func(buf *common.Buffer, srcOff, tgtOff int) error {
			buf.Patch4(srcOff+2, uint32(int32(tgtOff-(srcOff+6))))
			return nil
		}, nil)
	return c.emitJump(b, &ir.Instruction{Op: ir.OpJump, Targets: instr.Targets[:1]})
}

func (c *encCtx) emitCall(instr *ir.Instruction) error {
	c.buf.Emit1(0xE8) // call rel32; the target is resolved by
	c.buf.Emit4(0)    // internal/codecache once the callee's address is known.
	return nil
}
