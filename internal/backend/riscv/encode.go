package riscv

import (
	"fmt"
	"math"

	"github.com/tieredvm/corejit/internal/backend/common"
	"github.com/tieredvm/corejit/internal/ir"
	"github.com/tieredvm/corejit/internal/regalloc"
)

// R-type ALU ops (OP opcode 0x33): funct3/funct7 select the operation.
func encodeRType(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return opcode | funct3<<12 | funct7<<25 | rd<<7 | rs1<<15 | rs2<<20
}

func encodeAdd(rd, rs1, rs2 uint32) uint32 { return encodeRType(0x33, 0x0, 0x00, rd, rs1, rs2) }
func encodeSub(rd, rs1, rs2 uint32) uint32 { return encodeRType(0x33, 0x0, 0x20, rd, rs1, rs2) }
func encodeMul(rd, rs1, rs2 uint32) uint32 { return encodeRType(0x33, 0x0, 0x01, rd, rs1, rs2) } // RV64M
func encodeAnd(rd, rs1, rs2 uint32) uint32 { return encodeRType(0x33, 0x7, 0x00, rd, rs1, rs2) }
func encodeOr(rd, rs1, rs2 uint32) uint32  { return encodeRType(0x33, 0x6, 0x00, rd, rs1, rs2) }
func encodeXor(rd, rs1, rs2 uint32) uint32 { return encodeRType(0x33, 0x4, 0x00, rd, rs1, rs2) }

// SLT/SLTU materialize a 0/1 boolean directly, the same role CMP+CSET
// plays on arm64 and CMP+SETcc plays on amd64.
func encodeSlt(rd, rs1, rs2 uint32) uint32  { return encodeRType(0x33, 0x2, 0x00, rd, rs1, rs2) }
func encodeSltu(rd, rs1, rs2 uint32) uint32 { return encodeRType(0x33, 0x3, 0x00, rd, rs1, rs2) }

// I-type (OP-IMM opcode 0x13) and load/store (opcode 0x03/0x23).
func encodeIType(opcode, funct3, rd, rs1 uint32, imm12 int32) uint32 {
	return opcode | funct3<<12 | rd<<7 | rs1<<15 | (uint32(imm12)&0xFFF)<<20
}

func encodeAddi(rd, rs1 uint32, imm12 int32) uint32  { return encodeIType(0x13, 0x0, rd, rs1, imm12) }
func encodeSltiu(rd, rs1 uint32, imm12 int32) uint32 { return encodeIType(0x13, 0x3, rd, rs1, imm12) }
func encodeLd(rd, rs1 uint32, imm12 int32) uint32    { return encodeIType(0x03, 0x3, rd, rs1, imm12) }
func encodeJalr(rd, rs1 uint32, imm12 int32) uint32  { return encodeIType(0x67, 0x0, rd, rs1, imm12) }

func encodeSType(opcode, funct3, rs1, rs2 uint32, imm12 int32) uint32 {
	u := uint32(imm12)
	return opcode | funct3<<12 | (u&0x1F)<<7 | (u>>5&0x7F)<<25 | rs1<<15 | rs2<<20
}

func encodeSd(rs1, rs2 uint32, imm12 int32) uint32 { return encodeSType(0x23, 0x3, rs1, rs2, imm12) }

func encodeSlli(rd, rs1 uint32, shamt uint32) uint32 {
	return 0x13 | 0x1<<12 | rd<<7 | rs1<<15 | (shamt&0x3F)<<20
}

// encodeBranchCond encodes BEQ/BNE/BLT/BGE/BLTU/BGEU (B-type), carried
// directly from original_source/riscv_branch.cpp's emitBranchCond bit
// layout: | imm[12|10:5] | rs2 | rs1 | funct3 | imm[4:1|11] | opcode |.
func encodeBranchCond(funct3 uint32, rs1, rs2 uint32, offset int32) uint32 {
	o := uint32(offset)
	imm12 := (o >> 12 & 0x1) << 31
	imm11 := (o >> 11 & 0x1) << 7
	imm10_5 := (o >> 5 & 0x3F) << 25
	imm4_1 := (o >> 1 & 0xF) << 8
	return 0x63 | funct3<<12 | rs1<<15 | rs2<<20 | imm12 | imm11 | imm10_5 | imm4_1
}

const (
	funct3BEQ = 0x0
	funct3BNE = 0x1
	funct3BLT = 0x4
	funct3BGE = 0x5
)

// encodeJal encodes JAL rd, offset (J-type), carried directly from
// riscv_branch.cpp's emitJump bit layout: | imm[20|10:1|11|19:12] | rd |
// opcode |.
func encodeJal(rd uint32, offset int32) uint32 {
	o := uint32(offset)
	imm20 := (o >> 20 & 0x1) << 31
	imm19_12 := (o >> 12 & 0xFF) << 12
	imm11 := (o >> 11 & 0x1) << 20
	imm10_1 := (o >> 1 & 0x3FF) << 21
	return 0x6F | rd<<7 | imm20 | imm19_12 | imm11 | imm10_1
}

const (
	branchRangeLo = -4096
	branchRangeHi = 4096 - 2
	jumpRangeLo   = -1048576
	jumpRangeHi   = 1048576 - 2
)

// RVV encodings (opcode 0x57 = OP-V), carried directly from
// original_source/riscv_vector.cpp.
const (
	sew64 = 0b011 // vsew field: 64-bit elements (this IR's float64 lanes).
	lmul1 = 0b000 // vlmul field: LMUL=1.
)

func encodeVsetvli(rd, rs1 uint32, sew, lmul uint32) uint32 {
	zimm := sew<<3 | lmul
	return 0x57 | 0x7<<12 | rs1<<15 | rd<<7 | zimm<<20
}

// encodeVle/encodeVse encode the unit-stride VLE64.V/VSE64.V forms: the
// 64-bit element width lives in the width (funct3) field, and the mop
// field (bits 27:26) stays 00 for unit stride.
func encodeVle(vd, rs1 uint32) uint32 {
	return 0x07 | 0x7<<12 | rs1<<15 | vd<<7
}

func encodeVse(vs3, rs1 uint32) uint32 {
	return 0x27 | 0x7<<12 | rs1<<15 | vs3<<7
}

func encodeVectorOVV(funct6, funct3, vd, vs1, vs2 uint32) uint32 {
	return 0x57 | funct3<<12 | vd<<7 | vs1<<15 | vs2<<20 | funct6<<26
}

const (
	funct6VADD = 0x00
	funct6VSUB = 0x02
	funct6VMUL = 0x25
	funct6VDIV = 0x21
)

// VADD.VV/VSUB.VV are OPIVV (funct3 000); VMUL.VV/VDIV.VV are OPMVV
// (funct3 010).
const (
	funct3OPIVV = 0x0
	funct3OPMVV = 0x2
)

type encCtx struct {
	buf        common.Buffer
	labels     *common.LabelResolver
	frame      common.Frame
	alloc      *regalloc.Allocation
	blockOf    map[ir.BlockID]common.Label
	safepoints []common.SafepointEntry
	vconfigSet bool
}

// EmitFunction lowers fn to RV64GC(+V) machine code, following the same
// structural emission order as the amd64/arm64 backends.
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
			if err := ctx.emitInstr(b, instr); err != nil {
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

// sp (x2) is decremented directly for the spill area, the same
// frame-pointer-free convention arm64's emitPrologue uses.
func emitPrologue(buf *common.Buffer, frame common.Frame) {
	if n := frame.Size(); n > 0 {
		buf.Emit4(encodeAddi(enc(x2), enc(x2), -n))
	}
}

func emitEpilogue(buf *common.Buffer, frame common.Frame) {
	if n := frame.Size(); n > 0 {
		buf.Emit4(encodeAddi(enc(x2), enc(x2), n))
	}
	buf.Emit4(encodeJalr(enc(x0), enc(x1), 0)) // ret == jalr x0, x1, 0
}

func (c *encCtx) regOf(v regalloc.VReg) (regalloc.RealReg, bool) {
	return c.alloc.RealReg(v)
}

func (c *encCtx) vregOf(val ir.Value, vector bool) regalloc.VReg {
	t := regalloc.RegTypeOf(ir.RegKindOf(val.Type()), vector)
	return regalloc.VReg(val.ID()).SetRegType(t)
}

// ensureVectorConfigured emits a single vsetvli at the point the first
// vector operation is seen, configuring SEW=64/LMUL=1 for this IR's
// float64-lane vectorized forms; it is not re-issued per instruction
// since nothing in this backend's narrowed opcode subset changes the
// element width mid-function.
func (c *encCtx) ensureVectorConfigured() {
	if c.vconfigSet {
		return
	}
	c.vconfigSet = true
	c.buf.Emit4(encodeVsetvli(enc(x0), enc(x0), sew64, lmul1))
}

func (c *encCtx) emitInstr(b *ir.BasicBlock, instr *ir.Instruction) error {
	switch instr.Op {
	case ir.OpConst:
		return c.emitConst(instr)
	case ir.OpAddInt, ir.OpSubInt, ir.OpMulInt:
		return c.emitIntBinOp(instr)
	case ir.OpBitAnd, ir.OpBitOr, ir.OpBitXor:
		return c.emitBitOp(instr)
	case ir.OpEqInt, ir.OpLtInt, ir.OpGtInt:
		return c.emitIntCompare(instr)
	case ir.OpVecLoad:
		return c.emitVecLoad(instr)
	case ir.OpVecStore:
		return c.emitVecStore(instr)
	case ir.OpVecAdd, ir.OpVecMul:
		return c.emitVecBinOp(instr)
	case ir.OpVecFMA:
		return c.emitVecFMA(instr)
	case ir.OpSpillStore:
		return c.emitSpillStore(instr)
	case ir.OpSpillReload:
		return c.emitSpillReload(instr)
	case ir.OpJump:
		return c.emitJump(instr)
	case ir.OpBranch:
		return c.emitBranch(instr)
	case ir.OpReturn:
		c.safepoints = append(c.safepoints, common.SafepointEntry{CodeOffset: c.buf.Len(), SourceOffset: instr.SourceOffset})
		emitEpilogue(&c.buf, c.frame)
		return nil
	case ir.OpCall:
		c.safepoints = append(c.safepoints, common.SafepointEntry{CodeOffset: c.buf.Len(), SourceOffset: instr.SourceOffset})
		c.buf.Emit4(encodeJal(enc(x1), 0)) // patched by internal/codecache at link time.
		return nil
	default:
		return fmt.Errorf("riscv: unsupported opcode %s reached the backend", instr.Op)
	}
}

func (c *encCtx) emitConst(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return nil
	}
	imm := uint64(int64(instr.ConstNumber))
	if instr.Result().Type() == ir.TypeFloat64 {
		imm = math.Float64bits(instr.ConstNumber)
	}
	c.emitLoadImm64(enc(dst), imm)
	return nil
}

// emitLoadImm64 is this backend's "li" expansion: the teacher pattern
// here is amd64's single movabsq and arm64's MOVZ/MOVK chain, but RV64
// has no instruction with more than a 20-bit immediate, and ADDI/ORI's
// 12-bit immediate is sign-extended -- a naive 12-bit-at-a-time chunk
// would corrupt bits already shifted in whenever a chunk's top bit is
// set. This builds the constant 11 bits at a time instead: every 11-bit
// chunk is in [0, 0x7FF], which reads back as a non-negative 12-bit
// signed immediate, so SLLI-then-ADDI never needs the sign-extension
// correction real RV64 "li" assemblers apply. Six rounds of 11 bits
// (66 > 64) fully cover the value; this trades a couple of extra
// instructions for a simpler, always-correct sequence.
func (c *encCtx) emitLoadImm64(rd regalloc.RealReg, imm uint64) {
	d := enc(rd)
	c.buf.Emit4(encodeAddi(d, enc(x0), 0))
	for i := 0; i < 6; i++ {
		shift := uint(11 * (5 - i))
		chunk := int32((imm >> shift) & 0x7FF)
		if i > 0 {
			c.buf.Emit4(encodeSlli(d, d, 11))
		}
		if chunk != 0 {
			c.buf.Emit4(encodeAddi(d, d, chunk))
		}
	}
}

func (c *encCtx) emitIntBinOp(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return nil
	}
	lhs, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("riscv: spilled lhs operand reached emitIntBinOp without a reload")
	}
	rhs, ok := c.regOf(c.vregOf(instr.Args[1], false))
	if !ok {
		return fmt.Errorf("riscv: spilled rhs operand reached emitIntBinOp without a reload")
	}
	d, l, r := enc(dst), enc(lhs), enc(rhs)
	switch instr.Op {
	case ir.OpAddInt:
		c.buf.Emit4(encodeAdd(d, l, r))
	case ir.OpSubInt:
		c.buf.Emit4(encodeSub(d, l, r))
	case ir.OpMulInt:
		c.buf.Emit4(encodeMul(d, l, r))
	}
	return nil
}

func (c *encCtx) emitBitOp(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return nil
	}
	lhs, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("riscv: spilled lhs operand reached emitBitOp without a reload")
	}
	rhs, ok := c.regOf(c.vregOf(instr.Args[1], false))
	if !ok {
		return fmt.Errorf("riscv: spilled rhs operand reached emitBitOp without a reload")
	}
	d, l, r := enc(dst), enc(lhs), enc(rhs)
	switch instr.Op {
	case ir.OpBitAnd:
		c.buf.Emit4(encodeAnd(d, l, r))
	case ir.OpBitOr:
		c.buf.Emit4(encodeOr(d, l, r))
	case ir.OpBitXor:
		c.buf.Emit4(encodeXor(d, l, r))
	}
	return nil
}

// emitIntCompare lowers directly to SLT/SLTU/SLT-with-swapped-operands:
// unlike amd64/arm64 (which need a CMP-then-materialize idiom), RV64's
// SLT family already produces a 0/1 boolean in one instruction.
func (c *encCtx) emitIntCompare(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return nil
	}
	lhs, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("riscv: spilled lhs operand reached emitIntCompare without a reload")
	}
	rhs, ok := c.regOf(c.vregOf(instr.Args[1], false))
	if !ok {
		return fmt.Errorf("riscv: spilled rhs operand reached emitIntCompare without a reload")
	}
	d, l, r := enc(dst), enc(lhs), enc(rhs)
	switch instr.Op {
	case ir.OpLtInt:
		c.buf.Emit4(encodeSlt(d, l, r))
	case ir.OpGtInt:
		c.buf.Emit4(encodeSlt(d, r, l)) // gt(a,b) == lt(b,a)
	case ir.OpEqInt:
		// a==b  <=>  (a^b)==0  <=>  sltiu dst, a^b, 1 ("is it < 1").
		c.buf.Emit4(encodeXor(d, l, r))
		c.buf.Emit4(encodeSltiu(d, d, 1))
	}
	return nil
}

func (c *encCtx) emitSpillStore(instr *ir.Instruction) error {
	src, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("riscv: OpSpillStore's source operand has no register")
	}
	disp := c.frame.SpillBase - int32(instr.Aux)*8
	c.buf.Emit4(encodeSd(enc(x2), enc(src), disp))
	return nil
}

func (c *encCtx) emitSpillReload(instr *ir.Instruction) error {
	dst, ok := c.regOf(c.vregOf(instr.Result(), false))
	if !ok {
		return fmt.Errorf("riscv: OpSpillReload's destination has no register")
	}
	disp := c.frame.SpillBase - int32(instr.Aux)*8
	c.buf.Emit4(encodeLd(enc(dst), enc(x2), disp))
	return nil
}

// emitVecLoad/emitVecStore lower to VLE.V/VSE.V against a base-address
// GPR, the unit-stride form riscv_vector.cpp's emitVectorLoad/
// emitVectorStore cover; this backend doesn't use the strided (VLSE/
// VSSE) variant since nothing in the IR's vectorized subset needs a
// non-unit element stride.
func (c *encCtx) emitVecLoad(instr *ir.Instruction) error {
	c.ensureVectorConfigured()
	dst, ok := c.regOf(c.vregOf(instr.Result(), true))
	if !ok {
		return nil
	}
	base, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("riscv: spilled vector-load base address reached the backend without a reload")
	}
	c.buf.Emit4(encodeVle(enc(dst), enc(base)))
	return nil
}

func (c *encCtx) emitVecStore(instr *ir.Instruction) error {
	c.ensureVectorConfigured()
	base, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("riscv: spilled vector-store base address reached the backend without a reload")
	}
	src, ok := c.regOf(c.vregOf(instr.Args[1], true))
	if !ok {
		return fmt.Errorf("riscv: spilled vector-store source reached the backend without a reload")
	}
	c.buf.Emit4(encodeVse(enc(src), enc(base)))
	return nil
}

func (c *encCtx) emitVecBinOp(instr *ir.Instruction) error {
	c.ensureVectorConfigured()
	dst, ok := c.regOf(c.vregOf(instr.Result(), true))
	if !ok {
		return nil
	}
	lhs, ok := c.regOf(c.vregOf(instr.Args[0], true))
	if !ok {
		return fmt.Errorf("riscv: spilled vector lhs operand reached emitVecBinOp without a reload")
	}
	rhs, ok := c.regOf(c.vregOf(instr.Args[1], true))
	if !ok {
		return fmt.Errorf("riscv: spilled vector rhs operand reached emitVecBinOp without a reload")
	}
	var funct6, funct3 uint32
	switch instr.Op {
	case ir.OpVecAdd:
		funct6, funct3 = funct6VADD, funct3OPIVV
	case ir.OpVecMul:
		funct6, funct3 = funct6VMUL, funct3OPMVV
	}
	c.buf.Emit4(encodeVectorOVV(funct6, funct3, enc(dst), enc(lhs), enc(rhs)))
	return nil
}

// emitVecFMA lowers dst = a*b+c as VMUL.VV dst,a,b followed by VADD.VV
// dst,dst,c, rather than a single VMACC.VV: RVV's multiply-accumulate
// requires its destination operand to already hold the addend, a
// constraint this per-instruction lowering (no operand-to-destination
// coalescing pass) doesn't arrange for. Two vector instructions instead
// of one is a deliberate, documented scope simplification, not a
// correctness gap -- see DESIGN.md.
func (c *encCtx) emitVecFMA(instr *ir.Instruction) error {
	c.ensureVectorConfigured()
	dst, ok := c.regOf(c.vregOf(instr.Result(), true))
	if !ok {
		return nil
	}
	a, ok := c.regOf(c.vregOf(instr.Args[0], true))
	if !ok {
		return fmt.Errorf("riscv: spilled vector-FMA operand a reached the backend without a reload")
	}
	bReg, ok := c.regOf(c.vregOf(instr.Args[1], true))
	if !ok {
		return fmt.Errorf("riscv: spilled vector-FMA operand b reached the backend without a reload")
	}
	addend, ok := c.regOf(c.vregOf(instr.Args[2], true))
	if !ok {
		return fmt.Errorf("riscv: spilled vector-FMA operand c reached the backend without a reload")
	}
	c.buf.Emit4(encodeVectorOVV(funct6VMUL, funct3OPMVV, enc(dst), enc(a), enc(bReg)))
	c.buf.Emit4(encodeVectorOVV(funct6VADD, funct3OPIVV, enc(dst), enc(dst), enc(addend)))
	return nil
}

func (c *encCtx) emitJump(instr *ir.Instruction) error {
	target := c.blockOf[instr.Targets[0]]
	src := c.buf.Len()
	c.buf.Emit4(encodeJal(enc(x0), 0))
	c.labels.AddPending(src, target, "jal imm20", jumpRangeLo, jumpRangeHi,
		func(buf *common.Buffer, srcOff, tgtOff int) error {
			buf.Patch4(srcOff, encodeJal(enc(x0), int32(tgtOff-srcOff)))
			return nil
		}, nil)
	return nil
}

// emitBranch mirrors amd64/arm64's shape: test the already-materialized
// boolean condition with BNE against x0 for the true target, then an
// unconditional JAL for the false target. No long-form fallback is
// offered for an out-of-range BNE, for the same single-pass-layout
// reason arm64 doesn't offer one for B.cond (see DESIGN.md); an
// out-of-range branch here is rejected via EncodingRangeExceededError.
func (c *encCtx) emitBranch(instr *ir.Instruction) error {
	cond, ok := c.regOf(c.vregOf(instr.Args[0], false))
	if !ok {
		return fmt.Errorf("riscv: spilled branch condition reached emitBranch without a reload")
	}
	trueTarget := c.blockOf[instr.Targets[0]]
	src := c.buf.Len()
	c.buf.Emit4(encodeBranchCond(funct3BNE, enc(cond), enc(x0), 0))
	c.labels.AddPending(src, trueTarget, "bne imm12", branchRangeLo, branchRangeHi,
		func(buf *common.Buffer, srcOff, tgtOff int) error {
			buf.Patch4(srcOff, encodeBranchCond(funct3BNE, enc(cond), enc(x0), int32(tgtOff-srcOff)))
			return nil
		}, nil)
	return c.emitJump(&ir.Instruction{Op: ir.OpJump, Targets: instr.Targets[1:2]})
}
