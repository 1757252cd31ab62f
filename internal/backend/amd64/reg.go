// Package amd64 implements the x86-64 encoder half of C6: a pure
// function from an already-register-allocated internal/ir.Function to
// machine code bytes plus internal/backend/common.Metadata. The
// REX/ModRM encoding shape, the general-purpose/xmm RealReg numbering,
// and the legacy-prefix-then-REX-then-opcode byte ordering are carried
// from the teacher's internal/engine/wazevo/backend/isa/amd64/
// {instr.go,instr_encoding.go}, retargeted from SSA values to
// internal/regalloc.VReg/RealReg and narrowed to the opcode subset
// internal/ir emits (see DESIGN.md for the full opcode-coverage table).
package amd64

import "github.com/tieredvm/corejit/internal/regalloc"

// RealReg encoding: general-purpose registers 0-15 in the same order as
// the teacher's isa/amd64/reg.go constants, xmm registers 16-31.
const (
	rax regalloc.RealReg = iota
	rcx
	rdx
	rbx
	rsp
	rbp
	rsi
	rdi
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
)

const xmmBase regalloc.RealReg = 16

func xmm(n int) regalloc.RealReg { return xmmBase + regalloc.RealReg(n) }

var regNames = map[regalloc.RealReg]string{
	rax: "rax", rcx: "rcx", rdx: "rdx", rbx: "rbx", rsp: "rsp", rbp: "rbp", rsi: "rsi", rdi: "rdi",
	r8: "r8", r9: "r9", r10: "r10", r11: "r11", r12: "r12", r13: "r13", r14: "r14", r15: "r15",
}

func init() {
	for i := 0; i < 16; i++ {
		regNames[xmm(i)] = "xmm" + string(rune('0'+i%10))
	}
}

// IntArgRegs/FloatArgRegs mirror the teacher's abi.go intArgResultRegs/
// floatArgResultRegs: the System V AMD64 ABI's integer and SSE argument
// registers, in order.
var (
	IntArgRegs   = []regalloc.RealReg{rdi, rsi, rdx, rcx, r8, r9}
	FloatArgRegs = []regalloc.RealReg{xmm(0), xmm(1), xmm(2), xmm(3), xmm(4), xmm(5), xmm(6), xmm(7)}
)

// AllocatablePool is the default RegisterSet C5 draws from when
// targeting amd64: rbp/rsp are reserved for the frame, r11/xmm15 held
// back as scratch for spill reloads.
func AllocatablePool() regalloc.RegisterSet {
	var rs regalloc.RegisterSet
	rs.Pool[regalloc.RegTypeInt] = []regalloc.RealReg{rax, rcx, rdx, rbx, rsi, rdi, r8, r9, r10, r12, r13, r14, r15}
	rs.Scratch[regalloc.RegTypeInt] = []regalloc.RealReg{r11}
	rs.Pool[regalloc.RegTypeFloat] = []regalloc.RealReg{
		xmm(0), xmm(1), xmm(2), xmm(3), xmm(4), xmm(5), xmm(6), xmm(7),
		xmm(8), xmm(9), xmm(10), xmm(11), xmm(12), xmm(13), xmm(14),
	}
	rs.Scratch[regalloc.RegTypeFloat] = []regalloc.RealReg{xmm(15)}
	return rs
}

// modrmEnc is the 3-bit ModRM/SIB register encoding (0-7) plus the REX.R/
// REX.B/REX.X extension bit for registers 8-15, split out exactly as the
// teacher's regEnc type does in isa/amd64/instr_encoding.go.
type modrmEnc struct {
	bits    byte
	needRex bool
}

func modrmEncOf(r regalloc.RealReg) modrmEnc {
	n := int(r)
	if n >= int(xmmBase) {
		n -= int(xmmBase)
	}
	return modrmEnc{bits: byte(n & 0x7), needRex: n >= 8}
}
