// Package arm64 implements the AArch64 encoder half of C6/C7/C8's shared
// contract, grounded on the teacher's internal/engine/wazevo/backend/
// isa/arm64/{instr.go,instr_encoding.go,cond.go}: the same bit-level
// encoding functions for ADD/SUB (shifted-register and immediate forms),
// B/BL/B.cond, and RET, and the same 16-entry condition-flag table
// with its inversion function, retargeted from wasm's ssa.IntegerCmpCond/
// ssa.FloatCmpCond enums to internal/ir's Eq/Lt/Gt-suffixed opcodes.
package arm64

import "github.com/tieredvm/corejit/internal/regalloc"

// RealReg numbering follows AArch64's own register numbering (x0-x30,
// xzr=31 by convention here, v0-v31 offset by 32), the same scheme the
// teacher's arm64/reg.go constants use.
const (
	x0 regalloc.RealReg = iota
	x1
	x2
	x3
	x4
	x5
	x6
	x7
	x8
	x9
	x10
	x11
	x12
	x13
	x14
	x15
	x16
	x17
	x18
	x19
	x20
	x21
	x22
	x23
	x24
	x25
	x26
	x27
	x28
	fp // x29, frame pointer
	lr // x30, link register
	xzrOrSP
)

const vBase regalloc.RealReg = 32

func v(n int) regalloc.RealReg { return vBase + regalloc.RealReg(n) }

// AllocatablePool is the default RegisterSet C5 draws from when
// targeting arm64: x29/x30/xzr are reserved (frame pointer, link
// register, zero register), x9 held back as int scratch, v31 as float
// scratch, matching the teacher's abi.go CalleeSavedRegisters/
// CallerSavedRegisters split in spirit (exact save/restore placement is
// the prologue/epilogue's job, not the allocatable-set's).
func AllocatablePool() regalloc.RegisterSet {
	var rs regalloc.RegisterSet
	rs.Pool[regalloc.RegTypeInt] = []regalloc.RealReg{
		x0, x1, x2, x3, x4, x5, x6, x7, x8, x10, x11, x12, x13, x14, x15,
		x19, x20, x21, x22, x23, x24, x25, x26, x27, x28,
	}
	rs.Scratch[regalloc.RegTypeInt] = []regalloc.RealReg{x9}
	rs.Pool[regalloc.RegTypeFloat] = []regalloc.RealReg{
		v(0), v(1), v(2), v(3), v(4), v(5), v(6), v(7), v(8), v(9), v(10),
		v(11), v(12), v(13), v(14), v(15), v(16), v(17), v(18), v(19), v(20),
	}
	rs.Scratch[regalloc.RegTypeFloat] = []regalloc.RealReg{v(31)}
	return rs
}
