// Package riscv implements the RV64GC + RVV encoder half of C8. Unlike
// amd64/arm64, no pack repo ships a Go RISC-V JIT backend to ground the
// bit layouts on; instead this package is grounded directly on
// _examples/original_source/src/core/jit/backend/riscv/{riscv_branch.cpp,
// riscv_vector.{cpp,h}} -- the B-type/J-type branch encodings and the
// vsetvli/SEW/LMUL vector-configuration packing are carried from that
// C++ implementation's bit arithmetic, translated into Go functions
// shaped the way amd64/encode.go and arm64/encode.go shape theirs (pure
// functions from operand fields to an encoded word). See DESIGN.md.
package riscv

import "github.com/tieredvm/corejit/internal/regalloc"

// Integer register numbering follows RV64's own x0-x31 convention; x0 is
// hardwired zero. Float registers f0-f31 are offset by 32 in this
// backend's RealReg space; RVV vector registers v0-v31 (used for
// spec.md §4.3.7's vectorized IR forms) are offset by 64.
const (
	x0 regalloc.RealReg = iota
	x1
	x2 // sp
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
	x29
	x30
	x31
)

const (
	fBase regalloc.RealReg = 32
	vBase regalloc.RealReg = 64
)

func f(n int) regalloc.RealReg { return fBase + regalloc.RealReg(n) }
func v(n int) regalloc.RealReg { return vBase + regalloc.RealReg(n) }

func enc(r regalloc.RealReg) uint32 {
	switch {
	case r >= vBase:
		return uint32(r - vBase)
	case r >= fBase:
		return uint32(r - fBase)
	default:
		return uint32(r)
	}
}

// AllocatablePool reserves x0 (hardwired zero), x1 (ra, the call/return
// link register), x2 (sp), x3/x4 (gp/tp, fixed by the calling convention)
// and dedicates x6 as this backend's int spill-reload scratch register,
// f31 as its float counterpart -- the same "one class, one scratch"
// shape amd64/arm64 use.
func AllocatablePool() regalloc.RegisterSet {
	var rs regalloc.RegisterSet
	rs.Pool[regalloc.RegTypeInt] = []regalloc.RealReg{
		x7, x8, x9, x10, x11, x12, x13, x14, x15, x16, x17, x18, x19, x20,
		x21, x22, x23, x24, x25, x26, x27, x28, x29, x30, x31,
	}
	rs.Scratch[regalloc.RegTypeInt] = []regalloc.RealReg{x6}
	rs.Pool[regalloc.RegTypeFloat] = []regalloc.RealReg{
		f(0), f(1), f(2), f(3), f(4), f(5), f(6), f(7), f(8), f(9), f(10),
		f(11), f(12), f(13), f(14), f(15), f(16), f(17), f(18), f(19), f(20),
	}
	rs.Scratch[regalloc.RegTypeFloat] = []regalloc.RealReg{f(31)}
	rs.Pool[regalloc.RegTypeVector] = []regalloc.RealReg{
		v(1), v(2), v(3), v(4), v(5), v(6), v(7), v(8), v(9), v(10),
		v(11), v(12), v(13), v(14), v(15),
	}
	rs.Scratch[regalloc.RegTypeVector] = []regalloc.RealReg{v(31)}
	return rs
}
