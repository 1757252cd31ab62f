package riscv

// Features records the RVV (RISC-V "V" vector extension) profile this
// backend assumes. Unlike amd64 and arm64, golang.org/x/sys/cpu v0.15.0
// (the version pinned in go.mod) exposes no riscv64 capability fields at
// all -- cpu_riscv64.go in that module only defines a cache-line-size
// constant, with no HasV/HasZba/... struct the way cpu.X86 and cpu.ARM64
// do for their architectures. Rather than hand-roll a /proc/cpuinfo or
// hwprobe(2) reader (a real OS-specific syscall surface, not something
// to fake), this backend assumes a fixed baseline profile -- RV64GC plus
// the V extension -- matching the one original_source/riscv_vector.cpp
// targets, and documents the gap rather than silently pretending to
// probe for it. See DESIGN.md.
type Features struct {
	HasV bool
}

func DetectFeatures() Features {
	return Features{HasV: true}
}
