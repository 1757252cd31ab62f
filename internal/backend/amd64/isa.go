package amd64

import "golang.org/x/sys/cpu"

// Features reports which optional x86-64 extensions the host CPU offers,
// generalizing the teacher's arm64 cpuid_arm64.go ISAR-probe pattern
// (query golang.org/x/sys/cpu's capability struct once, cache the
// booleans) from AArch64's ID_AA64ISAR* registers to x86-64's CPUID
// leaves. The tier controller (C9) consults this before handing a
// function to the optimizing tier's vectorizer (spec.md §4.3.7): a
// vectorized plan that needs AVX2 on a host without it must not be
// selected.
type Features struct {
	SSE42 bool
	AVX   bool
	AVX2  bool
	FMA   bool
	BMI2  bool
}

// DetectFeatures queries the running host's CPUID-derived capabilities.
func DetectFeatures() Features {
	return Features{
		SSE42: cpu.X86.HasSSE42,
		AVX:   cpu.X86.HasAVX,
		AVX2:  cpu.X86.HasAVX2,
		FMA:   cpu.X86.HasFMA,
		BMI2:  cpu.X86.HasBMI2,
	}
}
