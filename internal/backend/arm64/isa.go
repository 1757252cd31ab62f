package arm64

import "golang.org/x/sys/cpu"

// Features mirrors the teacher's cpuid_arm64.go ISAR-probe pattern: NEON
// is always present on AArch64, so only the optional extensions spec.md
// §4.4 names (dot-product, SVE, crypto) are probed.
type Features struct {
	DotProd bool
	SVE     bool
	AES     bool
}

func DetectFeatures() Features {
	return Features{
		DotProd: cpu.ARM64.HasASIMDDP,
		SVE:     cpu.ARM64.HasSVE,
		AES:     cpu.ARM64.HasAES,
	}
}
