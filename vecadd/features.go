package vecadd

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// SIMDFeatures lists the vector extensions of this CPU that gonum's
// assembly kernels can use.
func SIMDFeatures() []string {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasSSE2 {
			features = append(features, "SSE2")
		}
		if cpu.X86.HasAVX {
			features = append(features, "AVX")
		}
		if cpu.X86.HasAVX2 {
			features = append(features, "AVX2")
		}
		if cpu.X86.HasFMA {
			features = append(features, "FMA")
		}
		if cpu.X86.HasAVX512F {
			features = append(features, "AVX512F")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "NEON")
		}
		if cpu.ARM64.HasSVE {
			features = append(features, "SVE")
		}
	}
	return features
}

// Describe returns a one-line summary of the CPU vector capabilities
func Describe() string {
	features := SIMDFeatures()
	if len(features) == 0 {
		return runtime.GOARCH + " (scalar)"
	}
	return runtime.GOARCH + " (" + strings.Join(features, ", ") + ")"
}
