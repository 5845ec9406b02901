package arch

import (
	"fmt"
	"sort"
	"strings"
)

// Architecture is the CPU component of a target triple, spelled the way
// compiler toolchains spell it.
type Architecture string

const (
	X86_64      Architecture = "x86_64"
	I686        Architecture = "i686"
	AArch64     Architecture = "aarch64"
	ARMV7       Architecture = "armv7"
	ARM         Architecture = "arm"
	PPC64LE     Architecture = "powerpc64le"
	PPC64       Architecture = "powerpc64"
	S390X       Architecture = "s390x"
	RISCV64     Architecture = "riscv64gc"
	LoongArch64 Architecture = "loongarch64"
)

// Supported returns the full list of supported architectures.
func Supported() []Architecture {
	return []Architecture{
		X86_64,
		I686,
		AArch64,
		ARMV7,
		ARM,
		PPC64LE,
		PPC64,
		S390X,
		RISCV64,
		LoongArch64,
	}
}

// IsValid reports whether a matches a supported architecture value.
func (a Architecture) IsValid() bool {
	switch a {
	case X86_64, I686, AArch64, ARMV7, ARM, PPC64LE, PPC64, S390X, RISCV64, LoongArch64:
		return true
	default:
		return false
	}
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// Parse returns the canonical Architecture for the provided string or an error if unsupported.
func Parse(value string) (Architecture, error) {
	if arch := Normalize(value); arch != "" {
		return arch, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// Normalize maps the spellings used by uname, GOARCH and distribution
// package names onto a canonical Architecture. Returns "" when the string
// cannot be normalized.
func Normalize(value string) Architecture {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case string(X86_64), "x86-64", "amd64", "x64":
		return X86_64
	case "x86", "i386", "i486", "i586", string(I686), "386":
		return I686
	case string(AArch64), "arm64":
		return AArch64
	case string(ARMV7), "armv7l", "armhf":
		return ARMV7
	case string(ARM), "armv6", "armv6l", "armel":
		return ARM
	case string(PPC64LE), "ppc64le", "ppc64el":
		return PPC64LE
	case string(PPC64), "ppc64":
		return PPC64
	case string(S390X):
		return S390X
	case string(RISCV64), "riscv64":
		return RISCV64
	case string(LoongArch64), "loong64":
		return LoongArch64
	default:
		return ""
	}
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}
