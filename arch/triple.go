package arch

import (
	"fmt"
	"strings"
)

// Triple identifies the platform a binary is compiled for, for example
// "x86_64-unknown-linux-gnu" or "aarch64-apple-darwin".
type Triple string

// OS is the operating system component of a triple.
type OS string

const (
	Linux   OS = "linux"
	Darwin  OS = "darwin"
	Windows OS = "windows"
	FreeBSD OS = "freebsd"
	Unknown OS = "unknown"
)

// Family is the object file format produced for a triple.
type Family string

const (
	ELF   Family = "elf"
	MachO Family = "macho"
	PE    Family = "pe"
)

// ParseTriple validates the shape of a target triple and its CPU component.
func ParseTriple(value string) (Triple, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, "-")
	if len(parts) < 3 {
		return "", fmt.Errorf("target triple %q must have at least three components", value)
	}
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("target triple %q has an empty component", value)
		}
	}
	if Normalize(parts[0]) == "" {
		return "", fmt.Errorf("target triple %q: unsupported architecture %q", value, parts[0])
	}
	return Triple(value), nil
}

func (t Triple) String() string {
	return string(t)
}

// Arch returns the canonical CPU architecture of the triple.
func (t Triple) Arch() Architecture {
	head, _, _ := strings.Cut(string(t), "-")
	return Normalize(head)
}

// OS returns the operating system the triple targets.
func (t Triple) OS() OS {
	s := string(t)
	switch {
	case strings.Contains(s, "-linux"):
		return Linux
	case strings.Contains(s, "-apple-darwin"):
		return Darwin
	case strings.Contains(s, "-windows"):
		return Windows
	case strings.Contains(s, "-freebsd"):
		return FreeBSD
	default:
		return Unknown
	}
}

// Env returns the ABI component ("gnu", "musl", "msvc", "gnueabihf", ...)
// or "" when the triple has none.
func (t Triple) Env() string {
	parts := strings.Split(string(t), "-")
	if len(parts) < 4 {
		return ""
	}
	return parts[len(parts)-1]
}

func (t Triple) IsMusl() bool {
	return t.OS() == Linux && strings.HasPrefix(t.Env(), "musl")
}

func (t Triple) IsMSVC() bool {
	return t.OS() == Windows && t.Env() == "msvc"
}

func (t Triple) IsWindowsGNU() bool {
	return t.OS() == Windows && strings.HasPrefix(t.Env(), "gnu")
}

// Family returns the binary format used on the triple's platform.
func (t Triple) Family() Family {
	switch t.OS() {
	case Windows:
		return PE
	case Darwin:
		return MachO
	default:
		return ELF
	}
}

// ExeSuffix is appended to executable names.
func (t Triple) ExeSuffix() string {
	if t.OS() == Windows {
		return ".exe"
	}
	return ""
}

// DylibName returns the file name of a dynamic library called name.
func (t Triple) DylibName(name string) string {
	switch t.OS() {
	case Windows:
		return name + ".dll"
	case Darwin:
		return "lib" + name + ".dylib"
	default:
		return "lib" + name + ".so"
	}
}

// StaticLibName returns the file name of a static library called name.
func (t Triple) StaticLibName(name string) string {
	if t.IsMSVC() {
		return name + ".lib"
	}
	return "lib" + name + ".a"
}

// SymbolExt is the extension of split debug symbols for the triple, or ""
// when the platform has no split symbol convention.
func (t Triple) SymbolExt() string {
	switch {
	case t.IsMSVC():
		return ".pdb"
	case t.OS() == Darwin:
		return ".dSYM"
	case t.OS() == Linux:
		return ".dwp"
	default:
		return ""
	}
}
