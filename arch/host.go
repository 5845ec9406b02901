package arch

import (
	"debug/elf"
	"io"
	"path/filepath"
	"strings"
)

// hostTriple derives the triple of a machine from its uname fields.
func hostTriple(sysname, machine string, musl bool) Triple {
	cpu := Normalize(machine)
	if cpu == "" {
		cpu = Architecture(machine)
	}
	switch sysname {
	case "Darwin":
		return Triple(string(cpu) + "-apple-darwin")
	case "FreeBSD":
		return Triple(string(cpu) + "-unknown-freebsd")
	case "Linux":
		env := "gnu"
		if musl {
			env = "musl"
		}
		switch cpu {
		case ARMV7, ARM:
			env += "eabihf"
		}
		return Triple(string(cpu) + "-unknown-linux-" + env)
	default:
		return Triple(string(cpu) + "-unknown-" + sysname)
	}
}

// muslLinked reports whether the first dynamically linked executable among
// paths loads through the musl dynamic linker. Static or unreadable files are
// skipped.
func muslLinked(paths ...string) bool {
	for _, path := range paths {
		if interp, ok := interpreter(path); ok {
			return strings.HasPrefix(filepath.Base(interp), "ld-musl")
		}
	}
	return false
}

func interpreter(path string) (string, bool) {
	f, err := elf.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		data, err := io.ReadAll(prog.Open())
		if err != nil {
			return "", false
		}
		return strings.TrimRight(string(data), "\x00"), true
	}
	return "", false
}

// goHost maps GOOS/GOARCH pairs onto the triple a native toolchain would use.
func goHost(goos, goarch string) Triple {
	cpu := Normalize(goarch)
	switch goos {
	case "windows":
		return Triple(string(cpu) + "-pc-windows-msvc")
	case "darwin":
		return Triple(string(cpu) + "-apple-darwin")
	case "linux":
		return hostTriple("Linux", goarch, false)
	default:
		return Triple(string(cpu) + "-unknown-" + goos)
	}
}
