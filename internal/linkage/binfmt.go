package linkage

import (
	"bufio"
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"errors"
	"fmt"
	"strings"
)

// Mach-O load commands that name a dylib.
const (
	lcIDDylib         macho.LoadCmd = 0xd
	lcLoadDylib       macho.LoadCmd = 0xc
	lcLoadWeakDylib   macho.LoadCmd = 0x80000018
	lcReexportDylib   macho.LoadCmd = 0x8000001f
	lcLoadUpwardDylib macho.LoadCmd = 0x80000023
	lcLazyLoadDylib   macho.LoadCmd = 0x20
)

// isStaticELF reports whether the ELF file at path has no interpreter and no
// needed libraries.
func isStaticELF(path string) (bool, error) {
	f, err := elf.Open(path)
	if err != nil {
		return false, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type == elf.PT_INTERP {
			return false, nil
		}
	}
	needed, err := f.ImportedLibraries()
	if err != nil {
		// No dynamic section.
		return true, nil
	}
	return len(needed) == 0, nil
}

// ParseLdd extracts resolved library paths from ldd output. Virtual objects
// such as linux-vdso and unresolved libraries are skipped.
func ParseLdd(out []byte) []string {
	var libs []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, target, found := strings.Cut(line, "=>"); found {
			line = strings.TrimSpace(target)
		}
		if paren := strings.Index(line, " ("); paren >= 0 {
			line = line[:paren]
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/") {
			continue
		}
		libs = append(libs, line)
	}
	return libs
}

// machoLibraries lists every dylib a Mach-O file or universal binary names.
func machoLibraries(path string) ([]string, error) {
	fat, err := macho.OpenFat(path)
	if err == nil {
		defer fat.Close()
		seen := make(map[string]bool)
		var libs []string
		for _, arch := range fat.Arches {
			for _, lib := range machoDylibs(arch.File) {
				if !seen[lib] {
					seen[lib] = true
					libs = append(libs, lib)
				}
			}
		}
		return libs, nil
	}
	if !errors.Is(err, macho.ErrNotFat) {
		return nil, fmt.Errorf("open mach-o %s: %w", path, err)
	}

	f, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mach-o %s: %w", path, err)
	}
	defer f.Close()
	return machoDylibs(f), nil
}

func machoDylibs(f *macho.File) []string {
	var libs []string
	for _, load := range f.Loads {
		raw := load.Raw()
		if len(raw) < 12 {
			continue
		}
		switch macho.LoadCmd(f.ByteOrder.Uint32(raw[0:4])) {
		case lcIDDylib, lcLoadDylib, lcLoadWeakDylib, lcReexportDylib, lcLoadUpwardDylib, lcLazyLoadDylib:
		default:
			continue
		}
		offset := f.ByteOrder.Uint32(raw[8:12])
		if int(offset) >= len(raw) {
			continue
		}
		name := raw[offset:]
		if end := bytes.IndexByte(name, 0); end >= 0 {
			name = name[:end]
		}
		if len(name) > 0 {
			libs = append(libs, string(name))
		}
	}
	return libs
}

func peLibraries(path string) ([]string, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pe %s: %w", path, err)
	}
	defer f.Close()
	libs, err := f.ImportedLibraries()
	if err != nil {
		return nil, fmt.Errorf("read imports of %s: %w", path, err)
	}
	return libs, nil
}

// windowsSystemDLLs ship with every supported Windows release.
var windowsSystemDLLs = map[string]bool{
	"advapi32.dll":   true,
	"bcrypt.dll":     true,
	"comctl32.dll":   true,
	"comdlg32.dll":   true,
	"crypt32.dll":    true,
	"dbghelp.dll":    true,
	"gdi32.dll":      true,
	"imm32.dll":      true,
	"kernel32.dll":   true,
	"kernelbase.dll": true,
	"msvcrt.dll":     true,
	"ncrypt.dll":     true,
	"netapi32.dll":   true,
	"ntdll.dll":      true,
	"ole32.dll":      true,
	"oleaut32.dll":   true,
	"secur32.dll":    true,
	"shell32.dll":    true,
	"shlwapi.dll":    true,
	"ucrtbase.dll":   true,
	"user32.dll":     true,
	"userenv.dll":    true,
	"version.dll":    true,
	"winhttp.dll":    true,
	"wininet.dll":    true,
	"winmm.dll":      true,
	"ws2_32.dll":     true,
}

// bucketDLLs classifies imported DLL names, which carry no path.
func bucketDLLs(libs []string) Linkage {
	var out Linkage
	seen := make(map[string]bool, len(libs))
	for _, lib := range libs {
		key := strings.ToLower(lib)
		if seen[key] {
			continue
		}
		seen[key] = true
		if windowsSystemDLLs[key] || strings.HasPrefix(key, "api-ms-win-") {
			out.System = append(out.System, Library{Path: lib})
			continue
		}
		out.Other = append(out.Other, Library{Path: lib})
	}
	out.sort()
	return out
}

