package build

import (
	"fmt"
	"strings"

	"github.com/cochaviz/decant/arch"
)

// CrossHelper is the tool wrapping cargo when building for a foreign target.
type CrossHelper string

const (
	CrossNone     CrossHelper = ""
	CrossZigbuild CrossHelper = "zigbuild"
	CrossXwin     CrossHelper = "xwin"
)

// CrossSettings are the workspace knobs that shape cross-compilation flags.
type CrossSettings struct {
	MSVCCrtStatic   bool
	MuslDynamic     bool
	MinGlibcVersion string
}

// CrossHelperFor picks how host builds target.
func CrossHelperFor(host, target arch.Triple) (CrossHelper, error) {
	if host == "" || host == target {
		return CrossNone, nil
	}
	switch target.OS() {
	case arch.Darwin:
		if host.OS() == arch.Darwin {
			return CrossNone, nil
		}
		return CrossNone, fmt.Errorf("%w: %s requires a macOS host, have %s", ErrUnsupportedCross, target, host)
	case arch.Windows:
		if host.OS() == arch.Windows {
			return CrossNone, nil
		}
		if target.IsMSVC() {
			return CrossXwin, nil
		}
		return CrossZigbuild, nil
	case arch.Linux:
		if host.OS() == arch.Linux && host.Arch() == target.Arch() {
			return CrossNone, nil
		}
		return CrossZigbuild, nil
	default:
		return CrossNone, fmt.Errorf("%w: no route from %s to %s", ErrUnsupportedCross, host, target)
	}
}

// RustFlags returns the RUSTFLAGS target needs for its C runtime linkage.
func RustFlags(target arch.Triple, cross CrossSettings) string {
	var flags []string
	if target.IsMSVC() && cross.MSVCCrtStatic {
		flags = append(flags, "-Ctarget-feature=+crt-static")
	}
	if target.IsMusl() && cross.MuslDynamic {
		flags = append(flags, "-Ctarget-feature=-crt-static")
	}
	return strings.Join(flags, " ")
}

// ZigbuildTarget is the target argument for cargo-zigbuild, which pins the
// minimum glibc via a version suffix.
func ZigbuildTarget(target arch.Triple, cross CrossSettings) string {
	if target.OS() == arch.Linux && !target.IsMusl() && cross.MinGlibcVersion != "" {
		return target.String() + "." + cross.MinGlibcVersion
	}
	return target.String()
}
