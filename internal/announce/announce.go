// Package announce decides what a release run is announcing from a tag such
// as "v1.2.0", "app-v1.2.0" or "releases/app/1.2.0".
package announce

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cochaviz/decant/internal/workspace"
)

var (
	// ErrNoVersion is returned when no version can be read from the tag.
	ErrNoVersion = errors.New("no version found in announcement tag")
	// ErrTooManyUnrelatedApps is returned when inference finds packages on
	// different versions and cannot pick one.
	ErrTooManyUnrelatedApps = errors.New("packages disagree on version; pass an explicit tag")
)

// VersionMismatchError reports a package-scoped tag whose version differs
// from the version the workspace declares for that package.
type VersionMismatchError struct {
	Package  string
	Declared string
	Tagged   string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("tag names %s %s but the workspace declares version %s", e.Package, e.Tagged, e.Declared)
}

// Selection is the set of packages a tag announces.
type Selection interface {
	SelectedVersion() *semver.Version
	isSelection()
}

// AllMatchingVersion selects every package whose version equals Version.
type AllMatchingVersion struct {
	Version *semver.Version
}

func (s AllMatchingVersion) SelectedVersion() *semver.Version { return s.Version }
func (AllMatchingVersion) isSelection() {}

// SinglePackage selects the package at Index of the workspace package list.
type SinglePackage struct {
	Index   int
	Version *semver.Version
}

func (s SinglePackage) SelectedVersion() *semver.Version { return s.Version }
func (SinglePackage) isSelection() {}

// Tag is the resolved announcement.
type Tag struct {
	Tag        string
	Prerelease bool
	Selection  Selection
}

// Version is the version being announced.
func (t Tag) Version() *semver.Version {
	if t.Selection == nil {
		return nil
	}
	return t.Selection.SelectedVersion()
}

// Packages returns the indexes of the packages the tag selects. Filtering
// out packages that have nothing to ship is left to the graph builder.
func (t Tag) Packages(packages []workspace.Package) []int {
	switch sel := t.Selection.(type) {
	case SinglePackage:
		return []int{sel.Index}
	case AllMatchingVersion:
		var out []int
		for i, pkg := range packages {
			if pkg.Version != nil && pkg.Version.Equal(sel.Version) {
				out = append(out, i)
			}
		}
		return out
	default:
		return nil
	}
}

// Title is a human readable name for the announcement.
func (t Tag) Title(packages []workspace.Package) string {
	if sel, ok := t.Selection.(SinglePackage); ok && sel.Index < len(packages) {
		return packages[sel.Index].Name + " " + sel.Version.String()
	}
	if v := t.Version(); v != nil {
		return "v" + v.String()
	}
	return t.Tag
}

// Resolve parses tag against the known packages. An empty tag infers the
// announcement from the workspace versions.
func Resolve(tag string, packages []workspace.Package) (Tag, error) {
	if strings.TrimSpace(tag) == "" {
		return Infer(packages)
	}
	selection, err := parse(tag, packages)
	if err != nil {
		return Tag{}, err
	}
	return Tag{
		Tag:        tag,
		Prerelease: selection.SelectedVersion().Prerelease() != "",
		Selection:  selection,
	}, nil
}

// Infer picks the single version shared by every package that ships binaries.
func Infer(packages []workspace.Package) (Tag, error) {
	var version *semver.Version
	var owner string
	for _, pkg := range packages {
		if !pkg.HasBinaries() || pkg.Version == nil {
			continue
		}
		if version == nil {
			version, owner = pkg.Version, pkg.Name
			continue
		}
		if !version.Equal(pkg.Version) {
			return Tag{}, fmt.Errorf("%w: %s is %s but %s is %s", ErrTooManyUnrelatedApps, owner, version, pkg.Name, pkg.Version)
		}
	}
	if version == nil {
		return Tag{}, fmt.Errorf("%w: no package with binaries declares a version", ErrNoVersion)
	}
	return Tag{
		Tag:        "v" + version.String(),
		Prerelease: version.Prerelease() != "",
		Selection:  AllMatchingVersion{Version: version},
	}, nil
}

// parse strips leading "/" or "-" delimited segments until the remainder is
// either a package-scoped version or a bare version.
func parse(tag string, packages []workspace.Package) (Selection, error) {
	candidates := byNameLength(packages)
	rest := tag
	for {
		if selection, matched, err := matchPackage(rest, packages, candidates); matched {
			return selection, err
		}
		if version, ok := parseVersion(rest); ok {
			return AllMatchingVersion{Version: version}, nil
		}
		idx := strings.IndexAny(rest, "/-")
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoVersion, tag)
		}
		rest = rest[idx+1:]
	}
}

var packageSeparators = []string{"-v", "-", "/v", "/"}

func matchPackage(rest string, packages []workspace.Package, candidates []int) (Selection, bool, error) {
	for _, idx := range candidates {
		pkg := packages[idx]
		if !strings.HasPrefix(rest, pkg.Name) {
			continue
		}
		tail := rest[len(pkg.Name):]
		for _, sep := range packageSeparators {
			if !strings.HasPrefix(tail, sep) {
				continue
			}
			version, err := semver.StrictNewVersion(tail[len(sep):])
			if err != nil {
				continue
			}
			if pkg.Version != nil && !pkg.Version.Equal(version) {
				return nil, true, &VersionMismatchError{
					Package:  pkg.Name,
					Declared: pkg.Version.String(),
					Tagged:   version.String(),
				}
			}
			return SinglePackage{Index: idx, Version: version}, true, nil
		}
	}
	return nil, false, nil
}

func parseVersion(value string) (*semver.Version, bool) {
	version, err := semver.StrictNewVersion(strings.TrimPrefix(value, "v"))
	if err != nil {
		return nil, false
	}
	return version, true
}

// byNameLength orders package indexes so that "app-cli" is tried before "app".
func byNameLength(packages []workspace.Package) []int {
	order := make([]int, len(packages))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(packages[order[a]].Name) > len(packages[order[b]].Name)
	})
	return order
}
