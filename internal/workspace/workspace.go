// Package workspace adapts decant.yaml into the package model the release
// planner consumes. The planner treats the result as read-only.
package workspace

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/settings"
)

// Backend names the external build tool that compiles a package.
type Backend string

const (
	BackendCargo   Backend = settings.BackendCargo
	BackendGeneric Backend = settings.BackendGeneric
)

// FeatureSet is the feature selection a package is compiled with.
type FeatureSet struct {
	NoDefault bool
	All       bool
	Features  []string
}

// Key returns a canonical string for grouping builds with identical features.
func (f FeatureSet) Key() string {
	features := append([]string(nil), f.Features...)
	sort.Strings(features)
	return fmt.Sprintf("nodefault=%t;all=%t;features=%s", f.NoDefault, f.All, strings.Join(features, ","))
}

// Package is one buildable unit.
type Package struct {
	ID           string
	Name         string
	Version      *semver.Version
	Dir          string
	Backend      Backend
	BuildCommand []string
	Binaries     []string
	CDylibs      []string
	CStaticLibs  []string
	Features     FeatureSet
	Targets      []arch.Triple
}

// HasBinaries reports whether the package produces anything to ship.
func (p Package) HasBinaries() bool {
	return len(p.Binaries)+len(p.CDylibs)+len(p.CStaticLibs) > 0
}

// Workspace is the set of packages declared at Root.
type Workspace struct {
	Root     string
	Packages []Package
}

// PackageID is the identifier build backends report produced files under.
func PackageID(name, version string) string {
	if version == "" {
		return name
	}
	return name + "@" + version
}

// SamePackage reports whether reported, an id a build backend emitted,
// refers to the package identified by id. Backends always report a version,
// so a package declared without one matches on name alone.
func SamePackage(id, reported string) bool {
	if id == reported {
		return true
	}
	if strings.Contains(id, "@") {
		return false
	}
	name, _, _ := strings.Cut(reported, "@")
	return name == id
}

// FromSettings builds the workspace model from parsed settings.
func FromSettings(root string, s *settings.Settings) (*Workspace, error) {
	if s == nil {
		return nil, fmt.Errorf("settings are required")
	}
	ws := &Workspace{Root: root}
	for _, declared := range s.Packages {
		pkg := Package{
			Name:         declared.Name,
			Dir:          declared.Dir,
			Backend:      Backend(declared.Backend),
			BuildCommand: append([]string(nil), declared.BuildCommand...),
			Binaries:     append([]string(nil), declared.Binaries...),
			CDylibs:      append([]string(nil), declared.CDylibs...),
			CStaticLibs:  append([]string(nil), declared.CStaticLibs...),
			Features: FeatureSet{
				NoDefault: declared.NoDefaultFeatures,
				All:       declared.AllFeatures,
				Features:  append([]string(nil), declared.Features...),
			},
		}
		if !filepath.IsAbs(pkg.Dir) {
			pkg.Dir = filepath.Join(root, pkg.Dir)
		}
		if declared.Version != "" {
			version, err := semver.StrictNewVersion(declared.Version)
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", declared.Name, err)
			}
			pkg.Version = version
		}
		pkg.ID = PackageID(pkg.Name, declared.Version)
		for _, target := range declared.Targets {
			triple, err := arch.ParseTriple(target)
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", declared.Name, err)
			}
			pkg.Targets = append(pkg.Targets, triple)
		}
		ws.Packages = append(ws.Packages, pkg)
	}
	return ws, nil
}

// Find returns the index of the package called name.
func (w *Workspace) Find(name string) (int, bool) {
	for i, pkg := range w.Packages {
		if pkg.Name == name {
			return i, true
		}
	}
	return -1, false
}
