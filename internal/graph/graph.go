// Package graph builds the release graph: which releases an announcement
// covers, which platform variants each has, which binaries they contain and
// which artifacts ship them. Nodes live in arenas on Graph and refer to each
// other by index.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/announce"
	"github.com/cochaviz/decant/internal/linkage"
	"github.com/cochaviz/decant/internal/manifest"
	"github.com/cochaviz/decant/internal/settings"
	"github.com/cochaviz/decant/internal/workspace"
)

var (
	// ErrNoBinaries is returned when a tag names a package that ships nothing.
	ErrNoBinaries = errors.New("package has no binaries to release")
	// ErrNothingToRelease is returned when no release survives selection.
	ErrNothingToRelease = errors.New("nothing to release")
)

type (
	ReleaseIdx  int
	VariantIdx  int
	BinaryIdx   int
	ArtifactIdx int
)

// Mode selects which artifacts this machine is responsible for.
type Mode string

const (
	// ModeLocal covers platform-specific artifacts of the requested targets.
	ModeLocal Mode = "local"
	// ModeGlobal covers platform-independent artifacts.
	ModeGlobal Mode = "global"
	// ModeHost covers global artifacts plus local ones the host can build.
	ModeHost Mode = "host"
	// ModeAll covers everything; used for planning.
	ModeAll Mode = "all"
)

// ParseMode validates a mode name.
func ParseMode(value string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(value))); mode {
	case ModeLocal, ModeGlobal, ModeHost, ModeAll:
		return mode, nil
	case "":
		return ModeAll, nil
	default:
		return "", fmt.Errorf("unknown artifact mode %q (want local, global, host or all)", value)
	}
}

func (m Mode) wantsGlobal() bool {
	return m == ModeGlobal || m == ModeHost || m == ModeAll
}

func (m Mode) wantsLocal(host, target arch.Triple) bool {
	switch m {
	case ModeLocal, ModeAll:
		return true
	case ModeHost:
		return HostCanBuild(host, target)
	default:
		return false
	}
}

// HostCanBuild reports whether host can produce target without a remote
// builder. An unknown host is assumed capable.
func HostCanBuild(host, target arch.Triple) bool {
	if host == "" || host == target {
		return true
	}
	switch target.OS() {
	case arch.Darwin:
		return host.OS() == arch.Darwin
	case arch.Linux, arch.Windows:
		return host.OS() == target.OS() && host.Arch() == target.Arch()
	default:
		return false
	}
}

// BinaryKind is what a Binary is linked as.
type BinaryKind string

const (
	Executable      BinaryKind = manifest.AssetExecutable
	CDynamicLibrary BinaryKind = manifest.AssetCDynamicLibrary
	CStaticLibrary  BinaryKind = manifest.AssetCStaticLibrary
)

// Release is one app at one version.
type Release struct {
	AppName         string
	Version         *semver.Version
	Package         int
	Targets         []arch.Triple
	Variants        []VariantIdx
	GlobalArtifacts []ArtifactIdx
	Hosting         manifest.Hosting
}

// ID is the release's name in logs and tables.
func (r Release) ID() string {
	return r.AppName + "-v" + r.Version.String()
}

// Variant is a Release built for one target.
type Variant struct {
	ID             string
	Release        ReleaseIdx
	Target         arch.Triple
	Binaries       []BinaryIdx
	LocalArtifacts []ArtifactIdx
}

// Binary is one compiled output of a package for one target. A binary may be
// copied into several artifacts.
type Binary struct {
	ID            string
	Name          string
	FileName      string
	Kind          BinaryKind
	Package       int
	PackageID     string
	Target        arch.Triple
	Features      workspace.FeatureSet
	CopyExeTo     []string
	CopySymbolsTo []string
	Symbols       *ArtifactIdx

	// Filled in once the binary exists.
	SrcPath     string
	SymbolsPath string
	Linkage     *linkage.Linkage
}

// Artifact is one file that gets published.
type Artifact struct {
	ID       string
	Path     string
	Targets  []arch.Triple
	Checksum *ArtifactIdx
	Global   bool
	Kind     ArtifactKind

	// Digests by style, filled in once the artifact is packaged.
	Checksums map[string]string
}

// Graph is the complete release plan for one announcement.
type Graph struct {
	Tag      announce.Tag
	Mode     Mode
	Host     arch.Triple
	DistDir  string
	Root     string
	Dist     settings.Dist
	Packages []workspace.Package

	Releases  []Release
	Variants  []Variant
	Binaries  []Binary
	Artifacts []Artifact

	binaryIDs   map[string]BinaryIdx
	artifactIDs map[string]ArtifactIdx
}

func (g *Graph) Release(idx ReleaseIdx) *Release    { return &g.Releases[idx] }
func (g *Graph) Variant(idx VariantIdx) *Variant    { return &g.Variants[idx] }
func (g *Graph) Binary(idx BinaryIdx) *Binary       { return &g.Binaries[idx] }
func (g *Graph) Artifact(idx ArtifactIdx) *Artifact { return &g.Artifacts[idx] }

// ArtifactByID looks up an artifact by its file name.
func (g *Graph) ArtifactByID(id string) (ArtifactIdx, bool) {
	idx, ok := g.artifactIDs[id]
	return idx, ok
}

// BinaryByID looks up a binary by id.
func (g *Graph) BinaryByID(id string) (BinaryIdx, bool) {
	idx, ok := g.binaryIDs[id]
	return idx, ok
}

// Package returns the workspace package a binary belongs to.
func (g *Graph) Package(idx BinaryIdx) workspace.Package {
	return g.Packages[g.Binaries[idx].Package]
}

// BinariesToBuild lists every binary some artifact needs, in arena order.
func (g *Graph) BinariesToBuild() []BinaryIdx {
	var out []BinaryIdx
	for i := range g.Binaries {
		if len(g.Binaries[i].CopyExeTo) > 0 || len(g.Binaries[i].CopySymbolsTo) > 0 {
			out = append(out, BinaryIdx(i))
		}
	}
	return out
}

// Targets lists the distinct targets of all variants that carry local
// artifacts, in first-seen order.
func (g *Graph) Targets() []arch.Triple {
	seen := make(map[arch.Triple]bool)
	var out []arch.Triple
	for _, variant := range g.Variants {
		if len(variant.LocalArtifacts) == 0 || seen[variant.Target] {
			continue
		}
		seen[variant.Target] = true
		out = append(out, variant.Target)
	}
	return out
}

// RecordBuilt stores where a binary was found and what it links against.
func (g *Graph) RecordBuilt(idx BinaryIdx, srcPath, symbolsPath string, l *linkage.Linkage) {
	bin := &g.Binaries[idx]
	bin.SrcPath = srcPath
	bin.SymbolsPath = symbolsPath
	bin.Linkage = l
}

// RecordChecksum stores the digest of a packaged artifact.
func (g *Graph) RecordChecksum(idx ArtifactIdx, style, sum string) {
	artifact := &g.Artifacts[idx]
	if artifact.Checksums == nil {
		artifact.Checksums = make(map[string]string)
	}
	artifact.Checksums[style] = sum
}

// HasExtraArtifact reports whether any artifact in the graph comes from the
// given extra-artifact declaration.
func (g *Graph) HasExtraArtifact(decl int) bool {
	for _, artifact := range g.Artifacts {
		if extra, ok := artifact.Kind.(ExtraArtifact); ok && extra.Declaration == decl {
			return true
		}
	}
	return false
}
