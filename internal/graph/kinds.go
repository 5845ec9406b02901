package graph

import "github.com/cochaviz/decant/internal/manifest"

// ArtifactKind carries the per-kind payload of an Artifact.
type ArtifactKind interface {
	// Name is the kind as written to the manifest.
	Name() string
	isArtifactKind()
}

// ArchiveEntry places a binary at a path inside an archive.
type ArchiveEntry struct {
	Binary  BinaryIdx
	RelPath string
}

// ExecutableZip is an archive of a variant's binaries.
type ExecutableZip struct {
	Format   string
	StageDir string
	DirName  string
	Entries  []ArchiveEntry
}

// Symbols is a split debug-info file for one binary.
type Symbols struct {
	Binary BinaryIdx
	Ext    string
}

// Installer is an installer script or package.
type Installer struct {
	Style       string
	StageDir    string
	Entries     []ArchiveEntry
	InstallHint string
	Description string
}

// Checksum is a digest file for another artifact.
type Checksum struct {
	Of    ArtifactIdx
	Style string
}

// SourceTarball is a git archive of the repository.
type SourceTarball struct {
	Committish string
	Prefix     string
}

// ExtraArtifact is a file produced by a user-declared command.
type ExtraArtifact struct {
	Declaration int
	Command     []string
	Dir         string
	Source      string
}

// Updater is a standalone self-update helper for an app.
type Updater struct {
	App string
}

func (ExecutableZip) Name() string { return manifest.KindExecutableZip }
func (Symbols) Name() string       { return manifest.KindSymbols }
func (Installer) Name() string     { return manifest.KindInstaller }
func (Checksum) Name() string      { return manifest.KindChecksum }
func (SourceTarball) Name() string { return manifest.KindSourceTarball }
func (ExtraArtifact) Name() string { return manifest.KindExtraArtifact }
func (Updater) Name() string       { return manifest.KindUpdater }

func (ExecutableZip) isArtifactKind() {}
func (Symbols) isArtifactKind()       {}
func (Installer) isArtifactKind()     {}
func (Checksum) isArtifactKind()      {}
func (SourceTarball) isArtifactKind() {}
func (ExtraArtifact) isArtifactKind() {}
func (Updater) isArtifactKind()       {}
