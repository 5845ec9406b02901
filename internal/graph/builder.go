package graph

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/announce"
	"github.com/cochaviz/decant/internal/manifest"
	"github.com/cochaviz/decant/internal/settings"
	"github.com/cochaviz/decant/internal/workspace"
)

// SourceTarballID is shared by every release of an announcement.
const SourceTarballID = "source.tar.gz"

// BuildOptions configures Build.
type BuildOptions struct {
	Tag      announce.Tag
	Packages []workspace.Package
	// Targets restricts the configured targets when non-empty.
	Targets  []arch.Triple
	Mode     Mode
	Host     arch.Triple
	Settings settings.Dist
	// Root is the workspace root; DistDir defaults to Root/Settings.Dir.
	Root    string
	DistDir string
}

// Build turns an announcement into a release graph.
func Build(opts BuildOptions) (*Graph, error) {
	version := opts.Tag.Version()
	if version == nil {
		return nil, errors.New("announcement has no version")
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeAll
	}
	distDir := opts.DistDir
	if distDir == "" {
		distDir = filepath.Join(opts.Root, opts.Settings.Dir)
	}

	configured := make([]arch.Triple, 0, len(opts.Settings.Targets))
	for _, value := range opts.Settings.Targets {
		triple, err := arch.ParseTriple(value)
		if err != nil {
			return nil, fmt.Errorf("dist targets: %w", err)
		}
		configured = append(configured, triple)
	}

	b := &builder{
		opts:       opts,
		configured: configured,
		g: &Graph{
			Tag:         opts.Tag,
			Mode:        mode,
			Host:        opts.Host,
			DistDir:     distDir,
			Root:        opts.Root,
			Dist:        opts.Settings,
			Packages:    opts.Packages,
			binaryIDs:   make(map[string]BinaryIdx),
			artifactIDs: make(map[string]ArtifactIdx),
		},
	}

	_, single := opts.Tag.Selection.(announce.SinglePackage)
	for _, idx := range opts.Tag.Packages(opts.Packages) {
		if idx < 0 || idx >= len(opts.Packages) {
			return nil, fmt.Errorf("announcement selects unknown package index %d", idx)
		}
		pkg := opts.Packages[idx]
		if !pkg.HasBinaries() {
			if single {
				return nil, fmt.Errorf("%w: %s", ErrNoBinaries, pkg.Name)
			}
			continue
		}
		b.addRelease(idx, version)
	}

	if len(b.g.Releases) == 0 {
		return nil, ErrNothingToRelease
	}
	return b.g, nil
}

type builder struct {
	opts       BuildOptions
	configured []arch.Triple
	g          *Graph
}

// targetsFor intersects the package's targets with the requested ones.
func (b *builder) targetsFor(pkg workspace.Package) []arch.Triple {
	base := b.configured
	if len(pkg.Targets) > 0 {
		base = pkg.Targets
	}
	if len(b.opts.Targets) == 0 {
		return append([]arch.Triple(nil), base...)
	}
	var out []arch.Triple
	for _, target := range base {
		if containsTriple(b.opts.Targets, target) {
			out = append(out, target)
		}
	}
	return out
}

func (b *builder) addRelease(pkgIdx int, version *semver.Version) {
	pkg := b.g.Packages[pkgIdx]
	targets := b.targetsFor(pkg)

	releaseIdx := ReleaseIdx(len(b.g.Releases))
	b.g.Releases = append(b.g.Releases, Release{
		AppName: pkg.Name,
		Version: version,
		Package: pkgIdx,
		Targets: targets,
		Hosting: b.hosting(),
	})

	for _, target := range targets {
		variantIdx := b.addVariant(releaseIdx, target)
		b.g.Releases[releaseIdx].Variants = append(b.g.Releases[releaseIdx].Variants, variantIdx)
	}

	if b.g.Mode.wantsGlobal() {
		b.addGlobalArtifacts(releaseIdx)
	}
}

func (b *builder) hosting() manifest.Hosting {
	var hosting manifest.Hosting
	if gh := b.opts.Settings.Hosting.GitHub; gh != nil {
		hosting.GitHub = &manifest.GitHubHosting{
			ArtifactDownloadURL: fmt.Sprintf("https://github.com/%s/%s/releases/download/%s", gh.Owner, gh.Repo, b.opts.Tag.Tag),
			Owner:               gh.Owner,
			Repo:                gh.Repo,
		}
	}
	if mirror := b.opts.Settings.Hosting.Mirror; mirror != nil {
		hosting.Mirror = &manifest.MirrorHosting{BaseURL: mirror.BaseURL}
	}
	return hosting
}

func (b *builder) addVariant(releaseIdx ReleaseIdx, target arch.Triple) VariantIdx {
	release := b.g.Releases[releaseIdx]
	variantIdx := VariantIdx(len(b.g.Variants))
	b.g.Variants = append(b.g.Variants, Variant{
		ID:      release.AppName + "-" + target.String(),
		Release: releaseIdx,
		Target:  target,
	})
	if !b.g.Mode.wantsLocal(b.opts.Host, target) {
		return variantIdx
	}

	variant := &b.g.Variants[variantIdx]
	variant.Binaries = b.binariesFor(release.Package, target)

	var local []ArtifactIdx
	zipIdx := b.addArchive(variant.ID, target, variant.Binaries)
	local = append(local, zipIdx)
	if sum, ok := b.addChecksum(zipIdx, false); ok {
		local = append(local, sum)
	}

	if b.opts.Settings.SplitDebuginfo && target.SymbolExt() != "" {
		for _, binIdx := range variant.Binaries {
			if b.g.Binaries[binIdx].Kind == CStaticLibrary {
				continue
			}
			local = append(local, b.addSymbols(binIdx))
		}
	}

	if b.hasInstaller(settings.InstallerMSI) && target.OS() == arch.Windows {
		msi := b.addMSI(variant.ID, target, variant.Binaries)
		local = append(local, msi)
		if sum, ok := b.addChecksum(msi, false); ok {
			local = append(local, sum)
		}
	}

	b.g.Variants[variantIdx].LocalArtifacts = local
	return variantIdx
}

func (b *builder) binariesFor(pkgIdx int, target arch.Triple) []BinaryIdx {
	pkg := b.g.Packages[pkgIdx]
	var out []BinaryIdx
	for _, name := range pkg.Binaries {
		out = append(out, b.binary(pkgIdx, target, name, name+target.ExeSuffix(), Executable))
	}
	for _, name := range pkg.CDylibs {
		out = append(out, b.binary(pkgIdx, target, name, target.DylibName(name), CDynamicLibrary))
	}
	for _, name := range pkg.CStaticLibs {
		out = append(out, b.binary(pkgIdx, target, name, target.StaticLibName(name), CStaticLibrary))
	}
	return out
}

func (b *builder) binary(pkgIdx int, target arch.Triple, name, fileName string, kind BinaryKind) BinaryIdx {
	pkg := b.g.Packages[pkgIdx]
	id := fmt.Sprintf("%s-%s-%s", pkg.ID, target, fileName)
	if idx, ok := b.g.binaryIDs[id]; ok {
		return idx
	}
	idx := BinaryIdx(len(b.g.Binaries))
	b.g.Binaries = append(b.g.Binaries, Binary{
		ID:        id,
		Name:      name,
		FileName:  fileName,
		Kind:      kind,
		Package:   pkgIdx,
		PackageID: pkg.ID,
		Target:    target,
		Features:  pkg.Features,
	})
	b.g.binaryIDs[id] = idx
	return idx
}

// addArtifact inserts artifact unless one with the same id exists, in which
// case the existing index is returned.
func (b *builder) addArtifact(artifact Artifact) (ArtifactIdx, bool) {
	if idx, ok := b.g.artifactIDs[artifact.ID]; ok {
		return idx, false
	}
	idx := ArtifactIdx(len(b.g.Artifacts))
	b.g.Artifacts = append(b.g.Artifacts, artifact)
	b.g.artifactIDs[artifact.ID] = idx
	return idx, true
}

func (b *builder) archiveExt(target arch.Triple) string {
	if target.OS() == arch.Windows {
		return b.opts.Settings.WindowsArchive
	}
	return b.opts.Settings.UnixArchive
}

func (b *builder) addArchive(dirName string, target arch.Triple, binaries []BinaryIdx) ArtifactIdx {
	ext := b.archiveExt(target)
	stageDir := filepath.Join(b.g.DistDir, dirName)
	entries := make([]ArchiveEntry, 0, len(binaries))
	for _, binIdx := range binaries {
		entries = append(entries, ArchiveEntry{Binary: binIdx, RelPath: b.g.Binaries[binIdx].FileName})
	}

	idx, created := b.addArtifact(Artifact{
		ID:      dirName + ext,
		Path:    filepath.Join(b.g.DistDir, dirName+ext),
		Targets: []arch.Triple{target},
		Kind: ExecutableZip{
			Format:   ext,
			StageDir: stageDir,
			DirName:  dirName,
			Entries:  entries,
		},
	})
	if created {
		for _, entry := range entries {
			bin := &b.g.Binaries[entry.Binary]
			bin.CopyExeTo = append(bin.CopyExeTo, filepath.Join(stageDir, entry.RelPath))
		}
	}
	return idx
}

func (b *builder) addSymbols(binIdx BinaryIdx) ArtifactIdx {
	bin := b.g.Binaries[binIdx]
	ext := bin.Target.SymbolExt()
	name := bin.Name
	if owner := b.g.Packages[bin.Package].Name; owner != bin.Name {
		name = owner + "-" + bin.Name
	}
	id := fmt.Sprintf("%s-%s%s", name, bin.Target, ext)
	path := filepath.Join(b.g.DistDir, id)
	idx, created := b.addArtifact(Artifact{
		ID:      id,
		Path:    path,
		Targets: []arch.Triple{bin.Target},
		Kind:    Symbols{Binary: binIdx, Ext: ext},
	})
	if created {
		target := &b.g.Binaries[binIdx]
		target.CopySymbolsTo = append(target.CopySymbolsTo, path)
		symbols := idx
		target.Symbols = &symbols
	}
	return idx
}

func (b *builder) addMSI(variantID string, target arch.Triple, binaries []BinaryIdx) ArtifactIdx {
	stageDir := filepath.Join(b.g.DistDir, variantID+"-msi")
	var entries []ArchiveEntry
	for _, binIdx := range binaries {
		if b.g.Binaries[binIdx].Kind != Executable {
			continue
		}
		entries = append(entries, ArchiveEntry{Binary: binIdx, RelPath: b.g.Binaries[binIdx].FileName})
	}
	id := variantID + ".msi"
	idx, created := b.addArtifact(Artifact{
		ID:      id,
		Path:    filepath.Join(b.g.DistDir, id),
		Targets: []arch.Triple{target},
		Kind: Installer{
			Style:       settings.InstallerMSI,
			StageDir:    stageDir,
			Entries:     entries,
			InstallHint: "download " + id + " and run it",
			Description: "Install prebuilt binaries via an MSI package",
		},
	})
	if created {
		for _, entry := range entries {
			bin := &b.g.Binaries[entry.Binary]
			bin.CopyExeTo = append(bin.CopyExeTo, filepath.Join(stageDir, entry.RelPath))
		}
	}
	return idx
}

// addChecksum creates the digest artifact for of, unless checksums are off.
func (b *builder) addChecksum(of ArtifactIdx, global bool) (ArtifactIdx, bool) {
	style := b.opts.Settings.Checksum
	if style == "" || style == settings.ChecksumNone {
		return 0, false
	}
	source := b.g.Artifacts[of]
	id := source.ID + "." + style
	idx, _ := b.addArtifact(Artifact{
		ID:      id,
		Path:    filepath.Join(b.g.DistDir, id),
		Targets: append([]arch.Triple(nil), source.Targets...),
		Global:  global,
		Kind:    Checksum{Of: of, Style: style},
	})
	sum := idx
	b.g.Artifacts[of].Checksum = &sum
	return idx, true
}

func (b *builder) addGlobalArtifacts(releaseIdx ReleaseIdx) {
	release := b.g.Releases[releaseIdx]
	var unix, windows, brew []arch.Triple
	for _, target := range release.Targets {
		switch target.OS() {
		case arch.Windows:
			windows = append(windows, target)
		case arch.Darwin, arch.Linux:
			unix = append(unix, target)
			brew = append(brew, target)
		default:
			unix = append(unix, target)
		}
	}

	var global []ArtifactIdx
	add := func(artifact Artifact) {
		artifact.Global = true
		idx, _ := b.addArtifact(artifact)
		global = append(global, idx)
		if sum, ok := b.addChecksum(idx, true); ok {
			global = append(global, sum)
		}
	}
	url := b.downloadURL(release)

	if b.hasInstaller(settings.InstallerShell) && len(unix) > 0 {
		id := release.AppName + "-installer.sh"
		add(Artifact{
			ID:      id,
			Path:    filepath.Join(b.g.DistDir, id),
			Targets: unix,
			Kind: Installer{
				Style:       settings.InstallerShell,
				InstallHint: shellHint(url, id),
				Description: "Install prebuilt binaries via shell script",
			},
		})
	}
	if b.hasInstaller(settings.InstallerPowershell) && len(windows) > 0 {
		id := release.AppName + "-installer.ps1"
		add(Artifact{
			ID:      id,
			Path:    filepath.Join(b.g.DistDir, id),
			Targets: windows,
			Kind: Installer{
				Style:       settings.InstallerPowershell,
				InstallHint: powershellHint(url, id),
				Description: "Install prebuilt binaries via powershell script",
			},
		})
	}
	if b.hasInstaller(settings.InstallerHomebrew) && len(brew) > 0 {
		id := release.AppName + ".rb"
		add(Artifact{
			ID:      id,
			Path:    filepath.Join(b.g.DistDir, id),
			Targets: brew,
			Kind: Installer{
				Style:       settings.InstallerHomebrew,
				InstallHint: "brew install " + release.AppName,
				Description: "Install prebuilt binaries via Homebrew",
			},
		})
	}

	if b.opts.Settings.SourceTarballEnabled() {
		add(Artifact{
			ID:   SourceTarballID,
			Path: filepath.Join(b.g.DistDir, SourceTarballID),
			Kind: SourceTarball{Committish: "HEAD", Prefix: b.sourcePrefix()},
		})
	}

	if b.opts.Settings.InstallUpdater {
		id := release.AppName + "-update"
		add(Artifact{
			ID:      id,
			Path:    filepath.Join(b.g.DistDir, id),
			Targets: append([]arch.Triple(nil), release.Targets...),
			Kind:    Updater{App: release.AppName},
		})
	}

	for decl, extra := range b.opts.Settings.ExtraArtifacts {
		for _, source := range extra.Artifacts {
			id := filepath.Base(source)
			add(Artifact{
				ID:   id,
				Path: filepath.Join(b.g.DistDir, id),
				Kind: ExtraArtifact{
					Declaration: decl,
					Command:     append([]string(nil), extra.Build...),
					Dir:         filepath.Join(b.opts.Root, extra.Dir),
					Source:      source,
				},
			})
		}
	}

	b.g.Releases[releaseIdx].GlobalArtifacts = global
}

func (b *builder) hasInstaller(style string) bool {
	for _, installer := range b.opts.Settings.Installers {
		if installer == style {
			return true
		}
	}
	return false
}

func (b *builder) downloadURL(release Release) string {
	if release.Hosting.GitHub != nil {
		return release.Hosting.GitHub.ArtifactDownloadURL
	}
	if release.Hosting.Mirror != nil && release.Hosting.Mirror.BaseURL != "" {
		return strings.TrimRight(release.Hosting.Mirror.BaseURL, "/") + "/" + b.opts.Tag.Tag
	}
	return ""
}

func (b *builder) sourcePrefix() string {
	name := filepath.Base(filepath.Clean(b.opts.Root))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "source"
	}
	return name + "/"
}

func shellHint(url, id string) string {
	if url == "" {
		return "sh " + id
	}
	return fmt.Sprintf("curl --proto '=https' --tlsv1.2 -LsSf %s/%s | sh", url, id)
}

func powershellHint(url, id string) string {
	if url == "" {
		return "powershell -ExecutionPolicy ByPass -File " + id
	}
	return fmt.Sprintf(`powershell -ExecutionPolicy ByPass -c "irm %s/%s | iex"`, url, id)
}

func containsTriple(values []arch.Triple, want arch.Triple) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
