package graph

import (
	"sort"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/manifest"
)

// CIGitHub enables the GitHub Actions build matrix in the manifest.
const CIGitHub = "github"

// Manifest converts the graph into the wire schema. Only artifacts this
// machine is responsible for are listed; binaries that have been built are
// recorded as assets of system.
func (g *Graph) Manifest(system manifest.SystemInfo) *manifest.DistManifest {
	m := manifest.New(g.Tag.Tag, g.Tag.Prerelease)
	m.AnnouncementTitle = g.Tag.Title(g.Packages)

	included := make(map[ArtifactIdx]bool)
	for _, release := range g.Releases {
		ids := make([]string, 0)
		add := func(idx ArtifactIdx) {
			included[idx] = true
			ids = appendUnique(ids, g.Artifacts[idx].ID)
		}
		for _, variantIdx := range release.Variants {
			for _, idx := range g.Variants[variantIdx].LocalArtifacts {
				add(idx)
			}
		}
		for _, idx := range release.GlobalArtifacts {
			add(idx)
		}
		display := true
		m.Releases = append(m.Releases, manifest.Release{
			AppName:    release.AppName,
			AppVersion: release.Version.String(),
			Artifacts:  ids,
			Hosting:    cloneHosting(release.Hosting),
			Display:    &display,
		})
	}

	for idx := range included {
		artifact := g.manifestArtifact(idx)
		m.Artifacts[artifact.Name] = artifact
	}

	if system.ID != "" {
		m.Systems[system.ID] = system
	}
	for _, bin := range g.Binaries {
		if bin.SrcPath == "" {
			continue
		}
		info := manifest.AssetInfo{
			ID:            bin.ID,
			Name:          bin.FileName,
			System:        system.ID,
			TargetTriples: []string{bin.Target.String()},
		}
		if bin.Linkage != nil {
			l := bin.Linkage.Clone()
			info.Linkage = &l
			m.Linkage[bin.ID] = bin.Linkage.Clone()
		}
		m.Assets[bin.ID] = info
	}

	if g.Mode == ModeAll && containsString(g.Dist.CI, CIGitHub) {
		m.CI = g.githubCI()
	}

	m.Sort()
	return m
}

func (g *Graph) manifestArtifact(idx ArtifactIdx) manifest.Artifact {
	artifact := g.Artifacts[idx]
	out := manifest.Artifact{
		Name:          artifact.ID,
		Kind:          artifact.Kind.Name(),
		Path:          artifact.Path,
		TargetTriples: tripleStrings(artifact.Targets),
	}
	if artifact.Checksum != nil {
		out.Checksum = g.Artifacts[*artifact.Checksum].ID
	}
	if len(artifact.Checksums) > 0 {
		out.Checksums = make(map[string]string, len(artifact.Checksums))
		for style, sum := range artifact.Checksums {
			out.Checksums[style] = sum
		}
	}

	switch kind := artifact.Kind.(type) {
	case ExecutableZip:
		out.Assets = g.manifestAssets(kind.Entries)
	case Installer:
		out.InstallHint = kind.InstallHint
		out.Description = kind.Description
		out.Assets = g.manifestAssets(kind.Entries)
	}
	return out
}

func (g *Graph) manifestAssets(entries []ArchiveEntry) []manifest.Asset {
	if len(entries) == 0 {
		return nil
	}
	assets := make([]manifest.Asset, 0, len(entries))
	for _, entry := range entries {
		bin := g.Binaries[entry.Binary]
		assets = append(assets, manifest.Asset{
			ID:   bin.ID,
			Name: bin.Name,
			Path: entry.RelPath,
			Kind: string(bin.Kind),
		})
	}
	return assets
}

// githubCI lays out one build job per target that has local artifacts.
func (g *Graph) githubCI() *manifest.CIInfo {
	var include []manifest.MatrixEntry
	for _, target := range g.Targets() {
		include = append(include, manifest.MatrixEntry{
			Runner:    githubRunner(target),
			Targets:   []string{target.String()},
			BuildArgs: "--artifacts=local --target=" + target.String(),
		})
	}
	sort.SliceStable(include, func(i, j int) bool { return include[i].Targets[0] < include[j].Targets[0] })
	return &manifest.CIInfo{GitHub: &manifest.GitHubCIInfo{ArtifactsMatrix: manifest.Matrix{Include: include}}}
}

func githubRunner(target arch.Triple) string {
	switch target.OS() {
	case arch.Windows:
		return "windows-2022"
	case arch.Darwin:
		return "macos-14"
	default:
		if target.Arch() == arch.AArch64 {
			return "ubuntu-22.04-arm"
		}
		return "ubuntu-22.04"
	}
}

func cloneHosting(h manifest.Hosting) manifest.Hosting {
	var out manifest.Hosting
	if h.GitHub != nil {
		gh := *h.GitHub
		out.GitHub = &gh
	}
	if h.Mirror != nil {
		mirror := *h.Mirror
		out.Mirror = &mirror
	}
	return out
}

func tripleStrings(triples []arch.Triple) []string {
	if len(triples) == 0 {
		return nil
	}
	out := make([]string, 0, len(triples))
	for _, t := range triples {
		out = append(out, t.String())
	}
	return out
}

func appendUnique(values []string, value string) []string {
	if containsString(values, value) {
		return values
	}
	return append(values, value)
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
