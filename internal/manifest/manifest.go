// Package manifest defines the JSON document build machines exchange and the
// rules for folding partial documents into one canonical release description.
package manifest

import (
	"sort"

	"github.com/cochaviz/decant/internal/linkage"
)

// Artifact kinds as written to the manifest.
const (
	KindExecutableZip = "executable-zip"
	KindSymbols       = "symbols"
	KindInstaller     = "installer"
	KindChecksum      = "checksum"
	KindSourceTarball = "source-tarball"
	KindExtraArtifact = "extra-artifact"
	KindUpdater       = "updater"
)

// Asset kinds.
const (
	AssetExecutable      = "executable"
	AssetCDynamicLibrary = "c_dynamic_library"
	AssetCStaticLibrary  = "c_static_library"
)

// DistManifest is both the per-machine partial manifest and the merged
// canonical manifest.
type DistManifest struct {
	DistVersion              string                     `json:"dist_version,omitempty"`
	AnnouncementTag          string                     `json:"announcement_tag"`
	AnnouncementIsPrerelease bool                       `json:"announcement_is_prerelease"`
	AnnouncementTitle        string                     `json:"announcement_title,omitempty"`
	Releases                 []Release                  `json:"releases"`
	Artifacts                map[string]Artifact        `json:"artifacts"`
	Systems                  map[string]SystemInfo      `json:"systems"`
	Assets                   map[string]AssetInfo       `json:"assets"`
	Linkage                  map[string]linkage.Linkage `json:"linkage"`
	CI                       *CIInfo                    `json:"ci,omitempty"`
}

// Release is one app announced at one version.
type Release struct {
	AppName     string   `json:"app_name"`
	AppVersion  string   `json:"app_version"`
	Artifacts   []string `json:"artifacts"`
	Hosting     Hosting  `json:"hosting"`
	DisplayName string   `json:"display_name,omitempty"`
	Display     *bool    `json:"display,omitempty"`
}

// Hosting records where a release's artifacts are published.
type Hosting struct {
	GitHub *GitHubHosting `json:"github,omitempty"`
	Mirror *MirrorHosting `json:"mirror,omitempty"`
}

type GitHubHosting struct {
	ArtifactDownloadURL string `json:"artifact_download_url"`
	Owner               string `json:"owner"`
	Repo                string `json:"repo"`
}

type MirrorHosting struct {
	BaseURL   string `json:"base_url,omitempty"`
	ReleaseID string `json:"release_id,omitempty"`
}

// Artifact is one shippable file.
type Artifact struct {
	Name          string            `json:"name,omitempty"`
	Kind          string            `json:"kind"`
	TargetTriples []string          `json:"target_triples,omitempty"`
	Path          string            `json:"path,omitempty"`
	Assets        []Asset           `json:"assets,omitempty"`
	InstallHint   string            `json:"install_hint,omitempty"`
	Description   string            `json:"description,omitempty"`
	Checksum      string            `json:"checksum,omitempty"`
	Checksums     map[string]string `json:"checksums,omitempty"`
}

// Asset is a file inside an artifact.
type Asset struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// SystemInfo describes a machine that contributed to the manifest.
type SystemInfo struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	OS   string `json:"os,omitempty"`
	Arch string `json:"arch,omitempty"`
}

// AssetInfo describes one built binary.
type AssetInfo struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	System        string           `json:"system"`
	TargetTriples []string         `json:"target_triples,omitempty"`
	Linkage       *linkage.Linkage `json:"linkage,omitempty"`
}

// CIInfo is written by exactly one machine (the planner).
type CIInfo struct {
	GitHub *GitHubCIInfo `json:"github,omitempty"`
}

type GitHubCIInfo struct {
	ArtifactsMatrix Matrix `json:"artifacts_matrix"`
}

type Matrix struct {
	Include []MatrixEntry `json:"include"`
}

type MatrixEntry struct {
	Runner    string   `json:"runner"`
	Targets   []string `json:"targets"`
	BuildArgs string   `json:"dist_args"`
}

// New returns an empty manifest for the given announcement.
func New(tag string, prerelease bool) *DistManifest {
	m := &DistManifest{
		AnnouncementTag:          tag,
		AnnouncementIsPrerelease: prerelease,
	}
	m.ensureMaps()
	return m
}

func (m *DistManifest) ensureMaps() {
	if m.Artifacts == nil {
		m.Artifacts = make(map[string]Artifact)
	}
	if m.Systems == nil {
		m.Systems = make(map[string]SystemInfo)
	}
	if m.Assets == nil {
		m.Assets = make(map[string]AssetInfo)
	}
	if m.Linkage == nil {
		m.Linkage = make(map[string]linkage.Linkage)
	}
}

// Release returns the release for (app, version), or nil.
func (m *DistManifest) Release(app, version string) *Release {
	for i := range m.Releases {
		if m.Releases[i].AppName == app && m.Releases[i].AppVersion == version {
			return &m.Releases[i]
		}
	}
	return nil
}

// Sort puts every list in the manifest into a stable order.
func (m *DistManifest) Sort() {
	sort.SliceStable(m.Releases, func(i, j int) bool {
		a, b := m.Releases[i], m.Releases[j]
		if a.AppName != b.AppName {
			return a.AppName < b.AppName
		}
		return a.AppVersion < b.AppVersion
	})
	for i := range m.Releases {
		sort.Strings(m.Releases[i].Artifacts)
	}
	for id, artifact := range m.Artifacts {
		sort.SliceStable(artifact.Assets, func(i, j int) bool { return artifact.Assets[i].Path < artifact.Assets[j].Path })
		sort.Strings(artifact.TargetTriples)
		m.Artifacts[id] = artifact
	}
}
