package settings

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/decant/arch"
)

// FileName is the settings file expected at the workspace root.
const FileName = "decant.yaml"

// Backend names the build tool used for a package.
const (
	BackendCargo   = "cargo"
	BackendGeneric = "generic"
)

// Installer styles understood by the graph builder.
const (
	InstallerShell      = "shell"
	InstallerPowershell = "powershell"
	InstallerMSI        = "msi"
	InstallerHomebrew   = "homebrew"
)

// Archive extensions for executable archives.
const (
	ArchiveZip   = ".zip"
	ArchiveTarGz = ".tar.gz"
	ArchiveTarXz = ".tar.xz"
)

// Checksum styles.
const (
	ChecksumSHA256 = "sha256"
	ChecksumSHA512 = "sha512"
	ChecksumNone   = "none"
)

// Settings models decant.yaml.
type Settings struct {
	Dist     Dist      `yaml:"dist"`
	Packages []Package `yaml:"packages"`
}

// Dist holds the release-wide knobs.
type Dist struct {
	Dir             string          `yaml:"dir"`
	Targets         []string        `yaml:"targets"`
	Installers      []string        `yaml:"installers"`
	Checksum        string          `yaml:"checksum"`
	UnixArchive     string          `yaml:"unix_archive"`
	WindowsArchive  string          `yaml:"windows_archive"`
	SourceTarball   *bool           `yaml:"source_tarball"`
	InstallUpdater  bool            `yaml:"install_updater"`
	SplitDebuginfo  bool            `yaml:"split_debuginfo"`
	PreciseBuilds   bool            `yaml:"precise_builds"`
	MSVCCrtStatic   *bool           `yaml:"msvc_crt_static"`
	MuslDynamic     bool            `yaml:"musl_dynamic"`
	MinGlibcVersion string          `yaml:"min_glibc_version"`
	Profile         string          `yaml:"profile"`
	Hosting         Hosting         `yaml:"hosting"`
	CI              []string        `yaml:"ci"`
	ExtraArtifacts  []ExtraArtifact `yaml:"extra_artifacts"`
}

// Hosting describes where release artifacts end up.
type Hosting struct {
	GitHub *GitHubHosting `yaml:"github"`
	Mirror *MirrorHosting `yaml:"mirror"`
}

type GitHubHosting struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

type MirrorHosting struct {
	BaseURL string `yaml:"base_url"`
}

// ExtraArtifact is a user command producing additional global artifacts.
type ExtraArtifact struct {
	Build     []string `yaml:"build"`
	Dir       string   `yaml:"dir"`
	Artifacts []string `yaml:"artifacts"`
}

// Package is one buildable unit of the workspace.
type Package struct {
	Name              string   `yaml:"name"`
	Version           string   `yaml:"version"`
	Dir               string   `yaml:"dir"`
	Backend           string   `yaml:"backend"`
	BuildCommand      []string `yaml:"build_command"`
	Binaries          []string `yaml:"binaries"`
	CDylibs           []string `yaml:"cdylibs"`
	CStaticLibs       []string `yaml:"cstaticlibs"`
	Features          []string `yaml:"features"`
	NoDefaultFeatures bool     `yaml:"no_default_features"`
	AllFeatures       bool     `yaml:"all_features"`
	Targets           []string `yaml:"targets"`
}

// Path returns the settings file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates settings from workspace.
func Load(workspace string) (*Settings, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("settings %s not found; create one with decant init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML settings from the given path.
func FromFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses, defaults and validates settings from raw YAML bytes.
func FromYAML(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid settings yaml: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Default returns the settings produced by GenerateDefault.
func Default(name, version string) *Settings {
	var s Settings
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(name, version))).Decode(&s)
	s.applyDefaults()
	return &s
}

// GenerateDefault returns a starter decant.yaml for a single package.
func GenerateDefault(name, version string) string {
	return fmt.Sprintf(defaultTemplate, name, version, name)
}

func (s *Settings) applyDefaults() {
	d := &s.Dist
	if d.Dir == "" {
		d.Dir = filepath.Join("target", "distrib")
	}
	if d.Checksum == "" {
		d.Checksum = ChecksumSHA256
	}
	if d.UnixArchive == "" {
		d.UnixArchive = ArchiveTarXz
	}
	if d.WindowsArchive == "" {
		d.WindowsArchive = ArchiveZip
	}
	if d.Profile == "" {
		d.Profile = "dist"
	}
	if d.SourceTarball == nil {
		enabled := true
		d.SourceTarball = &enabled
	}
	if d.MSVCCrtStatic == nil {
		enabled := true
		d.MSVCCrtStatic = &enabled
	}
	for i := range s.Packages {
		pkg := &s.Packages[i]
		if pkg.Backend == "" {
			pkg.Backend = BackendCargo
		}
		if pkg.Dir == "" {
			pkg.Dir = "."
		}
	}
}

// Validate ensures the settings meet the required structure.
func (s *Settings) Validate() error {
	for _, target := range s.Dist.Targets {
		if _, err := arch.ParseTriple(target); err != nil {
			return fmt.Errorf("dist.targets: %w", err)
		}
	}
	for _, installer := range s.Dist.Installers {
		switch installer {
		case InstallerShell, InstallerPowershell, InstallerMSI, InstallerHomebrew:
		default:
			return fmt.Errorf("dist.installers: unknown installer %q", installer)
		}
	}
	switch s.Dist.Checksum {
	case ChecksumSHA256, ChecksumSHA512, ChecksumNone:
	default:
		return fmt.Errorf("dist.checksum: unknown checksum style %q", s.Dist.Checksum)
	}
	for field, ext := range map[string]string{"dist.unix_archive": s.Dist.UnixArchive, "dist.windows_archive": s.Dist.WindowsArchive} {
		switch ext {
		case ArchiveZip, ArchiveTarGz, ArchiveTarXz:
		default:
			return fmt.Errorf("%s: unknown archive format %q", field, ext)
		}
	}
	for i, extra := range s.Dist.ExtraArtifacts {
		if len(extra.Build) == 0 {
			return fmt.Errorf("dist.extra_artifacts[%d].build is required", i)
		}
		if len(extra.Artifacts) == 0 {
			return fmt.Errorf("dist.extra_artifacts[%d].artifacts is required", i)
		}
	}
	if gh := s.Dist.Hosting.GitHub; gh != nil && (gh.Owner == "" || gh.Repo == "") {
		return fmt.Errorf("dist.hosting.github requires owner and repo")
	}

	if len(s.Packages) == 0 {
		return fmt.Errorf("packages is required")
	}
	seen := make(map[string]bool, len(s.Packages))
	for i, pkg := range s.Packages {
		if strings.TrimSpace(pkg.Name) == "" {
			return fmt.Errorf("packages[%d].name is required", i)
		}
		if seen[pkg.Name] {
			return fmt.Errorf("package %s is declared more than once", pkg.Name)
		}
		seen[pkg.Name] = true
		if pkg.Version != "" {
			if _, err := semver.StrictNewVersion(pkg.Version); err != nil {
				return fmt.Errorf("package %s has invalid version %q: %w", pkg.Name, pkg.Version, err)
			}
		}
		switch pkg.Backend {
		case BackendCargo:
		case BackendGeneric:
			if len(pkg.BuildCommand) == 0 {
				return fmt.Errorf("package %s uses the generic backend but has no build_command", pkg.Name)
			}
		default:
			return fmt.Errorf("package %s has unknown backend %q", pkg.Name, pkg.Backend)
		}
		for _, target := range pkg.Targets {
			if _, err := arch.ParseTriple(target); err != nil {
				return fmt.Errorf("package %s targets: %w", pkg.Name, err)
			}
		}
	}
	return nil
}

// SourceTarballEnabled reports whether a source tarball is produced.
func (d Dist) SourceTarballEnabled() bool {
	return d.SourceTarball == nil || *d.SourceTarball
}

// StaticMSVCRuntime reports whether windows-msvc builds link the C runtime statically.
func (d Dist) StaticMSVCRuntime() bool {
	return d.MSVCCrtStatic == nil || *d.MSVCCrtStatic
}

const defaultTemplate = `dist:
  dir: target/distrib
  targets:
    - x86_64-unknown-linux-gnu
    - aarch64-apple-darwin
    - x86_64-apple-darwin
    - x86_64-pc-windows-msvc
  installers: [shell, powershell]
  checksum: sha256
  ci: [github]

packages:
  - name: %s
    version: %s
    backend: cargo
    binaries: [%s]
`
