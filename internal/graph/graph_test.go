package graph

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/announce"
	"github.com/cochaviz/decant/internal/manifest"
	"github.com/cochaviz/decant/internal/settings"
	"github.com/cochaviz/decant/internal/workspace"
)

const (
	linuxGNU    arch.Triple = "x86_64-unknown-linux-gnu"
	windowsMSVC arch.Triple = "x86_64-pc-windows-msvc"
	darwinARM   arch.Triple = "aarch64-apple-darwin"
)

func testDist(t *testing.T, yaml string) settings.Dist {
	t.Helper()
	s, err := settings.FromYAML([]byte(yaml + "packages:\n  - name: app\n"))
	if err != nil {
		t.Fatalf("FromYAML() error = %v", err)
	}
	return s.Dist
}

const baseYAML = `dist:
  targets: [x86_64-unknown-linux-gnu, x86_64-pc-windows-msvc]
  installers: [shell, powershell]
  checksum: sha256
`

func testPackages() []workspace.Package {
	return []workspace.Package{
		{ID: "app@1.0.0", Name: "app", Version: semver.MustParse("1.0.0"), Binaries: []string{"app"}},
		{ID: "lib@1.0.0", Name: "lib", Version: semver.MustParse("1.0.0")},
	}
}

func resolve(t *testing.T, tag string, pkgs []workspace.Package) announce.Tag {
	t.Helper()
	resolved, err := announce.Resolve(tag, pkgs)
	if err != nil {
		t.Fatalf("Resolve(%q) error = %v", tag, err)
	}
	return resolved
}

func artifactIDs(g *Graph) []string {
	ids := make([]string, 0, len(g.Artifacts))
	for _, artifact := range g.Artifacts {
		ids = append(ids, artifact.ID)
	}
	sort.Strings(ids)
	return ids
}

func hasID(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func TestBuildSkipsPackagesWithoutBinaries(t *testing.T) {
	t.Parallel()

	pkgs := testPackages()
	root := t.TempDir()
	g, err := Build(BuildOptions{
		Tag:      resolve(t, "v1.0.0", pkgs),
		Packages: pkgs,
		Mode:     ModeAll,
		Settings: testDist(t, baseYAML),
		Root:     root,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(g.Releases) != 1 || g.Releases[0].AppName != "app" {
		t.Fatalf("expected a single app release, got %+v", g.Releases)
	}
	if got := len(g.Releases[0].Variants); got != 2 {
		t.Fatalf("expected 2 variants, got %d", got)
	}

	ids := artifactIDs(g)
	for _, want := range []string{
		"app-x86_64-unknown-linux-gnu.tar.xz",
		"app-x86_64-unknown-linux-gnu.tar.xz.sha256",
		"app-x86_64-pc-windows-msvc.zip",
		"app-x86_64-pc-windows-msvc.zip.sha256",
		"app-installer.sh",
		"app-installer.ps1",
		SourceTarballID,
	} {
		if !hasID(ids, want) {
			t.Fatalf("artifact %s missing from %v", want, ids)
		}
	}

	distDir := filepath.Join(root, "target", "distrib")
	idx, ok := g.BinaryByID("app@1.0.0-x86_64-unknown-linux-gnu-app")
	if !ok {
		t.Fatalf("linux binary missing")
	}
	bin := g.Binary(idx)
	want := filepath.Join(distDir, "app-x86_64-unknown-linux-gnu", "app")
	if len(bin.CopyExeTo) != 1 || bin.CopyExeTo[0] != want {
		t.Fatalf("CopyExeTo = %v, want [%s]", bin.CopyExeTo, want)
	}

	idx, ok = g.BinaryByID("app@1.0.0-x86_64-pc-windows-msvc-app.exe")
	if !ok {
		t.Fatalf("windows binary missing")
	}
	if got := g.Binary(idx).FileName; got != "app.exe" {
		t.Fatalf("windows file name = %q, want app.exe", got)
	}
}

func TestBuildRejectsSinglePackageWithoutBinaries(t *testing.T) {
	t.Parallel()

	pkgs := testPackages()
	_, err := Build(BuildOptions{
		Tag:      resolve(t, "lib-v1.0.0", pkgs),
		Packages: pkgs,
		Settings: testDist(t, baseYAML),
		Root:     t.TempDir(),
	})
	if !errors.Is(err, ErrNoBinaries) {
		t.Fatalf("Build() error = %v, want ErrNoBinaries", err)
	}
}

func TestBuildNothingToRelease(t *testing.T) {
	t.Parallel()

	pkgs := []workspace.Package{
		{ID: "lib@1.0.0", Name: "lib", Version: semver.MustParse("1.0.0")},
		{ID: "app@2.0.0", Name: "app", Version: semver.MustParse("2.0.0"), Binaries: []string{"app"}},
	}
	_, err := Build(BuildOptions{
		Tag:      resolve(t, "v1.0.0", pkgs),
		Packages: pkgs,
		Settings: testDist(t, baseYAML),
		Root:     t.TempDir(),
	})
	if !errors.Is(err, ErrNothingToRelease) {
		t.Fatalf("Build() error = %v, want ErrNothingToRelease", err)
	}
}

func TestBuildSharesSourceTarball(t *testing.T) {
	t.Parallel()

	pkgs := []workspace.Package{
		{ID: "app@1.0.0", Name: "app", Version: semver.MustParse("1.0.0"), Binaries: []string{"app"}},
		{ID: "tool@1.0.0", Name: "tool", Version: semver.MustParse("1.0.0"), Binaries: []string{"tool"}},
	}
	g, err := Build(BuildOptions{
		Tag:      resolve(t, "v1.0.0", pkgs),
		Packages: pkgs,
		Mode:     ModeGlobal,
		Settings: testDist(t, baseYAML),
		Root:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(g.Releases) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(g.Releases))
	}

	count := 0
	for _, artifact := range g.Artifacts {
		if artifact.ID == SourceTarballID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one source tarball, got %d", count)
	}

	shared, _ := g.ArtifactByID(SourceTarballID)
	for _, release := range g.Releases {
		found := false
		for _, idx := range release.GlobalArtifacts {
			if idx == shared {
				found = true
			}
		}
		if !found {
			t.Fatalf("release %s does not reference the source tarball", release.ID())
		}
	}
}

func TestBuildModes(t *testing.T) {
	t.Parallel()

	pkgs := testPackages()
	dist := testDist(t, baseYAML)

	global, err := Build(BuildOptions{Tag: resolve(t, "v1.0.0", pkgs), Packages: pkgs, Mode: ModeGlobal, Settings: dist, Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Build(global) error = %v", err)
	}
	if got := global.BinariesToBuild(); len(got) != 0 {
		t.Fatalf("global mode should build no binaries, got %v", got)
	}
	if _, ok := global.ArtifactByID("app-installer.sh"); !ok {
		t.Fatalf("global mode should include the shell installer")
	}

	local, err := Build(BuildOptions{
		Tag:      resolve(t, "v1.0.0", pkgs),
		Packages: pkgs,
		Mode:     ModeLocal,
		Targets:  []arch.Triple{linuxGNU},
		Settings: dist,
		Root:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Build(local) error = %v", err)
	}
	if _, ok := local.ArtifactByID("app-installer.sh"); ok {
		t.Fatalf("local mode should not include installers")
	}
	if got := local.Targets(); len(got) != 1 || got[0] != linuxGNU {
		t.Fatalf("local targets = %v, want [%s]", got, linuxGNU)
	}

	host, err := Build(BuildOptions{
		Tag:      resolve(t, "v1.0.0", pkgs),
		Packages: pkgs,
		Mode:     ModeHost,
		Host:     linuxGNU,
		Settings: dist,
		Root:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Build(host) error = %v", err)
	}
	if _, ok := host.ArtifactByID("app-x86_64-pc-windows-msvc.zip"); ok {
		t.Fatalf("host mode on linux should not plan windows archives")
	}
	if _, ok := host.ArtifactByID("app-installer.ps1"); !ok {
		t.Fatalf("host mode should still plan global artifacts")
	}
}

func TestBuildSymbolsAndMSI(t *testing.T) {
	t.Parallel()

	pkgs := testPackages()
	dist := testDist(t, `dist:
  targets: [x86_64-unknown-linux-gnu, x86_64-pc-windows-msvc]
  installers: [msi]
  split_debuginfo: true
  checksum: none
`)
	g, err := Build(BuildOptions{Tag: resolve(t, "v1.0.0", pkgs), Packages: pkgs, Settings: dist, Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	linux, _ := g.BinaryByID("app@1.0.0-x86_64-unknown-linux-gnu-app")
	if bin := g.Binary(linux); len(bin.CopySymbolsTo) != 1 || filepath.Base(bin.CopySymbolsTo[0]) != "app-x86_64-unknown-linux-gnu.dwp" {
		t.Fatalf("unexpected linux symbol destinations: %v", bin.CopySymbolsTo)
	}

	windows, _ := g.BinaryByID("app@1.0.0-x86_64-pc-windows-msvc-app.exe")
	bin := g.Binary(windows)
	if len(bin.CopyExeTo) != 2 {
		t.Fatalf("windows binary should be copied into the archive and msi stage, got %v", bin.CopyExeTo)
	}
	if _, ok := g.ArtifactByID("app-x86_64-pc-windows-msvc.msi"); !ok {
		t.Fatalf("expected msi artifact")
	}
	for _, artifact := range g.Artifacts {
		if _, ok := artifact.Kind.(Checksum); ok {
			t.Fatalf("checksum %s planned with checksums disabled", artifact.ID)
		}
	}
}

func TestBuildSymbolsPerPackage(t *testing.T) {
	t.Parallel()

	pkgs := []workspace.Package{
		{ID: "app@1.0.0", Name: "app", Version: semver.MustParse("1.0.0"), Binaries: []string{"app"}},
		{ID: "tool@1.0.0", Name: "tool", Version: semver.MustParse("1.0.0"), Binaries: []string{"app"}},
	}
	dist := testDist(t, `dist:
  targets: [x86_64-unknown-linux-gnu]
  split_debuginfo: true
  checksum: none
`)
	g, err := Build(BuildOptions{Tag: resolve(t, "v1.0.0", pkgs), Packages: pkgs, Settings: dist, Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := map[string]string{
		"app@1.0.0-x86_64-unknown-linux-gnu-app":  "app-x86_64-unknown-linux-gnu.dwp",
		"tool@1.0.0-x86_64-unknown-linux-gnu-app": "tool-app-x86_64-unknown-linux-gnu.dwp",
	}
	for binID, symbolsID := range want {
		idx, ok := g.BinaryByID(binID)
		if !ok {
			t.Fatalf("binary %s missing", binID)
		}
		bin := g.Binary(idx)
		if bin.Symbols == nil || len(bin.CopySymbolsTo) != 1 || filepath.Base(bin.CopySymbolsTo[0]) != symbolsID {
			t.Fatalf("binary %s symbols = %v, copies = %v, want %s", binID, bin.Symbols, bin.CopySymbolsTo, symbolsID)
		}
		if _, ok := g.ArtifactByID(symbolsID); !ok {
			t.Fatalf("artifact %s missing", symbolsID)
		}
	}
}

func TestBuildPackageTargetsIntersect(t *testing.T) {
	t.Parallel()

	pkgs := []workspace.Package{{
		ID:       "app@1.0.0",
		Name:     "app",
		Version:  semver.MustParse("1.0.0"),
		Binaries: []string{"app"},
		Targets:  []arch.Triple{darwinARM, linuxGNU},
	}}
	g, err := Build(BuildOptions{
		Tag:      resolve(t, "v1.0.0", pkgs),
		Packages: pkgs,
		Targets:  []arch.Triple{linuxGNU, windowsMSVC},
		Settings: testDist(t, baseYAML),
		Root:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if targets := g.Releases[0].Targets; len(targets) != 1 || targets[0] != linuxGNU {
		t.Fatalf("release targets = %v, want [%s]", targets, linuxGNU)
	}
}

func TestGraphManifest(t *testing.T) {
	t.Parallel()

	pkgs := testPackages()
	dist := testDist(t, baseYAML+`  ci: [github]
  hosting:
    github:
      owner: cochaviz
      repo: app
`)
	g, err := Build(BuildOptions{Tag: resolve(t, "v1.0.0", pkgs), Packages: pkgs, Settings: dist, Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	idx, _ := g.BinaryByID("app@1.0.0-x86_64-unknown-linux-gnu-app")
	g.RecordBuilt(idx, "/tmp/app", "", nil)

	m := g.Manifest(manifest.SystemInfo{ID: "plan", Host: string(linuxGNU)})
	if m.AnnouncementTag != "v1.0.0" {
		t.Fatalf("announcement tag = %q", m.AnnouncementTag)
	}
	if len(m.Releases) != 1 {
		t.Fatalf("expected one release, got %d", len(m.Releases))
	}
	release := m.Releases[0]
	if release.AppVersion != "1.0.0" || release.Hosting.GitHub == nil {
		t.Fatalf("unexpected release: %+v", release)
	}
	if want := "https://github.com/cochaviz/app/releases/download/v1.0.0"; release.Hosting.GitHub.ArtifactDownloadURL != want {
		t.Fatalf("download url = %q, want %q", release.Hosting.GitHub.ArtifactDownloadURL, want)
	}
	if len(release.Artifacts) != len(m.Artifacts) {
		t.Fatalf("release lists %d artifacts, manifest has %d", len(release.Artifacts), len(m.Artifacts))
	}

	archive := m.Artifacts["app-x86_64-unknown-linux-gnu.tar.xz"]
	if archive.Kind != manifest.KindExecutableZip || archive.Checksum != "app-x86_64-unknown-linux-gnu.tar.xz.sha256" {
		t.Fatalf("unexpected archive entry: %+v", archive)
	}
	if len(archive.Assets) != 1 || archive.Assets[0].Path != "app" {
		t.Fatalf("unexpected archive assets: %+v", archive.Assets)
	}
	installer := m.Artifacts["app-installer.sh"]
	if installer.InstallHint == "" {
		t.Fatalf("shell installer has no install hint")
	}
	if _, ok := m.Assets["app@1.0.0-x86_64-unknown-linux-gnu-app"]; !ok {
		t.Fatalf("built binary missing from assets")
	}
	if m.CI == nil || m.CI.GitHub == nil || len(m.CI.GitHub.ArtifactsMatrix.Include) != 2 {
		t.Fatalf("unexpected ci matrix: %+v", m.CI)
	}
}

func TestHostCanBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host   arch.Triple
		target arch.Triple
		want   bool
	}{
		{linuxGNU, linuxGNU, true},
		{linuxGNU, "x86_64-unknown-linux-musl", true},
		{linuxGNU, "aarch64-unknown-linux-gnu", false},
		{linuxGNU, windowsMSVC, false},
		{darwinARM, "x86_64-apple-darwin", true},
		{"", windowsMSVC, true},
	}
	for _, tc := range tests {
		if got := HostCanBuild(tc.host, tc.target); got != tc.want {
			t.Fatalf("HostCanBuild(%s, %s) = %t, want %t", tc.host, tc.target, got, tc.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	if mode, err := ParseMode("HOST"); err != nil || mode != ModeHost {
		t.Fatalf("ParseMode(HOST) = %q, %v", mode, err)
	}
	if mode, err := ParseMode(""); err != nil || mode != ModeAll {
		t.Fatalf("ParseMode(\"\") = %q, %v", mode, err)
	}
	if _, err := ParseMode("everything"); err == nil {
		t.Fatalf("ParseMode(everything) expected error")
	}
}
