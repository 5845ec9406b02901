package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/cochaviz/decant/internal/linkage"
)

const testTag = "v1.0.0"

func linuxPartial() *DistManifest {
	m := New(testTag, false)
	m.Releases = []Release{{
		AppName:    "app",
		AppVersion: "1.0.0",
		Artifacts:  []string{"app-x86_64-unknown-linux-gnu.tar.xz"},
		Hosting:    Hosting{Mirror: &MirrorHosting{BaseURL: "https://dl.example.com"}},
	}}
	m.Artifacts["app-x86_64-unknown-linux-gnu.tar.xz"] = Artifact{
		Name:          "app-x86_64-unknown-linux-gnu.tar.xz",
		Kind:          KindExecutableZip,
		TargetTriples: []string{"x86_64-unknown-linux-gnu"},
		Assets:        []Asset{{Name: "app", Path: "app", Kind: AssetExecutable}},
	}
	m.Systems["linux-runner"] = SystemInfo{ID: "linux-runner", Host: "x86_64-unknown-linux-gnu"}
	m.Assets["bin-x"] = AssetInfo{
		ID:      "bin-x",
		Name:    "app",
		System:  "linux-runner",
		Linkage: &linkage.Linkage{System: []linkage.Library{{Path: "/lib/x86_64-linux-gnu/libc.so.6"}}},
	}
	return m
}

func windowsPartial() *DistManifest {
	m := New(testTag, false)
	m.Releases = []Release{{
		AppName:    "app",
		AppVersion: "1.0.0",
		Artifacts:  []string{"app-x86_64-pc-windows-msvc.zip"},
		Hosting:    Hosting{Mirror: &MirrorHosting{BaseURL: "https://other.example.com", ReleaseID: "rel-42"}},
	}}
	m.Artifacts["app-x86_64-pc-windows-msvc.zip"] = Artifact{
		Name:          "app-x86_64-pc-windows-msvc.zip",
		Kind:          KindExecutableZip,
		TargetTriples: []string{"x86_64-pc-windows-msvc"},
		Assets:        []Asset{{Name: "app.exe", Path: "app.exe", Kind: AssetExecutable}},
	}
	m.Systems["windows-runner"] = SystemInfo{ID: "windows-runner", Host: "x86_64-pc-windows-msvc"}
	m.Assets["bin-y"] = AssetInfo{ID: "bin-y", Name: "app.exe", System: "windows-runner"}
	return m
}

func encode(t *testing.T, m *DistManifest) string {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return string(data)
}

func TestMergeCombinesPlatforms(t *testing.T) {
	t.Parallel()

	canonical := New(testTag, false)
	if got := MergeAll(canonical, []*DistManifest{linuxPartial(), windowsPartial()}, nil); got != 2 {
		t.Fatalf("MergeAll() merged = %d, want 2", got)
	}

	if len(canonical.Releases) != 1 {
		t.Fatalf("expected one release, got %d", len(canonical.Releases))
	}
	release := canonical.Releases[0]
	want := []string{"app-x86_64-pc-windows-msvc.zip", "app-x86_64-unknown-linux-gnu.tar.xz"}
	if !reflect.DeepEqual(release.Artifacts, want) {
		t.Fatalf("release artifacts = %v, want %v", release.Artifacts, want)
	}
	if len(canonical.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(canonical.Artifacts))
	}
	got := canonical.Assets["bin-x"].Linkage
	if got == nil || len(got.System) != 1 || got.System[0].Path != "/lib/x86_64-linux-gnu/libc.so.6" {
		t.Fatalf("unexpected linkage for bin-x: %+v", got)
	}
	if _, ok := canonical.Assets["bin-y"]; !ok {
		t.Fatalf("expected bin-y asset")
	}
}

func TestMergeHostingBackfillsOnlyUnsetFields(t *testing.T) {
	t.Parallel()

	canonical := New(testTag, false)
	canonical.Merge(linuxPartial())
	canonical.Merge(windowsPartial())

	mirror := canonical.Releases[0].Hosting.Mirror
	if mirror == nil {
		t.Fatalf("expected mirror hosting")
	}
	if mirror.BaseURL != "https://dl.example.com" {
		t.Fatalf("base url overwritten: %q", mirror.BaseURL)
	}
	if mirror.ReleaseID != "rel-42" {
		t.Fatalf("release id not backfilled: %q", mirror.ReleaseID)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	once := New(testTag, false)
	once.Merge(linuxPartial())

	twice := New(testTag, false)
	twice.Merge(linuxPartial())
	twice.Merge(linuxPartial())

	if encode(t, once) != encode(t, twice) {
		t.Fatalf("merging twice changed the manifest:\n%s\n%s", encode(t, once), encode(t, twice))
	}
}

func TestMergeIsOrderIndependent(t *testing.T) {
	t.Parallel()

	ab := New(testTag, false)
	MergeAll(ab, []*DistManifest{linuxPartial(), windowsPartial()}, nil)

	ba := New(testTag, false)
	MergeAll(ba, []*DistManifest{windowsPartial(), linuxPartial()}, nil)

	// Mirror base urls differ between the partials; the first writer keeps it.
	ab.Releases[0].Hosting.Mirror.BaseURL = ""
	ba.Releases[0].Hosting.Mirror.BaseURL = ""

	if encode(t, ab) != encode(t, ba) {
		t.Fatalf("merge order changed the manifest:\n%s\n%s", encode(t, ab), encode(t, ba))
	}
}

func TestMergeDiscardsStalePartial(t *testing.T) {
	t.Parallel()

	canonical := New(testTag, false)
	stale := linuxPartial()
	stale.AnnouncementTag = "v0.9.0"

	if canonical.Merge(stale) {
		t.Fatalf("Merge() accepted stale partial")
	}
	if len(canonical.Releases) != 0 || len(canonical.Artifacts) != 0 {
		t.Fatalf("stale partial leaked into canonical manifest")
	}
}

func TestMergeUnionsChecksumsAndAssetIDs(t *testing.T) {
	t.Parallel()

	canonical := New(testTag, false)
	first := New(testTag, false)
	first.Artifacts["a.zip"] = Artifact{
		Kind:      KindExecutableZip,
		Checksums: map[string]string{"sha256": "aaa"},
		Assets:    []Asset{{Path: "app", Kind: AssetExecutable}},
	}
	second := New(testTag, false)
	second.Artifacts["a.zip"] = Artifact{
		Kind:      KindExecutableZip,
		Checksums: map[string]string{"sha256": "bbb", "sha512": "ccc"},
		Assets:    []Asset{{ID: "bin-1", Path: "app", Kind: AssetExecutable}},
	}

	canonical.Merge(first)
	canonical.Merge(second)

	artifact := canonical.Artifacts["a.zip"]
	if artifact.Checksums["sha256"] != "aaa" || artifact.Checksums["sha512"] != "ccc" {
		t.Fatalf("unexpected checksums: %v", artifact.Checksums)
	}
	if len(artifact.Assets) != 1 || artifact.Assets[0].ID != "bin-1" {
		t.Fatalf("unexpected assets: %+v", artifact.Assets)
	}
}

func TestMergeCILastWriteWins(t *testing.T) {
	t.Parallel()

	canonical := New(testTag, false)
	first := New(testTag, false)
	first.CI = &CIInfo{GitHub: &GitHubCIInfo{ArtifactsMatrix: Matrix{Include: []MatrixEntry{{Runner: "old"}}}}}
	second := New(testTag, false)
	second.CI = &CIInfo{GitHub: &GitHubCIInfo{ArtifactsMatrix: Matrix{Include: []MatrixEntry{{Runner: "new"}}}}}

	canonical.Merge(first)
	canonical.Merge(second)

	if got := canonical.CI.GitHub.ArtifactsMatrix.Include[0].Runner; got != "new" {
		t.Fatalf("ci runner = %q, want new", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := &Store{BaseDir: t.TempDir()}
	first, err := store.WritePartial(linuxPartial())
	if err != nil {
		t.Fatalf("WritePartial() error = %v", err)
	}
	second, err := store.WritePartial(windowsPartial())
	if err != nil {
		t.Fatalf("WritePartial() error = %v", err)
	}
	if first == second {
		t.Fatalf("partials share a path: %s", first)
	}

	paths, err := store.DiscoverPartials()
	if err != nil {
		t.Fatalf("DiscoverPartials() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 partials, got %v", paths)
	}

	canonical, err := store.LoadCanonical(testTag, false)
	if err != nil {
		t.Fatalf("LoadCanonical() error = %v", err)
	}
	merged, err := store.MergeDiscovered(canonical)
	if err != nil {
		t.Fatalf("MergeDiscovered() error = %v", err)
	}
	if merged != 2 {
		t.Fatalf("merged = %d, want 2", merged)
	}
	if err := store.SaveCanonical(canonical); err != nil {
		t.Fatalf("SaveCanonical() error = %v", err)
	}

	reloaded, err := store.LoadCanonical(testTag, false)
	if err != nil {
		t.Fatalf("LoadCanonical() error = %v", err)
	}
	if encode(t, reloaded) != encode(t, canonical) {
		t.Fatalf("reloaded manifest differs")
	}

	paths, err = store.DiscoverPartials()
	if err != nil {
		t.Fatalf("DiscoverPartials() error = %v", err)
	}
	for _, path := range paths {
		if filepath.Base(path) == CanonicalFileName {
			t.Fatalf("canonical manifest reported as partial")
		}
	}
}

func TestStoreSkipsUnreadablePartial(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken-dist-manifest.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	store := &Store{BaseDir: dir}
	if _, err := store.WritePartial(linuxPartial()); err != nil {
		t.Fatalf("WritePartial() error = %v", err)
	}

	merged, err := store.MergeDiscovered(New(testTag, false))
	if err != nil {
		t.Fatalf("MergeDiscovered() error = %v", err)
	}
	if merged != 1 {
		t.Fatalf("merged = %d, want 1", merged)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "decode manifest") {
		t.Fatalf("Load() error = %v, want decode error", err)
	}
}
