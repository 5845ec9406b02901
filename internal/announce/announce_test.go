package announce

import (
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/cochaviz/decant/internal/workspace"
)

func pkg(name, version string, bins ...string) workspace.Package {
	p := workspace.Package{Name: name, Binaries: bins, ID: workspace.PackageID(name, version)}
	if version != "" {
		p.Version = semver.MustParse(version)
	}
	return p
}

func TestResolvePackageScopedShapes(t *testing.T) {
	t.Parallel()

	packages := []workspace.Package{
		pkg("app", "1.0.0", "app"),
		pkg("app-cli", "2.0.0", "app-cli"),
	}

	tests := []struct {
		tag     string
		wantIdx int
		want    string
	}{
		{tag: "app-v1.0.0", wantIdx: 0, want: "1.0.0"},
		{tag: "app-1.0.0", wantIdx: 0, want: "1.0.0"},
		{tag: "app/v1.0.0", wantIdx: 0, want: "1.0.0"},
		{tag: "app/1.0.0", wantIdx: 0, want: "1.0.0"},
		{tag: "app-cli-v2.0.0", wantIdx: 1, want: "2.0.0"},
		{tag: "releases/app-cli/2.0.0", wantIdx: 1, want: "2.0.0"},
		{tag: "blah/blah/app-v1.0.0", wantIdx: 0, want: "1.0.0"},
	}

	for _, tt := range tests {
		got, err := Resolve(tt.tag, packages)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", tt.tag, err)
		}
		sel, ok := got.Selection.(SinglePackage)
		if !ok {
			t.Fatalf("Resolve(%q) selection = %T, want SinglePackage", tt.tag, got.Selection)
		}
		if sel.Index != tt.wantIdx || sel.Version.String() != tt.want {
			t.Fatalf("Resolve(%q) = %+v, want index %d version %s", tt.tag, sel, tt.wantIdx, tt.want)
		}
		if got.Tag != tt.tag {
			t.Fatalf("Resolve(%q).Tag = %q", tt.tag, got.Tag)
		}
	}
}

func TestResolveBareVersion(t *testing.T) {
	t.Parallel()

	packages := []workspace.Package{
		pkg("app", "1.0.0", "app"),
		pkg("lib", "1.0.0"),
		pkg("other", "0.9.0", "other"),
	}

	for _, tag := range []string{"v1.0.0", "1.0.0", "releases/v1.0.0", "blah/blah/1.0.0"} {
		got, err := Resolve(tag, packages)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", tag, err)
		}
		if _, ok := got.Selection.(AllMatchingVersion); !ok {
			t.Fatalf("Resolve(%q) selection = %T, want AllMatchingVersion", tag, got.Selection)
		}
		selected := got.Packages(packages)
		if len(selected) != 2 || selected[0] != 0 || selected[1] != 1 {
			t.Fatalf("Resolve(%q).Packages() = %v, want [0 1]", tag, selected)
		}
	}
}

func TestResolveUnknownPackagePrefixIsStripped(t *testing.T) {
	t.Parallel()

	packages := []workspace.Package{pkg("app", "1.0.0", "app")}

	for _, tag := range []string{"unknown-v1.0.0", "unknown/1.0.0", "my-tool-1.0.0"} {
		got, err := Resolve(tag, packages)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", tag, err)
		}
		if _, ok := got.Selection.(AllMatchingVersion); !ok {
			t.Fatalf("Resolve(%q) selection = %T, want AllMatchingVersion", tag, got.Selection)
		}
	}
}

func TestResolvePrerelease(t *testing.T) {
	t.Parallel()

	packages := []workspace.Package{pkg("app", "1.0.0-beta.1", "app")}

	got, err := Resolve("app-v1.0.0-beta.1", packages)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !got.Prerelease {
		t.Fatal("Prerelease = false, want true")
	}

	stable, err := Resolve("v2.0.0", packages)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if stable.Prerelease {
		t.Fatal("Prerelease = true, want false")
	}
}

func TestResolveVersionMismatch(t *testing.T) {
	t.Parallel()

	packages := []workspace.Package{pkg("app", "1.0.0", "app")}

	_, err := Resolve("app-v1.1.0", packages)
	var mismatch *VersionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Resolve() error = %v, want VersionMismatchError", err)
	}
	if mismatch.Package != "app" || mismatch.Declared != "1.0.0" || mismatch.Tagged != "1.1.0" {
		t.Fatalf("mismatch = %+v", mismatch)
	}
}

func TestResolveTrustsTagWhenPackageHasNoVersion(t *testing.T) {
	t.Parallel()

	packages := []workspace.Package{pkg("app", "", "app")}

	got, err := Resolve("app-v3.1.4", packages)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Version().String() != "3.1.4" {
		t.Fatalf("Version() = %s, want 3.1.4", got.Version())
	}
}

func TestResolveNoVersion(t *testing.T) {
	t.Parallel()

	packages := []workspace.Package{pkg("app", "1.0.0", "app")}

	for _, tag := range []string{"latest", "app-latest", "releases/nightly"} {
		if _, err := Resolve(tag, packages); !errors.Is(err, ErrNoVersion) {
			t.Fatalf("Resolve(%q) error = %v, want ErrNoVersion", tag, err)
		}
	}
}

func TestTagRoundTrip(t *testing.T) {
	t.Parallel()

	packages := []workspace.Package{
		pkg("app", "1.0.0", "app"),
		pkg("tool", "2.3.4", "tool"),
	}

	for i, p := range packages {
		scoped, err := Resolve(p.Name+"-v"+p.Version.String(), packages)
		if err != nil {
			t.Fatalf("Resolve(scoped) error = %v", err)
		}
		if got := scoped.Packages(packages); len(got) != 1 || got[0] != i {
			t.Fatalf("scoped Packages() = %v, want [%d]", got, i)
		}

		bare, err := Resolve("v"+p.Version.String(), packages)
		if err != nil {
			t.Fatalf("Resolve(bare) error = %v", err)
		}
		if got := bare.Packages(packages); len(got) != 1 || got[0] != i {
			t.Fatalf("bare Packages() = %v, want [%d]", got, i)
		}
		if !bare.Version().Equal(scoped.Version()) {
			t.Fatalf("versions differ: %s vs %s", bare.Version(), scoped.Version())
		}
	}
}

func TestInfer(t *testing.T) {
	t.Parallel()

	agreeing := []workspace.Package{
		pkg("app", "1.0.0", "app"),
		pkg("tool", "1.0.0", "tool"),
		pkg("lib", "0.3.0"),
	}
	got, err := Resolve("", agreeing)
	if err != nil {
		t.Fatalf("Resolve(\"\") error = %v", err)
	}
	if got.Tag != "v1.0.0" {
		t.Fatalf("Tag = %q, want v1.0.0", got.Tag)
	}

	disagreeing := []workspace.Package{
		pkg("app", "1.0.0", "app"),
		pkg("tool", "2.0.0", "tool"),
	}
	if _, err := Infer(disagreeing); !errors.Is(err, ErrTooManyUnrelatedApps) {
		t.Fatalf("Infer() error = %v, want ErrTooManyUnrelatedApps", err)
	}

	if _, err := Infer([]workspace.Package{pkg("lib", "1.0.0")}); !errors.Is(err, ErrNoVersion) {
		t.Fatalf("Infer() error = %v, want ErrNoVersion", err)
	}
}

func TestTitle(t *testing.T) {
	t.Parallel()

	packages := []workspace.Package{pkg("app", "1.0.0", "app")}

	single, _ := Resolve("app-v1.0.0", packages)
	if got := single.Title(packages); got != "app 1.0.0" {
		t.Fatalf("Title() = %q, want %q", got, "app 1.0.0")
	}
	all, _ := Resolve("v1.0.0", packages)
	if got := all.Title(packages); got != "v1.0.0" {
		t.Fatalf("Title() = %q, want v1.0.0", got)
	}
}
