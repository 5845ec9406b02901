package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/graph"
)

type fakeCargo struct {
	dir    string
	builds []arch.Triple
}

func (f *fakeCargo) BuildCargo(_ context.Context, step CargoBuildStep, expected *ExpectedBinaries) error {
	f.builds = append(f.builds, step.Target)
	out := filepath.Join(f.dir, step.Target.String(), "app"+step.Target.ExeSuffix())
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(out, []byte("built for "+step.Target.String()), 0o755); err != nil {
		return err
	}
	expected.FoundBin(Produced{PackageID: "app@1.0.0", Path: out})
	return nil
}

type fakeToolchain struct {
	fail map[arch.Triple]bool
}

func (f *fakeToolchain) AddTarget(_ context.Context, step ToolchainSetupStep) error {
	if f.fail[step.Target] {
		return errors.New("rustup unavailable")
	}
	return nil
}

func TestBuildServiceRunsSteps(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graphFixture{yaml: twoTargets, mode: graph.ModeLocal})
	steps, err := Schedule(g, ScheduleOptions{Host: linuxGNU})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	cargo := &fakeCargo{dir: t.TempDir()}
	service := &BuildService{Cargo: cargo, Toolchain: &fakeToolchain{}, Classifier: &fakeClassifier{}}
	results, err := service.Run(context.Background(), g, steps)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != len(steps) {
		t.Fatalf("expected %d results, got %d", len(steps), len(results))
	}
	for _, result := range results {
		if result.Status != StepStatusSucceeded {
			t.Fatalf("step %s status = %s", result.Step, result.Status)
		}
	}
	if len(cargo.builds) != 2 {
		t.Fatalf("expected 2 cargo builds, got %v", cargo.builds)
	}
}

func TestBuildServiceSkipsTargetAfterSetupFailure(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graphFixture{yaml: twoTargets, mode: graph.ModeLocal})
	steps, err := Schedule(g, ScheduleOptions{Host: linuxGNU})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	cargo := &fakeCargo{dir: t.TempDir()}
	service := &BuildService{
		Cargo:     cargo,
		Toolchain: &fakeToolchain{fail: map[arch.Triple]bool{windowsMSVC: true}},
	}
	results, err := service.Run(context.Background(), g, steps)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Run() error = %v, want StepError", err)
	}
	if len(cargo.builds) != 1 || cargo.builds[0] != linuxGNU {
		t.Fatalf("only the linux build should run, got %v", cargo.builds)
	}

	statuses := make(map[StepStatus]int)
	for _, result := range results {
		statuses[result.Status]++
	}
	if statuses[StepStatusFailed] != 1 || statuses[StepStatusSkipped] != 1 || statuses[StepStatusSucceeded] != 1 {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
}

func TestBuildServiceReportsMissingDriver(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graphFixture{yaml: twoTargets, mode: graph.ModeLocal, targets: []arch.Triple{linuxGNU}})
	steps, err := Schedule(g, ScheduleOptions{Host: linuxGNU})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, err := (&BuildService{}).Run(context.Background(), g, steps); err == nil {
		t.Fatalf("Run() without a cargo driver should fail")
	}
}

func TestPackagerWritesArchivesAndChecksums(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graphFixture{yaml: twoTargets, mode: graph.ModeLocal, targets: []arch.Triple{linuxGNU}})
	steps, err := Schedule(g, ScheduleOptions{Host: linuxGNU})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	service := &BuildService{Cargo: &fakeCargo{dir: t.TempDir()}}
	if _, err := service.Run(context.Background(), g, steps); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if err := (&Packager{}).Run(context.Background(), g); err != nil {
		t.Fatalf("Packager.Run() error = %v", err)
	}

	archiveIdx, ok := g.ArtifactByID("app-x86_64-unknown-linux-gnu.tar.xz")
	if !ok {
		t.Fatalf("archive missing from graph")
	}
	archive := g.Artifact(archiveIdx)
	if _, err := os.Stat(archive.Path); err != nil {
		t.Fatalf("archive not written: %v", err)
	}
	if archive.Checksums["sha256"] == "" {
		t.Fatalf("archive checksum not recorded")
	}
	sumPath := archive.Path + ".sha256"
	data, err := os.ReadFile(sumPath)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", sumPath, err)
	}
	if want := archive.Checksums["sha256"] + "  app-x86_64-unknown-linux-gnu.tar.xz\n"; string(data) != want {
		t.Fatalf("checksum file = %q, want %q", data, want)
	}
}
