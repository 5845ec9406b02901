package simple

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/google/uuid"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/announce"
	"github.com/cochaviz/decant/internal/build"
	"github.com/cochaviz/decant/internal/build/adapters/cargo"
	"github.com/cochaviz/decant/internal/build/adapters/extra"
	"github.com/cochaviz/decant/internal/build/adapters/generic"
	"github.com/cochaviz/decant/internal/build/adapters/rustup"
	"github.com/cochaviz/decant/internal/graph"
	"github.com/cochaviz/decant/internal/linkage"
	"github.com/cochaviz/decant/internal/logging"
	"github.com/cochaviz/decant/internal/manifest"
	"github.com/cochaviz/decant/internal/settings"
	"github.com/cochaviz/decant/internal/workspace"
)

// DefaultRoot is the workspace used when none is given.
var DefaultRoot = "."

// Options are shared by every entry point.
type Options struct {
	// Root is the workspace containing decant.yaml.
	Root string
	// Tag is the announcement tag; empty infers it from package versions.
	Tag string
	// Mode selects which artifacts this machine is responsible for.
	Mode graph.Mode
	// Targets restricts the configured targets.
	Targets []string
	// DistDir overrides the configured dist directory.
	DistDir string
	// Host overrides host detection.
	Host   arch.Triple
	Logger *slog.Logger
}

// PlanResult is what Plan computed.
type PlanResult struct {
	Graph    *graph.Graph
	Steps    []build.Step
	Manifest *manifest.DistManifest
	// ManifestPath is where the canonical manifest was written.
	ManifestPath string
}

// BuildResult is what Build produced.
type BuildResult struct {
	Graph       *graph.Graph
	Steps       []build.StepResult
	Manifest    *manifest.DistManifest
	PartialPath string
}

// MergeResult is the outcome of Merge.
type MergeResult struct {
	Manifest     *manifest.DistManifest
	ManifestPath string
	Merged       int
}

// LinkageEntry is the linkage of one binary.
type LinkageEntry struct {
	Name    string
	Linkage linkage.Linkage
}

type session struct {
	root     string
	host     arch.Triple
	settings *settings.Settings
	ws       *workspace.Workspace
	tag      announce.Tag
	logger   *slog.Logger
}

func open(opts Options) (*session, error) {
	logger := logging.Ensure(opts.Logger).With("component", "config.simple")

	root := opts.Root
	if root == "" {
		root = DefaultRoot
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	s, err := settings.Load(root)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.FromSettings(root, s)
	if err != nil {
		return nil, err
	}
	tag, err := announce.Resolve(opts.Tag, ws.Packages)
	if err != nil {
		return nil, err
	}

	host := opts.Host
	if host == "" {
		host = arch.Host()
	}
	logger.Debug("resolved announcement", "tag", tag.Tag, "prerelease", tag.Prerelease, "host", host)

	return &session{root: root, host: host, settings: s, ws: ws, tag: tag, logger: logger}, nil
}

func (s *session) distDir(override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(s.root, s.settings.Dist.Dir)
}

func (s *session) graph(opts Options) (*graph.Graph, error) {
	targets := make([]arch.Triple, 0, len(opts.Targets))
	for _, value := range opts.Targets {
		triple, err := arch.ParseTriple(value)
		if err != nil {
			return nil, err
		}
		targets = append(targets, triple)
	}
	return graph.Build(graph.BuildOptions{
		Tag:      s.tag,
		Packages: s.ws.Packages,
		Targets:  targets,
		Mode:     opts.Mode,
		Host:     s.host,
		Settings: s.settings.Dist,
		Root:     s.root,
		DistDir:  s.distDir(opts.DistDir),
	})
}

func (s *session) schedule(g *graph.Graph, probed map[string]string) ([]build.Step, error) {
	dist := s.settings.Dist
	return build.Schedule(g, build.ScheduleOptions{
		Host:          s.host,
		PreciseBuilds: dist.PreciseBuilds,
		Profile:       dist.Profile,
		ProbedEnv:     probed,
		Cross: build.CrossSettings{
			MSVCCrtStatic:   dist.StaticMSVCRuntime(),
			MuslDynamic:     dist.MuslDynamic,
			MinGlibcVersion: dist.MinGlibcVersion,
		},
	})
}

func (s *session) system() manifest.SystemInfo {
	return manifest.SystemInfo{
		ID:   s.host.String(),
		Host: s.host.String(),
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
}

// Plan computes the release graph and build steps without running anything
// and records the planned manifest as the canonical one. With
// allocateHosting, releases without a mirror release id get a fresh one;
// ids already present in the canonical manifest win.
func Plan(ctx context.Context, opts Options, allocateHosting bool) (*PlanResult, error) {
	s, err := open(opts)
	if err != nil {
		return nil, err
	}
	g, err := s.graph(opts)
	if err != nil {
		return nil, err
	}
	steps, err := s.schedule(g, nil)
	if err != nil {
		return nil, err
	}

	planned := g.Manifest(manifest.SystemInfo{})
	if allocateHosting {
		for i := range planned.Releases {
			hosting := &planned.Releases[i].Hosting
			if hosting.Mirror == nil {
				hosting.Mirror = &manifest.MirrorHosting{}
			}
			if hosting.Mirror.ReleaseID == "" {
				hosting.Mirror.ReleaseID = uuid.NewString()
			}
		}
	}

	store := &manifest.Store{BaseDir: g.DistDir, Logger: s.logger}
	canonical, err := store.LoadCanonical(s.tag.Tag, s.tag.Prerelease)
	if err != nil {
		return nil, err
	}
	canonical.Merge(planned)
	if err := store.SaveCanonical(canonical); err != nil {
		return nil, err
	}

	s.logger.Info("planned release",
		"tag", s.tag.Tag,
		"releases", len(g.Releases),
		"artifacts", len(g.Artifacts),
		"steps", len(steps),
	)
	return &PlanResult{Graph: g, Steps: steps, Manifest: canonical, ManifestPath: store.CanonicalPath()}, nil
}

// Build runs every step this machine is responsible for, packages the
// results and writes a partial manifest describing them. Step failures are
// returned together with the results of every step.
func Build(ctx context.Context, opts Options) (*BuildResult, error) {
	s, err := open(opts)
	if err != nil {
		return nil, err
	}
	g, err := s.graph(opts)
	if err != nil {
		return nil, err
	}

	probed, err := build.ProbeEnvironment(ctx, s.root, linkage.ExecRunner{})
	if err != nil {
		s.logger.Warn("environment probe failed; continuing without it", "error", err)
	}
	steps, err := s.schedule(g, probed)
	if err != nil {
		return nil, err
	}

	service := build.BuildService{
		Logger:     s.logger.With("service", "build"),
		Cargo:      &cargo.Builder{Logger: s.logger.With("driver", "cargo")},
		Generic:    &generic.Builder{Logger: s.logger.With("driver", "generic")},
		Toolchain:  &rustup.Installer{Logger: s.logger.With("driver", "rustup")},
		Extra:      &extra.Runner{Logger: s.logger.With("driver", "extra")},
		Classifier: &linkage.Classifier{Logger: s.logger.With("service", "linkage")},
	}
	results, err := service.Run(ctx, g, steps)
	result := &BuildResult{Graph: g, Steps: results}
	if err != nil {
		return result, err
	}

	packager := build.Packager{Logger: s.logger.With("service", "packager")}
	if err := packager.Run(ctx, g); err != nil {
		return result, err
	}

	result.Manifest = g.Manifest(s.system())
	store := &manifest.Store{BaseDir: g.DistDir, Logger: s.logger}
	path, err := store.WritePartial(result.Manifest)
	if err != nil {
		return result, fmt.Errorf("write partial manifest: %w", err)
	}
	result.PartialPath = path

	s.logger.Info("build completed", "steps", len(results), "partial", path)
	return result, nil
}

// Merge folds every partial manifest in the dist directory into the
// canonical manifest.
func Merge(opts Options) (*MergeResult, error) {
	s, err := open(opts)
	if err != nil {
		return nil, err
	}

	store := &manifest.Store{BaseDir: s.distDir(opts.DistDir), Logger: s.logger}
	canonical, err := store.LoadCanonical(s.tag.Tag, s.tag.Prerelease)
	if err != nil {
		return nil, err
	}
	merged, err := store.MergeDiscovered(canonical)
	if err != nil {
		return nil, err
	}
	if err := store.SaveCanonical(canonical); err != nil {
		return nil, err
	}

	s.logger.Info("merged partial manifests", "merged", merged, "path", store.CanonicalPath())
	return &MergeResult{Manifest: canonical, ManifestPath: store.CanonicalPath(), Merged: merged}, nil
}

// TagInfo describes an announcement.
type TagInfo struct {
	Tag      announce.Tag
	Title    string
	Packages []workspace.Package
}

// ResolveTag reports the announcement for opts.Tag and the packages it
// releases.
func ResolveTag(opts Options) (*TagInfo, error) {
	s, err := open(opts)
	if err != nil {
		return nil, err
	}
	info := &TagInfo{Tag: s.tag, Title: s.tag.Title(s.ws.Packages)}
	for _, idx := range s.tag.Packages(s.ws.Packages) {
		info.Packages = append(info.Packages, s.ws.Packages[idx])
	}
	return info, nil
}

// ErrNoLinkage is returned when there is nothing to report.
var ErrNoLinkage = errors.New("no linkage information available")

// InspectLinkage classifies the given binaries for target. Without paths it
// reports the linkage recorded in the canonical manifest at manifestPath.
func InspectLinkage(ctx context.Context, paths []string, target arch.Triple, manifestPath string, logger *slog.Logger) ([]LinkageEntry, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	if len(paths) == 0 {
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return nil, err
		}
		entries := make([]LinkageEntry, 0, len(m.Linkage))
		for _, id := range sortedKeys(m.Linkage) {
			entries = append(entries, LinkageEntry{Name: id, Linkage: m.Linkage[id]})
		}
		if len(entries) == 0 {
			return nil, ErrNoLinkage
		}
		return entries, nil
	}

	if target == "" {
		target = arch.Host()
	}
	classifier := &linkage.Classifier{Logger: logger.With("service", "linkage")}
	entries := make([]LinkageEntry, 0, len(paths))
	for _, path := range paths {
		l, err := classifier.Classify(ctx, path, target)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", path, err)
		}
		entries = append(entries, LinkageEntry{Name: filepath.Base(path), Linkage: l})
	}
	return entries, nil
}

func sortedKeys(m map[string]linkage.Linkage) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
