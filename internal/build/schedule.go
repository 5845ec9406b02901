package build

import (
	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/graph"
	"github.com/cochaviz/decant/internal/workspace"
)

// ScheduleOptions configures Schedule.
type ScheduleOptions struct {
	Host          arch.Triple
	PreciseBuilds bool
	Cross         CrossSettings
	Profile       string
	// ProbedEnv is the output of ProbeEnvironment, or nil.
	ProbedEnv map[string]string
}

type stepKey struct {
	target   arch.Triple
	backend  workspace.Backend
	pkg      string
	features string
}

// Schedule groups the binaries g needs into the fewest build invocations.
// Cargo binaries of one target share a workspace build only when their
// packages agree on features; otherwise that target is built per package.
// Toolchain setup for cross targets comes first, extra artifacts last.
func Schedule(g *graph.Graph, opts ScheduleOptions) ([]Step, error) {
	var (
		setup  []Step
		builds []Step
		order  []stepKey
	)
	grouped := make(map[stepKey][]graph.BinaryIdx)
	setupDone := make(map[arch.Triple]bool)
	brewEnv := BrewEnv(opts.ProbedEnv)
	precise := preciseTargets(g, opts.PreciseBuilds)

	for _, idx := range g.BinariesToBuild() {
		bin := g.Binary(idx)
		pkg := g.Package(idx)
		key := stepKey{target: bin.Target, backend: pkg.Backend}
		switch {
		case pkg.Backend == workspace.BackendGeneric:
			key.pkg = pkg.ID
		case precise[bin.Target]:
			key.pkg = pkg.ID
			key.features = bin.Features.Key()
		}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], idx)
	}

	for _, key := range order {
		bins := grouped[key]
		first := g.Binary(bins[0])
		pkg := g.Package(bins[0])

		if key.backend == workspace.BackendGeneric {
			builds = append(builds, GenericBuildStep{
				Target:    key.target,
				Host:      opts.Host,
				PackageID: pkg.ID,
				Dir:       pkg.Dir,
				Command:   append([]string(nil), pkg.BuildCommand...),
				Env:       genericEnv(key.target, opts.Host, brewEnv),
				Binaries:  bins,
			})
			continue
		}

		helper, err := CrossHelperFor(opts.Host, key.target)
		if err != nil {
			return nil, err
		}
		if opts.Host != "" && key.target != opts.Host && !setupDone[key.target] {
			setupDone[key.target] = true
			setup = append(setup, ToolchainSetupStep{Target: key.target})
		}

		step := CargoBuildStep{
			Target:      key.target,
			Host:        opts.Host,
			Dir:         g.Root,
			Profile:     opts.Profile,
			RustFlags:   RustFlags(key.target, opts.Cross),
			CrossHelper: helper,
			Features:    first.Features,
			Env:         copyEnv(brewEnv),
			Binaries:    bins,
		}
		if helper == CrossZigbuild {
			step.ZigbuildTarget = ZigbuildTarget(key.target, opts.Cross)
		}
		if key.pkg != "" {
			step.Packages = []string{pkg.Name}
		}
		builds = append(builds, step)
	}

	steps := append(setup, builds...)
	for decl, extra := range g.Dist.ExtraArtifacts {
		if !g.HasExtraArtifact(decl) {
			continue
		}
		step := ExtraArtifactsStep{Command: append([]string(nil), extra.Build...)}
		for _, artifact := range g.Artifacts {
			kind, ok := artifact.Kind.(graph.ExtraArtifact)
			if !ok || kind.Declaration != decl {
				continue
			}
			step.Dir = kind.Dir
			step.Outputs = append(step.Outputs, ExtraOutput{Source: kind.Source, Dest: artifact.Path})
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// preciseTargets reports, per target, whether its cargo binaries must be
// built one package at a time.
func preciseTargets(g *graph.Graph, always bool) map[arch.Triple]bool {
	features := make(map[arch.Triple]string)
	precise := make(map[arch.Triple]bool)
	for _, idx := range g.BinariesToBuild() {
		bin := g.Binary(idx)
		if g.Package(idx).Backend == workspace.BackendGeneric {
			continue
		}
		key := bin.Features.Key()
		seen, ok := features[bin.Target]
		switch {
		case always:
			precise[bin.Target] = true
		case !ok:
			features[bin.Target] = key
		case seen != key:
			precise[bin.Target] = true
		}
	}
	return precise
}

func genericEnv(target, host arch.Triple, brewEnv map[string]string) map[string]string {
	env := copyEnv(brewEnv)
	env["DECANT_TARGET"] = target.String()
	if host != "" {
		env["DECANT_HOST"] = host.String()
	}
	return env
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+2)
	for k, v := range env {
		out[k] = v
	}
	return out
}
