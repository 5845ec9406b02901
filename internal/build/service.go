package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cochaviz/decant/internal/graph"
	"github.com/cochaviz/decant/internal/logging"
)

// BuildService runs scheduled steps against the configured backends.
type BuildService struct {
	Logger     *slog.Logger
	Cargo      CargoDriver
	Generic    GenericDriver
	Toolchain  ToolchainInstaller
	Extra      ExtraArtifactRunner
	Classifier Classifier
}

// Run executes steps in order. A failing step does not stop independent
// steps; every failure is returned joined. Cargo builds for a target whose
// toolchain setup failed are skipped.
func (s *BuildService) Run(ctx context.Context, g *graph.Graph, steps []Step) ([]StepResult, error) {
	logger := s.logger()
	results := make([]StepResult, 0, len(steps))
	var errs []error
	brokenTargets := make(map[string]bool)

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		stepLogger := logger.With("step", step.Name())

		if target, ok := stepTarget(step); ok && brokenTargets[target] {
			stepLogger.Warn("skipping step after toolchain setup failed", "target", target)
			results = append(results, StepResult{Step: step.Name(), Status: StepStatusSkipped})
			continue
		}

		stepLogger.Info("running build step")
		err := s.runStep(ctx, g, step, stepLogger)
		if err != nil {
			stepErr := &StepError{Step: step.Name(), Err: err}
			stepLogger.Error("build step failed", "error", err)
			results = append(results, StepResult{Step: step.Name(), Status: StepStatusFailed, Err: stepErr})
			errs = append(errs, stepErr)
			if setup, ok := step.(ToolchainSetupStep); ok {
				brokenTargets[setup.Target.String()] = true
			}
			continue
		}
		results = append(results, StepResult{Step: step.Name(), Status: StepStatusSucceeded})
		stepLogger.Info("build step completed")
	}
	return results, errors.Join(errs...)
}

func (s *BuildService) runStep(ctx context.Context, g *graph.Graph, step Step, logger *slog.Logger) error {
	switch st := step.(type) {
	case ToolchainSetupStep:
		if s.Toolchain == nil {
			return errors.New("toolchain installer is not configured")
		}
		return s.Toolchain.AddTarget(ctx, st)
	case ExtraArtifactsStep:
		if s.Extra == nil {
			return errors.New("extra artifact runner is not configured")
		}
		return s.Extra.RunExtra(ctx, st)
	case CargoBuildStep:
		if s.Cargo == nil {
			return errors.New("cargo driver is not configured")
		}
		return s.track(ctx, g, step, st.Binaries, logger, func(expected *ExpectedBinaries) error {
			return s.Cargo.BuildCargo(ctx, st, expected)
		})
	case GenericBuildStep:
		if s.Generic == nil {
			return errors.New("generic driver is not configured")
		}
		return s.track(ctx, g, step, st.Binaries, logger, func(expected *ExpectedBinaries) error {
			return s.Generic.BuildGeneric(ctx, st, expected)
		})
	default:
		return fmt.Errorf("unsupported step type %T", step)
	}
}

// track runs a compiling step under a binary-expectation tracker.
func (s *BuildService) track(ctx context.Context, g *graph.Graph, step Step, bins []graph.BinaryIdx, logger *slog.Logger, run func(*ExpectedBinaries) error) error {
	expected := NewExpectedBinaries(g, step.Name(), bins)
	if err := expected.Start(); err != nil {
		return err
	}
	if err := run(expected); err != nil {
		expected.Fail()
		return err
	}
	if err := expected.Finish(nil); err != nil {
		return err
	}
	built, err := expected.Process(ctx, s.Classifier, logger)
	if err != nil {
		return err
	}
	logger.Info("binaries ready", "count", len(built))
	return nil
}

func stepTarget(step Step) (string, bool) {
	if st, ok := step.(CargoBuildStep); ok {
		return st.Target.String(), true
	}
	return "", false
}

func (s *BuildService) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}
