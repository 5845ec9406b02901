package build

import "context"

// CargoDriver runs cargo build steps and reports every produced file to
// expected.
type CargoDriver interface {
	BuildCargo(ctx context.Context, step CargoBuildStep, expected *ExpectedBinaries) error
}

// GenericDriver runs user build commands and reports produced files.
type GenericDriver interface {
	BuildGeneric(ctx context.Context, step GenericBuildStep, expected *ExpectedBinaries) error
}

// ToolchainInstaller prepares the toolchain for a cross target.
type ToolchainInstaller interface {
	AddTarget(ctx context.Context, step ToolchainSetupStep) error
}

// ExtraArtifactRunner runs extra-artifact commands and copies their outputs.
type ExtraArtifactRunner interface {
	RunExtra(ctx context.Context, step ExtraArtifactsStep) error
}
