package build

import (
	"fmt"
	"strings"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/graph"
	"github.com/cochaviz/decant/internal/workspace"
)

// StepStatus captures the lifecycle of one scheduled step.
type StepStatus string

// Supported step statuses.
const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Step is one external invocation the build service runs.
type Step interface {
	Name() string
	isStep()
}

// CargoBuildStep compiles binaries for one target with cargo.
type CargoBuildStep struct {
	Target  arch.Triple
	Host    arch.Triple
	Dir     string
	Profile string
	// Packages restricts the build to the named packages; empty builds the
	// whole workspace.
	Packages       []string
	Features       workspace.FeatureSet
	RustFlags      string
	CrossHelper    CrossHelper
	ZigbuildTarget string
	Env            map[string]string
	Binaries       []graph.BinaryIdx
}

// GenericBuildStep runs a user command that leaves binaries in Dir.
type GenericBuildStep struct {
	Target    arch.Triple
	Host      arch.Triple
	PackageID string
	Dir       string
	Command   []string
	Env       map[string]string
	Binaries  []graph.BinaryIdx
}

// ToolchainSetupStep installs the standard library for a cross target.
type ToolchainSetupStep struct {
	Target arch.Triple
}

// ExtraOutput maps a file produced by an extra-artifact command to the
// artifact path it ships as.
type ExtraOutput struct {
	Source string
	Dest   string
}

// ExtraArtifactsStep runs a user command producing global artifacts.
type ExtraArtifactsStep struct {
	Dir     string
	Command []string
	Outputs []ExtraOutput
}

func (s CargoBuildStep) Name() string {
	name := "cargo build --target " + s.Target.String()
	if len(s.Packages) > 0 {
		name += " -p " + strings.Join(s.Packages, " -p ")
	}
	if s.CrossHelper != CrossNone {
		name += " (" + string(s.CrossHelper) + ")"
	}
	return name
}

func (s GenericBuildStep) Name() string {
	return fmt.Sprintf("build %s for %s", s.PackageID, s.Target)
}

func (s ToolchainSetupStep) Name() string {
	return "rustup target add " + s.Target.String()
}

func (s ExtraArtifactsStep) Name() string {
	return "extra artifacts: " + strings.Join(s.Command, " ")
}

func (CargoBuildStep) isStep()     {}
func (GenericBuildStep) isStep()   {}
func (ToolchainSetupStep) isStep() {}
func (ExtraArtifactsStep) isStep() {}

// StepResult records how a step ended.
type StepResult struct {
	Step   string
	Status StepStatus
	Err    error
}
