// Package rustup installs cross-compilation targets.
package rustup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cochaviz/decant/internal/build"
	"github.com/cochaviz/decant/internal/linkage"
	"github.com/cochaviz/decant/internal/logging"
)

// Ensure Installer satisfies the toolchain interface.
var _ build.ToolchainInstaller = (*Installer)(nil)

// Installer runs `rustup target add`.
type Installer struct {
	Logger *slog.Logger
	Runner linkage.Runner
}

func (i *Installer) runner() linkage.Runner {
	if i.Runner != nil {
		return i.Runner
	}
	return linkage.ExecRunner{}
}

// AddTarget installs the standard library for step.Target.
func (i *Installer) AddTarget(ctx context.Context, step build.ToolchainSetupStep) error {
	target := step.Target.String()
	logging.Ensure(i.Logger).Info("installing rust target", "target", target)
	if _, err := i.runner().Output(ctx, "rustup", "target", "add", target); err != nil {
		return fmt.Errorf("rustup target add %s: %w", target, err)
	}
	return nil
}
