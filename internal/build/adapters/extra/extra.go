// Package extra runs the commands behind extra-artifact declarations.
package extra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cochaviz/decant/internal/build"
	"github.com/cochaviz/decant/internal/logging"
)

// Ensure Runner satisfies the extra-artifact interface.
var _ build.ExtraArtifactRunner = (*Runner)(nil)

// Runner executes an extra-artifact build and copies its outputs into the
// dist directory.
type Runner struct {
	Logger *slog.Logger
	// Output receives the command's stdout and stderr; defaults to os.Stderr.
	Output io.Writer
}

// RunExtra runs step.Command in step.Dir and copies every declared output.
// Sources are relative to step.Dir.
func (r *Runner) RunExtra(ctx context.Context, step build.ExtraArtifactsStep) error {
	logger := logging.Ensure(r.Logger)
	if len(step.Command) > 0 {
		logger.Debug("running extra artifact build", "command", strings.Join(step.Command, " "), "dir", step.Dir)
		out := r.Output
		if out == nil {
			out = os.Stderr
		}
		cmd := exec.CommandContext(ctx, step.Command[0], step.Command[1:]...)
		cmd.Dir = step.Dir
		cmd.Stdout = out
		cmd.Stderr = out
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("extra artifact command failed: %w", err)
		}
	}

	for _, output := range step.Outputs {
		src := output.Source
		if !filepath.IsAbs(src) {
			src = filepath.Join(step.Dir, src)
		}
		if err := build.CopyPath(src, output.Dest); err != nil {
			return fmt.Errorf("copy extra artifact %s: %w", output.Source, err)
		}
		logger.Debug("copied extra artifact", "dest", output.Dest)
	}
	return nil
}
