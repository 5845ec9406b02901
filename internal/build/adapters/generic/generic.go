// Package generic runs user-supplied build commands for packages that are not
// built with cargo.
package generic

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

// Ensure Builder satisfies the generic driver interface.
var _ build.GenericDriver = (*Builder)(nil)

// Builder runs the package's build command and then reports every regular
// file left in the package directory.
type Builder struct {
	Logger *slog.Logger
	// Output receives the command's stdout and stderr; defaults to os.Stderr.
	Output io.Writer
}

func (b *Builder) logger() *slog.Logger {
	if b != nil {
		return logging.Ensure(b.Logger)
	}
	return slog.Default()
}

// BuildGeneric runs step.Command in step.Dir.
func (b *Builder) BuildGeneric(ctx context.Context, step build.GenericBuildStep, expected *build.ExpectedBinaries) error {
	if len(step.Command) == 0 {
		return fmt.Errorf("package %s has no build command", step.PackageID)
	}
	logger := b.logger().With("package", step.PackageID, "target", step.Target)
	logger.Debug("running build command", "command", strings.Join(step.Command, " "))

	out := b.Output
	if out == nil {
		out = os.Stderr
	}
	cmd := exec.CommandContext(ctx, step.Command[0], step.Command[1:]...)
	cmd.Dir = step.Dir
	cmd.Env = build.CommandEnv(os.Environ(), step.Env)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build command for %s failed: %w", step.PackageID, err)
	}

	files, err := listFiles(step.Dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		expected.FoundBin(build.Produced{PackageID: step.PackageID, Path: file, Symbols: files})
	}
	return nil
}

// listFiles returns the regular files and bundle directories directly
// inside dir.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan build output: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && filepath.Ext(entry.Name()) != ".dSYM" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}
