package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cochaviz/decant/internal/archive"
	"github.com/cochaviz/decant/internal/graph"
	"github.com/cochaviz/decant/internal/linkage"
	"github.com/cochaviz/decant/internal/logging"
)

// Packager turns staged binaries into the artifacts the graph describes.
type Packager struct {
	Logger *slog.Logger
	Runner linkage.Runner
}

func (p *Packager) logger() *slog.Logger {
	return logging.Ensure(p.Logger)
}

func (p *Packager) runner() linkage.Runner {
	if p.Runner == nil {
		return linkage.ExecRunner{}
	}
	return p.Runner
}

// Run writes archives and the source tarball, then checksums every
// artifact that exists. Artifacts produced elsewhere (installers, extra
// artifacts, symbols) are only checksummed.
func (p *Packager) Run(ctx context.Context, g *graph.Graph) error {
	if err := os.MkdirAll(g.DistDir, 0o755); err != nil {
		return err
	}

	for i := range g.Artifacts {
		artifact := g.Artifacts[i]
		switch kind := artifact.Kind.(type) {
		case graph.ExecutableZip:
			prefix := kind.DirName
			if kind.Format == archive.Zip {
				prefix = ""
			}
			if err := archive.Create(artifact.Path, kind.StageDir, prefix); err != nil {
				return fmt.Errorf("package %s: %w", artifact.ID, err)
			}
			p.logger().Info("packaged archive", "artifact", artifact.ID)
		case graph.SourceTarball:
			if err := p.sourceTarball(ctx, g.Root, artifact.Path, kind); err != nil {
				return fmt.Errorf("package %s: %w", artifact.ID, err)
			}
			p.logger().Info("packaged source tarball", "artifact", artifact.ID)
		}
	}

	for i := range g.Artifacts {
		artifact := g.Artifacts[i]
		kind, ok := artifact.Kind.(graph.Checksum)
		if !ok {
			continue
		}
		of := g.Artifacts[kind.Of]
		if _, err := os.Stat(of.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				p.logger().Debug("skipping checksum of missing artifact", "artifact", of.ID)
				continue
			}
			return err
		}
		sum, err := archive.Digest(of.Path, kind.Style)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", of.ID, err)
		}
		if err := archive.WriteChecksumFile(artifact.Path, sum, of.ID); err != nil {
			return fmt.Errorf("write %s: %w", artifact.ID, err)
		}
		g.RecordChecksum(kind.Of, kind.Style, sum)
	}
	return nil
}

func (p *Packager) sourceTarball(ctx context.Context, root, dest string, kind graph.SourceTarball) error {
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		p.logger().Warn("not a git repository, skipping source tarball", "root", root)
		return nil
	}
	_, err := p.runner().Output(ctx, "git", "-C", root, "archive",
		"--format=tar.gz",
		"--prefix="+kind.Prefix,
		"--output="+dest,
		kind.Committish,
	)
	return err
}
