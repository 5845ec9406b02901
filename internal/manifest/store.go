package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cochaviz/decant/internal/logging"
)

const (
	// CanonicalFileName is the merged manifest inside the dist directory.
	CanonicalFileName = "dist-manifest.json"
	partialSuffix     = "-dist-manifest.json"
)

// Store reads and writes manifests under BaseDir. Partials get unique names
// so concurrent writers never collide.
type Store struct {
	BaseDir string
	Logger  *slog.Logger
}

func (s *Store) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}

// WritePartial stores m as a new partial manifest and returns its path.
func (s *Store) WritePartial(m *DistManifest) (string, error) {
	if s.BaseDir == "" {
		return "", errors.New("base directory is not configured")
	}
	if err := os.MkdirAll(s.BaseDir, 0o755); err != nil {
		return "", err
	}

	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	path := filepath.Join(s.BaseDir, uuid.NewString()+partialSuffix)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := file.Write(payload); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}

	s.logger().Debug("wrote partial manifest", "path", path)
	return path, nil
}

// DiscoverPartials lists partial manifests in BaseDir in lexical order.
func (s *Store) DiscoverPartials() ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), partialSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(s.BaseDir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// CanonicalPath returns where the merged manifest lives.
func (s *Store) CanonicalPath() string {
	return filepath.Join(s.BaseDir, CanonicalFileName)
}

// LoadCanonical reads the merged manifest. A missing file yields a fresh
// manifest for tag.
func (s *Store) LoadCanonical(tag string, prerelease bool) (*DistManifest, error) {
	m, err := Load(s.CanonicalPath())
	if errors.Is(err, fs.ErrNotExist) {
		return New(tag, prerelease), nil
	}
	if err != nil {
		return nil, err
	}
	if m.AnnouncementTag != tag {
		s.logger().Warn("replacing canonical manifest from another announcement",
			"tag", m.AnnouncementTag,
			"want", tag,
		)
		return New(tag, prerelease), nil
	}
	return m, nil
}

// SaveCanonical replaces the merged manifest atomically.
func (s *Store) SaveCanonical(m *DistManifest) error {
	if s.BaseDir == "" {
		return errors.New("base directory is not configured")
	}
	if err := os.MkdirAll(s.BaseDir, 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(s.BaseDir, ".dist-manifest-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.CanonicalPath())
}

// MergeDiscovered loads every partial in BaseDir and merges it into
// canonical. Unreadable partials are reported and skipped.
func (s *Store) MergeDiscovered(canonical *DistManifest) (int, error) {
	paths, err := s.DiscoverPartials()
	if err != nil {
		return 0, err
	}

	partials := make([]*DistManifest, 0, len(paths))
	for _, path := range paths {
		partial, err := Load(path)
		if err != nil {
			s.logger().Warn("skipping unreadable partial manifest", "path", path, "error", err)
			continue
		}
		partials = append(partials, partial)
	}
	return MergeAll(canonical, partials, s.logger()), nil
}

// Load decodes a manifest file.
func Load(path string) (*DistManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m DistManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	m.ensureMaps()
	return &m, nil
}
