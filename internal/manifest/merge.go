package manifest

import (
	"log/slog"

	"github.com/cochaviz/decant/internal/logging"
)

// Merge folds partial into m. Partials announcing a different tag are stale
// and discarded, in which case Merge returns false. Merging is idempotent and
// the result does not depend on the order partials arrive in.
func (m *DistManifest) Merge(partial *DistManifest) bool {
	if partial == nil || partial.AnnouncementTag != m.AnnouncementTag {
		return false
	}
	m.ensureMaps()

	if m.AnnouncementTitle == "" {
		m.AnnouncementTitle = partial.AnnouncementTitle
	}
	if m.DistVersion == "" {
		m.DistVersion = partial.DistVersion
	}

	for _, incoming := range partial.Releases {
		release := m.Release(incoming.AppName, incoming.AppVersion)
		if release == nil {
			m.Releases = append(m.Releases, Release{
				AppName:    incoming.AppName,
				AppVersion: incoming.AppVersion,
			})
			release = &m.Releases[len(m.Releases)-1]
		}
		release.merge(incoming)
	}

	for id, incoming := range partial.Artifacts {
		existing, ok := m.Artifacts[id]
		if !ok {
			m.Artifacts[id] = incoming.clone()
			continue
		}
		existing.merge(incoming)
		m.Artifacts[id] = existing
	}

	if partial.CI != nil {
		ci := *partial.CI
		if ci.GitHub != nil {
			gh := *ci.GitHub
			gh.ArtifactsMatrix.Include = append([]MatrixEntry(nil), gh.ArtifactsMatrix.Include...)
			ci.GitHub = &gh
		}
		m.CI = &ci
	}

	for id, system := range partial.Systems {
		if _, ok := m.Systems[id]; !ok {
			m.Systems[id] = system
		}
	}
	for id, incoming := range partial.Assets {
		existing, ok := m.Assets[id]
		if !ok {
			m.Assets[id] = incoming.clone()
			continue
		}
		if existing.Linkage == nil && incoming.Linkage != nil {
			l := incoming.Linkage.Clone()
			existing.Linkage = &l
			m.Assets[id] = existing
		}
	}
	for id, l := range partial.Linkage {
		if _, ok := m.Linkage[id]; !ok {
			m.Linkage[id] = l.Clone()
		}
	}

	m.Sort()
	return true
}

// MergeAll merges every partial into canonical and returns how many were
// accepted. Stale partials are logged and skipped.
func MergeAll(canonical *DistManifest, partials []*DistManifest, logger *slog.Logger) int {
	logger = logging.Ensure(logger)
	merged := 0
	for _, partial := range partials {
		if partial == nil {
			continue
		}
		if !canonical.Merge(partial) {
			logger.Warn("discarding stale partial manifest",
				"tag", partial.AnnouncementTag,
				"want", canonical.AnnouncementTag,
			)
			continue
		}
		merged++
	}
	return merged
}

func (r *Release) merge(incoming Release) {
	for _, id := range incoming.Artifacts {
		if !containsString(r.Artifacts, id) {
			r.Artifacts = append(r.Artifacts, id)
		}
	}
	r.Hosting.backfill(incoming.Hosting)
	if r.DisplayName == "" {
		r.DisplayName = incoming.DisplayName
	}
	if r.Display == nil && incoming.Display != nil {
		display := *incoming.Display
		r.Display = &display
	}
}

// backfill copies hosting fields that are still unset. Set fields are never
// overwritten.
func (h *Hosting) backfill(incoming Hosting) {
	if incoming.GitHub != nil {
		if h.GitHub == nil {
			gh := *incoming.GitHub
			h.GitHub = &gh
		} else {
			fillString(&h.GitHub.ArtifactDownloadURL, incoming.GitHub.ArtifactDownloadURL)
			fillString(&h.GitHub.Owner, incoming.GitHub.Owner)
			fillString(&h.GitHub.Repo, incoming.GitHub.Repo)
		}
	}
	if incoming.Mirror != nil {
		if h.Mirror == nil {
			mirror := *incoming.Mirror
			h.Mirror = &mirror
		} else {
			fillString(&h.Mirror.BaseURL, incoming.Mirror.BaseURL)
			fillString(&h.Mirror.ReleaseID, incoming.Mirror.ReleaseID)
		}
	}
}

func (a *Artifact) merge(incoming Artifact) {
	fillString(&a.Name, incoming.Name)
	fillString(&a.Kind, incoming.Kind)
	fillString(&a.Path, incoming.Path)
	fillString(&a.InstallHint, incoming.InstallHint)
	fillString(&a.Description, incoming.Description)
	fillString(&a.Checksum, incoming.Checksum)
	for _, triple := range incoming.TargetTriples {
		if !containsString(a.TargetTriples, triple) {
			a.TargetTriples = append(a.TargetTriples, triple)
		}
	}

	for style, sum := range incoming.Checksums {
		if a.Checksums == nil {
			a.Checksums = make(map[string]string)
		}
		if _, ok := a.Checksums[style]; !ok {
			a.Checksums[style] = sum
		}
	}

	for _, asset := range incoming.Assets {
		idx := -1
		for i := range a.Assets {
			if a.Assets[i].Path == asset.Path {
				idx = i
				break
			}
		}
		if idx < 0 {
			a.Assets = append(a.Assets, asset)
			continue
		}
		fillString(&a.Assets[idx].ID, asset.ID)
	}
}

func (a Artifact) clone() Artifact {
	out := a
	out.TargetTriples = append([]string(nil), a.TargetTriples...)
	out.Assets = append([]Asset(nil), a.Assets...)
	if a.Checksums != nil {
		out.Checksums = make(map[string]string, len(a.Checksums))
		for style, sum := range a.Checksums {
			out.Checksums[style] = sum
		}
	}
	return out
}

func (a AssetInfo) clone() AssetInfo {
	out := a
	out.TargetTriples = append([]string(nil), a.TargetTriples...)
	if a.Linkage != nil {
		l := a.Linkage.Clone()
		out.Linkage = &l
	}
	return out
}

func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
