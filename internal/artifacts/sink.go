// Package artifacts persists per-step episode artifacts (screenshots, HTML)
// to a filesystem.
package artifacts

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Sink receives per-step artifacts. Implementations must tolerate empty
// payloads; a modality that was not captured is simply skipped.
type Sink interface {
	SaveStep(episodeID string, step int, screenshot []byte, html string) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) SaveStep(string, int, []byte, string) error { return nil }

// FSSink writes artifacts under root as
// episodes/<episode_id>/step_<n>/{screenshot.png,page.html}.
type FSSink struct {
	fs     afero.Fs
	root   string
	logger *zap.Logger
}

// NewFSSink builds a sink over the given filesystem rooted at root.
func NewFSSink(fs afero.Fs, root string, logger *zap.Logger) *FSSink {
	return &FSSink{fs: fs, root: root, logger: logger.Named("artifacts")}
}

// SaveStep writes the step's artifacts. Missing payloads are skipped.
func (s *FSSink) SaveStep(episodeID string, step int, screenshot []byte, html string) error {
	if episodeID == "" {
		return fmt.Errorf("empty episode id")
	}
	dir := filepath.Join(s.root, "episodes", episodeID, fmt.Sprintf("step_%04d", step))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if len(screenshot) > 0 {
		path := filepath.Join(dir, "screenshot.png")
		if err := afero.WriteFile(s.fs, path, screenshot, 0o644); err != nil {
			return fmt.Errorf("failed to write screenshot: %w", err)
		}
	}
	if html != "" {
		path := filepath.Join(dir, "page.html")
		if err := afero.WriteFile(s.fs, path, []byte(html), 0o644); err != nil {
			return fmt.Errorf("failed to write page html: %w", err)
		}
	}

	s.logger.Debug("Wrote step artifacts.",
		zap.String("episode_id", episodeID), zap.Int("step", step))
	return nil
}
