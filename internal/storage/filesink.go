package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// FileExtension is the suffix of archived replay files.
const FileExtension = ".gprec"

// FileSink writes each replay to {dir}/M{match_id}-{replay_id}.gprec.
type FileSink struct {
	dir string
}

// NewFileSink creates the archive directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// Name implements Sink.
func (s *FileSink) Name() string { return "file" }

// Dir returns the archive directory.
func (s *FileSink) Dir() string { return s.dir }

// Path returns the archive path of an artifact.
func (s *FileSink) Path(a *Artifact) string {
	return filepath.Join(s.dir, fmt.Sprintf("M%d-%s%s", a.MatchID, a.ReplayID, FileExtension))
}

// Store implements Sink. The file appears atomically under its final name.
func (s *FileSink) Store(ctx context.Context, a *Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".replay-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(a.Blob); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write replay: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync replay: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close replay: %w", err)
	}

	dest := s.Path(a)
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to move replay into place: %w", err)
	}
	return nil
}

// Prune removes archived replays last modified before cutoff.
func (s *FileSink) Prune(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read archive directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileExtension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.dir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to remove old replay")
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", s.dir).Msg("old replay files pruned")
	}
	return removed, nil
}
