// Package scheduler implements background tasks for the recorder: daily
// retention cleanup of archived replays, disk space checks and periodic
// capture statistics.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/gamerecorder/internal/config"
	"github.com/energizer-project/gamerecorder/internal/recorder"
	"github.com/energizer-project/gamerecorder/internal/util"
)

// ReplayPruner deletes archived replays from the database.
type ReplayPruner interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// FilePruner deletes archived replay files.
type FilePruner interface {
	Prune(cutoff time.Time) (int, error)
}

// StatsProvider exposes the recorder counters.
type StatsProvider interface {
	Stats() recorder.Stats
}

// Dependencies are the optional collaborators of the scheduler. Nil
// members disable the tasks that need them.
type Dependencies struct {
	Database ReplayPruner
	Files    FilePruner
	Stats    StatsProvider
	DiskPath string
}

// CleanupResult summarizes one retention run.
type CleanupResult struct {
	Cutoff       time.Time
	DeletedRows  int64
	DeletedFiles int
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg  *config.Config
	deps Dependencies
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, deps Dependencies) *Scheduler {
	return &Scheduler{
		cfg:  cfg,
		deps: deps,
	}
}

// Start begins running all scheduled tasks and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	app := s.cfg.GetApplicationData()

	if app.Retention.Enabled && (s.deps.Database != nil || s.deps.Files != nil) {
		go s.runCleanupLoop(ctx)
	}

	if s.deps.DiskPath != "" && app.Timers.DiskCheckInterval > 0 {
		go s.runTicker(ctx, time.Duration(app.Timers.DiskCheckInterval)*time.Second, s.checkDisk)
	}

	if s.deps.Stats != nil && app.Timers.StatsInterval > 0 {
		go s.runTicker(ctx, time.Duration(app.Timers.StatsInterval)*time.Second, s.logStats)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runCleanupLoop runs the retention cleanup at the configured time daily.
func (s *Scheduler) runCleanupLoop(ctx context.Context) {
	for {
		nextRun := nextCleanupTime(s.cfg.GetApplicationData().Retention.CleanupTime, time.Now())
		sleepDuration := time.Until(nextRun)

		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("replay cleanup scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunCleanup(time.Now())
		}
	}
}

// RunCleanup deletes archived replays older than the retention window.
func (s *Scheduler) RunCleanup(now time.Time) CleanupResult {
	retention := s.cfg.GetApplicationData().Retention
	result := CleanupResult{
		Cutoff: now.Add(-time.Duration(retention.RetentionDays) * 24 * time.Hour),
	}

	log.Info().
		Int("retention_days", retention.RetentionDays).
		Time("cutoff", result.Cutoff).
		Msg("running replay cleanup")

	if s.deps.Database != nil {
		n, err := s.deps.Database.DeleteOlderThan(result.Cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("database cleanup failed")
		}
		result.DeletedRows = n
	}

	if s.deps.Files != nil {
		n, err := s.deps.Files.Prune(result.Cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("archive directory cleanup failed")
		}
		result.DeletedFiles = n
	}

	log.Info().
		Int64("deleted_rows", result.DeletedRows).
		Int("deleted_files", result.DeletedFiles).
		Msg("replay cleanup completed")

	return result
}

func (s *Scheduler) runTicker(ctx context.Context, interval time.Duration, task func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}

// checkDisk warns when the archive volume crosses the configured threshold.
func (s *Scheduler) checkDisk() {
	usage, err := util.GetDiskUsage(s.deps.DiskPath)
	if err != nil {
		log.Warn().Err(err).Msg("disk check failed")
		return
	}

	threshold := float64(s.cfg.GetApplicationData().Timers.DiskWarningPercent)
	if usage.UsedPercent >= threshold {
		log.Warn().
			Str("path", usage.Path).
			Float64("used_percent", usage.UsedPercent).
			Uint64("free_gb", usage.Free).
			Msg("archive disk almost full")
		return
	}

	log.Debug().
		Str("path", usage.Path).
		Float64("used_percent", usage.UsedPercent).
		Msg("disk check ok")
}

func (s *Scheduler) logStats() {
	st := s.deps.Stats.Stats()
	log.Info().
		Int("sessions", st.Sessions).
		Int("tombstones", st.Tombstones).
		Uint64("captured_in", st.CapturedIn).
		Uint64("captured_out", st.CapturedOut).
		Str("captured", formatBytes(int64(st.CapturedBytes))).
		Uint64("late_captures", st.LateCaptures).
		Int("pending_lobbies", st.PendingLobbies).
		Uint64("matches_encoded", st.MatchesEncoded).
		Msg("capture stats")
}

// nextCleanupTime returns the next occurrence of the HH:MM clock time.
func nextCleanupTime(cleanupTime string, now time.Time) time.Time {
	parts := strings.Split(cleanupTime, ":")

	hour, minute := 4, 0 // Default: 4:00 AM
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}

	return next
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
