package startup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/statuslock"
	"github.com/duskcast/streamcore/internal/upload"
)

// StaleLockReapInterval is how often the background stale-lock reaper runs.
const StaleLockReapInterval = 30 * time.Minute

// Reconciler runs the one-shot startup sweep and then launches the
// background reapers that keep state consistent for the lifetime of the
// process.
type Reconciler struct {
	locker *statuslock.Locker
	reaper *upload.Reaper
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(locker *statuslock.Locker, reaper *upload.Reaper, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{locker: locker, reaper: reaper, logger: logger}
}

func segmentsRootFor(trackID models.ULID) string {
	return filepath.Join("segments", trackID.String())
}

// Run performs the startup reconcile pass (stale tracks, stuck voice
// statuses, orphaned voice directories) and one upload-session sweep, then
// starts the background reapers on ctx. Run blocks only for the one-shot
// work; the background reapers run in their own goroutines and stop when
// ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	report, err := r.locker.Reconcile(ctx, segmentsRootFor)
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	r.logger.Info("startup reconcile complete",
		"tracks_completed", report.TracksCompleted,
		"tracks_failed", report.TracksFailed,
		"voice_statuses_failed", report.VoiceStatusesFailed,
		"orphaned_voice_dirs_purged", report.OrphanedVoiceDirsPurged,
	)

	r.reaper.SweepOnce(ctx)

	go r.locker.StartStaleLockReaper(ctx, StaleLockReapInterval)
	go r.reaper.Start(ctx)

	return nil
}
