package upload

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/duskcast/streamcore/internal/models"
)

// stuckTrackAge is how long a Track may sit at duration=0 before the reaper
// treats it as abandoned.
const stuckTrackAge = time.Hour

// Reaper periodically sweeps abandoned upload sessions and stuck Track
// rows, modeled on the teacher's hourly cleanup ticker loop.
type Reaper struct {
	coordinator   *Coordinator
	sessionMaxAge time.Duration
	interval      time.Duration
}

// NewReaper creates a Reaper.
func NewReaper(coordinator *Coordinator, sessionMaxAge, interval time.Duration) *Reaper {
	return &Reaper{coordinator: coordinator, sessionMaxAge: sessionMaxAge, interval: interval}
}

// Start runs the sweep loop on a cron schedule until ctx is cancelled,
// the same robfig/cron-driven loop shape the teacher uses for its
// internal recurring jobs.
func (r *Reaper) Start(ctx context.Context) {
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), func() {
		r.SweepOnce(ctx)
	}); err != nil {
		slog.ErrorContext(ctx, "reaper: invalid cron interval, falling back to ticker", "error", err)
		r.runTicker(ctx)
		return
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

func (r *Reaper) runTicker(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs both sweeps a single time, used by Start's schedule and by
// the startup reconciler.
func (r *Reaper) SweepOnce(ctx context.Context) {
	r.sweepSessions(ctx)
	r.sweepStuckTracks(ctx)
}

func (r *Reaper) sweepSessions(ctx context.Context) {
	cutoff := time.Now().Add(-r.sessionMaxAge)
	expired, err := r.coordinator.sessions.ListOlderThan(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "reaper: listing expired sessions failed", "error", err)
		return
	}
	cancelled, err := r.coordinator.sessions.ListCancelled(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "reaper: listing cancelled sessions failed", "error", err)
		return
	}

	seen := make(map[string]bool, len(expired)+len(cancelled))
	for _, session := range append(expired, cancelled...) {
		if seen[session.UploadID] {
			continue
		}
		seen[session.UploadID] = true

		if err := r.coordinator.sandbox.RemoveAll(session.ChunksDir); err != nil {
			slog.ErrorContext(ctx, "reaper: removing chunks dir failed",
				"upload_id", session.UploadID, "error", err)
		}
		if err := r.coordinator.sessions.Delete(ctx, session.UploadID); err != nil {
			slog.ErrorContext(ctx, "reaper: deleting session failed",
				"upload_id", session.UploadID, "error", err)
		}
	}
}

func (r *Reaper) sweepStuckTracks(ctx context.Context) {
	staleLocked, err := r.coordinator.tracks.GetStaleLocked(ctx, stuckTrackAge)
	if err != nil {
		slog.ErrorContext(ctx, "reaper: listing stale-locked tracks failed", "error", err)
		return
	}

	for _, track := range staleLocked {
		if !isStuckUpload(track) {
			continue
		}
		slog.WarnContext(ctx, "reaper: cleaning up stuck upload", "track_id", track.ID.String())
		r.coordinator.ComprehensiveCleanup(ctx, track.ID)
	}
}

func isStuckUpload(track *models.Track) bool {
	if track.Status != models.TrackStatusProcessing || track.DurationSeconds != 0 {
		return false
	}
	return strings.HasPrefix(track.SourceBlobPath, tempMarkerPrefix) || track.SourceBlobPath == ""
}
