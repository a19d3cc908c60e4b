// Package statuslock implements the DB-backed mutex that serializes HLS
// preparation per track and per voice, and the HLS-readiness validation that
// gates a lock release as complete.
package statuslock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/duskcast/streamcore/internal/hlsplaylist"
	"github.com/duskcast/streamcore/internal/models"
)

// Outcome is the final state a lock release transitions a row to.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeFailed   Outcome = "failed"
)

// ReleaseInfo carries the release-time details recorded alongside the
// outcome.
type ReleaseInfo struct {
	ErrorMessage string
	// SegmentsRoot is the on-disk directory to validate before honoring a
	// Complete outcome. Required when Outcome is OutcomeComplete.
	SegmentsRoot string
}

// Locker wraps a *gorm.DB and dispatches its atomic lock-acquire queries on
// driver name, exactly as the teacher's job repository dispatches
// AcquireJob: SELECT FOR UPDATE SKIP LOCKED for postgres/mysql, a single
// conditional UPDATE for sqlite.
type Locker struct {
	db       *gorm.DB
	driver   string
	staleAge time.Duration
	fsync    time.Duration
}

// New creates a Locker. staleAge is the age beyond which a held lock is
// considered abandoned; fsyncDelay is the grace sleep before HLS validation.
func New(db *gorm.DB, staleAge, fsyncDelay time.Duration) *Locker {
	driver := ""
	if db.Dialector != nil {
		driver = db.Dialector.Name()
	}
	return &Locker{db: db, driver: driver, staleAge: staleAge, fsync: fsyncDelay}
}

// AcquireTrackLock attempts to claim the full-track lock, tagging it with
// processingType (e.g. "initial", "reprocess"). Returns false, nil if the
// lock is already held by an active process.
func (l *Locker) AcquireTrackLock(ctx context.Context, trackID models.ULID, processingType string) (bool, error) {
	staleCutoff := time.Now().Add(-l.staleAge)
	now := models.Now()

	if l.driver == "sqlite" {
		result := l.db.WithContext(ctx).Model(&models.Track{}).
			Where("id = ?", trackID).
			Where("processing_voice IS NULL OR status IN (?, ?) OR processing_locked_at < ?",
				models.TrackStatusComplete, models.TrackStatusFailed, staleCutoff).
			UpdateColumns(map[string]any{
				"status":               models.TrackStatusGenerating,
				"processing_voice":     nil,
				"processing_locked_at": now,
				"processing_type":      processingType,
				"hls_ready":            false,
			})
		if result.Error != nil {
			return false, fmt.Errorf("acquiring track lock: %w", result.Error)
		}
		return result.RowsAffected > 0, nil
	}

	claimed := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var track models.Track
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("id = ?", trackID).
			Where("processing_voice IS NULL OR status IN (?, ?) OR processing_locked_at < ?",
				models.TrackStatusComplete, models.TrackStatusFailed, staleCutoff).
			First(&track).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Track{}).Where("id = ?", trackID).UpdateColumns(map[string]any{
			"status":               models.TrackStatusGenerating,
			"processing_voice":     nil,
			"processing_locked_at": now,
			"processing_type":      processingType,
			"hls_ready":            false,
		}).Error; err != nil {
			return fmt.Errorf("claiming track lock: %w", err)
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// AcquireVoiceLock attempts to claim the voice-scoped lock by upserting a
// VoiceGenerationStatus row for (trackID, voiceID), succeeding only if no
// row exists, the existing row is terminal, or its generating lock is
// stale.
func (l *Locker) AcquireVoiceLock(ctx context.Context, trackID models.ULID, voiceID string) (bool, error) {
	staleCutoff := time.Now().Add(-l.staleAge)

	var existing models.VoiceGenerationStatus
	err := l.db.WithContext(ctx).Where("track_id = ? AND voice_id = ?", trackID, voiceID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		fresh := &models.VoiceGenerationStatus{
			TrackID: trackID,
			VoiceID: voiceID,
			Status:  models.VoiceStatusGenerating,
		}
		if err := l.db.WithContext(ctx).Create(fresh).Error; err != nil {
			return false, fmt.Errorf("creating voice lock: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading voice status: %w", err)
	}

	stale := existing.Status == models.VoiceStatusGenerating && existing.StartedAt.Before(staleCutoff)
	claimable := existing.Status != models.VoiceStatusGenerating || stale
	if !claimable {
		return false, nil
	}

	claimed := false
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if stale {
			// The prior owner abandoned this lock without ever releasing it.
			// Mark the stale row failed ("Lock timeout") only if it is still
			// the same stale claim, so only one concurrent reclaimer gets
			// past this point; the same row is then claimed as "generating"
			// for the new owner below, within this transaction.
			abandoned := existing
			abandoned.MarkFailed("Lock timeout")
			result := tx.Model(&models.VoiceGenerationStatus{}).
				Where("id = ? AND status = ? AND started_at < ?", existing.ID, models.VoiceStatusGenerating, staleCutoff).
				UpdateColumns(map[string]any{
					"status":        abandoned.Status,
					"completed_at":  abandoned.CompletedAt,
					"error_message": abandoned.ErrorMessage,
				})
			if result.Error != nil {
				return fmt.Errorf("failing stale voice lock: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return nil
			}
		}

		result := tx.Model(&models.VoiceGenerationStatus{}).
			Where("id = ?", existing.ID).
			Where("status != ?", models.VoiceStatusGenerating).
			UpdateColumns(map[string]any{
				"status":        models.VoiceStatusGenerating,
				"started_at":    models.Now(),
				"completed_at":  nil,
				"error_message": "",
			})
		if result.Error != nil {
			return fmt.Errorf("claiming voice lock: %w", result.Error)
		}
		claimed = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// ReleaseTrackLock releases the full-track lock, downgrading a requested
// Complete outcome to Failed when HLS validation of info.SegmentsRoot
// fails.
func (l *Locker) ReleaseTrackLock(ctx context.Context, trackID models.ULID, outcome Outcome, info ReleaseInfo) error {
	finalStatus := models.TrackStatusFailed
	hlsReady := false

	if outcome == OutcomeComplete {
		ok, err := ValidateHLS(ctx, info.SegmentsRoot, l.fsync)
		if err != nil {
			return fmt.Errorf("validating hls output: %w", err)
		}
		if ok {
			finalStatus = models.TrackStatusComplete
			hlsReady = true
		}
	}

	result := l.db.WithContext(ctx).Model(&models.Track{}).Where("id = ?", trackID).
		UpdateColumns(map[string]any{
			"status":               finalStatus,
			"processing_locked_at": nil,
			"processing_type":      "",
			"processing_voice":     nil,
			"hls_ready":            hlsReady,
			"segmentation_status":  segmentationStatusFor(hlsReady),
		})
	if result.Error != nil {
		return fmt.Errorf("releasing track lock: %w", result.Error)
	}
	return nil
}

// ReleaseVoiceLock releases a voice-scoped lock, downgrading Complete to
// Failed on failed HLS validation.
func (l *Locker) ReleaseVoiceLock(ctx context.Context, trackID models.ULID, voiceID string, outcome Outcome, info ReleaseInfo) error {
	finalStatus := models.VoiceStatusFailed
	errMsg := info.ErrorMessage

	if outcome == OutcomeComplete {
		ok, err := ValidateHLS(ctx, info.SegmentsRoot, l.fsync)
		if err != nil {
			return fmt.Errorf("validating hls output: %w", err)
		}
		if ok {
			finalStatus = models.VoiceStatusComplete
			errMsg = ""
		} else if errMsg == "" {
			errMsg = "hls validation failed"
		}
	}

	now := models.Now()
	result := l.db.WithContext(ctx).Model(&models.VoiceGenerationStatus{}).
		Where("track_id = ? AND voice_id = ?", trackID, voiceID).
		UpdateColumns(map[string]any{
			"status":        finalStatus,
			"completed_at":  &now,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("releasing voice lock: %w", result.Error)
	}
	return nil
}

func segmentationStatusFor(hlsReady bool) models.SegmentationStatus {
	if hlsReady {
		return models.SegmentationComplete
	}
	return models.SegmentationIncomplete
}

// ValidateHLS implements invariant 4: after letting the filesystem settle,
// confirms master.m3u8 and the default variant playlist exist, the variant
// ends with #EXT-X-ENDLIST, and its #EXTINF count does not exceed the
// on-disk segment_*.ts count.
func ValidateHLS(ctx context.Context, root string, fsyncDelay time.Duration) (bool, error) {
	if root == "" {
		return false, nil
	}

	if fsyncDelay > 0 {
		select {
		case <-time.After(fsyncDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	master := filepath.Join(root, "master.m3u8")
	if _, err := os.Stat(master); err != nil {
		return false, nil
	}

	variantDir := filepath.Join(root, "default")
	variantPath := filepath.Join(variantDir, "playlist.m3u8")
	if _, err := os.Stat(variantPath); err != nil {
		return false, nil
	}

	return hlsplaylist.ValidateComplete(variantPath, variantDir)
}

// voiceDirs lists voice-*/ subdirectories under a track's segments root.
func voiceDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading segments root: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "voice-") {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}

// ReconcileReport summarizes the outcome of a startup reconcile pass.
type ReconcileReport struct {
	TracksCompleted        int
	TracksFailed           int
	VoiceStatusesFailed    int
	OrphanedVoiceDirsPurged int
}

// Reconcile implements the startup reconcile from spec.md §4.4: sweeps
// Tracks in {generating, processing}, VoiceGenerationStatus rows stuck
// generating, and removes on-disk voice-*/ directories missing a
// master.m3u8.
func (l *Locker) Reconcile(ctx context.Context, segmentsRootFor func(trackID models.ULID) string) (ReconcileReport, error) {
	var report ReconcileReport

	var tracks []*models.Track
	if err := l.db.WithContext(ctx).
		Where("status IN (?, ?)", models.TrackStatusGenerating, models.TrackStatusProcessing).
		Find(&tracks).Error; err != nil {
		return report, fmt.Errorf("listing in-flight tracks: %w", err)
	}

	for _, track := range tracks {
		root := segmentsRootFor(track.ID)
		ok, err := ValidateHLS(ctx, root, 0)
		if err != nil {
			ok = false
		}
		status := models.TrackStatusFailed
		hlsReady := false
		if ok {
			status = models.TrackStatusComplete
			hlsReady = true
			report.TracksCompleted++
		} else {
			report.TracksFailed++
		}
		if err := l.db.WithContext(ctx).Model(&models.Track{}).Where("id = ?", track.ID).UpdateColumns(map[string]any{
			"status":               status,
			"hls_ready":            hlsReady,
			"processing_locked_at": nil,
			"processing_voice":     nil,
			"processing_type":      "",
		}).Error; err != nil {
			return report, fmt.Errorf("reconciling track %s: %w", track.ID, err)
		}
	}

	var stuckVoices []*models.VoiceGenerationStatus
	if err := l.db.WithContext(ctx).Where("status = ?", models.VoiceStatusGenerating).Find(&stuckVoices).Error; err != nil {
		return report, fmt.Errorf("listing stuck voice statuses: %w", err)
	}
	for _, v := range stuckVoices {
		now := models.Now()
		if err := l.db.WithContext(ctx).Model(&models.VoiceGenerationStatus{}).Where("id = ?", v.ID).UpdateColumns(map[string]any{
			"status":        models.VoiceStatusFailed,
			"completed_at":  &now,
			"error_message": "Server restarted during generation",
		}).Error; err != nil {
			return report, fmt.Errorf("failing stuck voice status %s: %w", v.ID, err)
		}
		report.VoiceStatusesFailed++
	}

	var allTracks []*models.Track
	if err := l.db.WithContext(ctx).Find(&allTracks).Error; err != nil {
		return report, fmt.Errorf("listing tracks for voice-dir sweep: %w", err)
	}
	for _, track := range allTracks {
		root := segmentsRootFor(track.ID)
		dirs, err := voiceDirs(root)
		if err != nil {
			return report, err
		}
		for _, dir := range dirs {
			if _, err := os.Stat(filepath.Join(dir, "master.m3u8")); err != nil {
				if err := os.RemoveAll(dir); err != nil {
					return report, fmt.Errorf("removing orphaned voice dir %s: %w", dir, err)
				}
				report.OrphanedVoiceDirsPurged++
			}
		}
	}

	return report, nil
}

// StartStaleLockReaper runs the periodic 30-minute reaper until ctx is
// cancelled, marking failed any Track whose lock exceeds the staleness
// threshold.
func (l *Locker) StartStaleLockReaper(ctx context.Context, interval time.Duration) {
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		l.reclaimStaleLocks(ctx)
	}); err != nil {
		l.runStaleLockTicker(ctx, interval)
		return
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

func (l *Locker) runStaleLockTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.reclaimStaleLocks(ctx)
		}
	}
}

func (l *Locker) reclaimStaleLocks(ctx context.Context) {
	cutoff := time.Now().Add(-l.staleAge)
	l.db.WithContext(ctx).Model(&models.Track{}).
		Where("processing_locked_at IS NOT NULL AND processing_locked_at < ?", cutoff).
		Where("status NOT IN (?, ?)", models.TrackStatusComplete, models.TrackStatusFailed).
		UpdateColumns(map[string]any{
			"status":               models.TrackStatusFailed,
			"processing_locked_at": nil,
			"processing_voice":     nil,
			"processing_type":      "",
		})
}
