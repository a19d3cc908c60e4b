package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/duskcast/streamcore/internal/models"
)

// trackRepo implements TrackRepository using GORM.
type trackRepo struct {
	db     *gorm.DB
	driver string
}

// NewTrackRepository creates a new TrackRepository.
func NewTrackRepository(db *gorm.DB) *trackRepo {
	driver := ""
	if db.Dialector != nil {
		driver = db.Dialector.Name()
	}
	return &trackRepo{db: db, driver: driver}
}

func (r *trackRepo) Create(ctx context.Context, track *models.Track) error {
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return fmt.Errorf("creating track: %w", err)
	}
	return nil
}

func (r *trackRepo) GetByID(ctx context.Context, id models.ULID) (*models.Track, error) {
	var track models.Track
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&track).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting track by ID: %w", err)
	}
	return &track, nil
}

func (r *trackRepo) GetByAlbumID(ctx context.Context, albumID models.ULID) ([]*models.Track, error) {
	var tracks []*models.Track
	if err := r.db.WithContext(ctx).Where("album_id = ?", albumID).Order("created_at ASC").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("getting tracks by album ID: %w", err)
	}
	return tracks, nil
}

func (r *trackRepo) GetByOwnerID(ctx context.Context, ownerID models.ULID) ([]*models.Track, error) {
	var tracks []*models.Track
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("getting tracks by owner ID: %w", err)
	}
	return tracks, nil
}

func (r *trackRepo) Update(ctx context.Context, track *models.Track) error {
	if err := r.db.WithContext(ctx).Save(track).Error; err != nil {
		return fmt.Errorf("updating track: %w", err)
	}
	return nil
}

func (r *trackRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Track{}).Error; err != nil {
		return fmt.Errorf("deleting track: %w", err)
	}
	return nil
}

// AcquireLock atomically claims the full-track or voice-scoped processing
// lock, dispatching on driver exactly as the teacher's job repository
// dispatches its job-claim query: SELECT FOR UPDATE SKIP LOCKED for
// postgres/mysql, a single conditional UPDATE for sqlite.
func (r *trackRepo) AcquireLock(ctx context.Context, trackID models.ULID, voice, processingType string, status models.TrackStatus, staleAge time.Duration) (*models.Track, error) {
	if r.driver == "sqlite" {
		return r.acquireLockSQLite(ctx, trackID, voice, processingType, status, staleAge)
	}
	return r.acquireLockWithRowLocking(ctx, trackID, voice, processingType, status, staleAge)
}

func (r *trackRepo) acquireLockWithRowLocking(ctx context.Context, trackID models.ULID, voice, processingType string, status models.TrackStatus, staleAge time.Duration) (*models.Track, error) {
	var track models.Track
	staleCutoff := time.Now().Add(-staleAge)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("id = ?", trackID).
			Where("processing_locked_at IS NULL OR status IN (?, ?) OR processing_locked_at < ?",
				models.TrackStatusComplete, models.TrackStatusFailed, staleCutoff)

		if err := query.First(&track).Error; err != nil {
			return err
		}

		now := models.Now()
		track.Status = status
		track.ProcessingLockedAt = &now
		track.ProcessingType = processingType
		if voice == "" {
			track.ProcessingVoice = nil
		} else {
			track.ProcessingVoice = &voice
		}

		if err := tx.Model(&models.Track{}).Where("id = ?", trackID).UpdateColumns(map[string]any{
			"status":               track.Status,
			"processing_locked_at": track.ProcessingLockedAt,
			"processing_type":      track.ProcessingType,
			"processing_voice":     track.ProcessingVoice,
		}).Error; err != nil {
			return fmt.Errorf("claiming track lock: %w", err)
		}

		return nil
	})

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	return &track, nil
}

func (r *trackRepo) acquireLockSQLite(ctx context.Context, trackID models.ULID, voice, processingType string, status models.TrackStatus, staleAge time.Duration) (*models.Track, error) {
	staleCutoff := time.Now().Add(-staleAge)
	now := models.Now()

	var voicePtr any
	if voice != "" {
		voicePtr = voice
	}

	result := r.db.WithContext(ctx).
		Model(&models.Track{}).
		Where("id = ?", trackID).
		Where("processing_locked_at IS NULL OR status IN (?, ?) OR processing_locked_at < ?",
			models.TrackStatusComplete, models.TrackStatusFailed, staleCutoff).
		UpdateColumns(map[string]any{
			"status":               status,
			"processing_locked_at": now,
			"processing_type":      processingType,
			"processing_voice":     voicePtr,
		})

	if result.Error != nil {
		return nil, fmt.Errorf("claiming track lock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var track models.Track
	if err := r.db.WithContext(ctx).Where("id = ?", trackID).First(&track).Error; err != nil {
		return nil, fmt.Errorf("fetching claimed track: %w", err)
	}
	return &track, nil
}

// ReleaseLock clears the processing lock and sets the final status.
func (r *trackRepo) ReleaseLock(ctx context.Context, trackID models.ULID, finalStatus models.TrackStatus) error {
	result := r.db.WithContext(ctx).Model(&models.Track{}).Where("id = ?", trackID).
		UpdateColumns(map[string]any{
			"status":               finalStatus,
			"processing_locked_at": nil,
			"processing_type":      "",
			"processing_voice":     nil,
		})
	if result.Error != nil {
		return fmt.Errorf("releasing track lock: %w", result.Error)
	}
	return nil
}

// GetStaleLocked returns tracks whose lock is older than staleAge and still
// in a non-terminal status.
func (r *trackRepo) GetStaleLocked(ctx context.Context, staleAge time.Duration) ([]*models.Track, error) {
	cutoff := time.Now().Add(-staleAge)
	var tracks []*models.Track
	if err := r.db.WithContext(ctx).
		Where("processing_locked_at IS NOT NULL AND processing_locked_at < ?", cutoff).
		Where("status NOT IN (?, ?)", models.TrackStatusComplete, models.TrackStatusFailed).
		Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("getting stale locked tracks: %w", err)
	}
	return tracks, nil
}

// IncrementContentVersion bumps content_version, used whenever served bytes
// or access rules change.
func (r *trackRepo) IncrementContentVersion(ctx context.Context, trackID models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.Track{}).Where("id = ?", trackID).
		UpdateColumn("content_version", gorm.Expr("content_version + 1"))
	if result.Error != nil {
		return fmt.Errorf("incrementing content version: %w", result.Error)
	}
	return nil
}

var _ TrackRepository = (*trackRepo)(nil)
