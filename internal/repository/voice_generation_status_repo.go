package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/duskcast/streamcore/internal/models"
)

// voiceGenerationStatusRepo implements VoiceGenerationStatusRepository using GORM.
type voiceGenerationStatusRepo struct {
	db     *gorm.DB
	driver string
}

// NewVoiceGenerationStatusRepository creates a new VoiceGenerationStatusRepository.
func NewVoiceGenerationStatusRepository(db *gorm.DB) *voiceGenerationStatusRepo {
	driver := ""
	if db.Dialector != nil {
		driver = db.Dialector.Name()
	}
	return &voiceGenerationStatusRepo{db: db, driver: driver}
}

func (r *voiceGenerationStatusRepo) Create(ctx context.Context, status *models.VoiceGenerationStatus) error {
	if err := r.db.WithContext(ctx).Create(status).Error; err != nil {
		return fmt.Errorf("creating voice generation status: %w", err)
	}
	return nil
}

func (r *voiceGenerationStatusRepo) GetByTrackAndVoice(ctx context.Context, trackID models.ULID, voiceID string) (*models.VoiceGenerationStatus, error) {
	var status models.VoiceGenerationStatus
	if err := r.db.WithContext(ctx).Where("track_id = ? AND voice_id = ?", trackID, voiceID).First(&status).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting voice generation status: %w", err)
	}
	return &status, nil
}

func (r *voiceGenerationStatusRepo) GetByTrackID(ctx context.Context, trackID models.ULID) ([]*models.VoiceGenerationStatus, error) {
	var statuses []*models.VoiceGenerationStatus
	if err := r.db.WithContext(ctx).Where("track_id = ?", trackID).Order("created_at ASC").Find(&statuses).Error; err != nil {
		return nil, fmt.Errorf("getting voice generation statuses by track: %w", err)
	}
	return statuses, nil
}

// AcquireGenerating atomically creates or reclaims a (track, voice)
// generation row, dispatching by driver as the full-track lock does: a row
// either doesn't exist yet (create it generating), is stale (reclaim it), or
// is actively held by someone else (fail).
func (r *voiceGenerationStatusRepo) AcquireGenerating(ctx context.Context, trackID models.ULID, voiceID string, staleAge time.Duration) (*models.VoiceGenerationStatus, error) {
	if r.driver == "sqlite" {
		return r.acquireGeneratingSQLite(ctx, trackID, voiceID, staleAge)
	}
	return r.acquireGeneratingWithRowLocking(ctx, trackID, voiceID, staleAge)
}

func (r *voiceGenerationStatusRepo) acquireGeneratingWithRowLocking(ctx context.Context, trackID models.ULID, voiceID string, staleAge time.Duration) (*models.VoiceGenerationStatus, error) {
	var result *models.VoiceGenerationStatus
	staleCutoff := time.Now().Add(-staleAge)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.VoiceGenerationStatus
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("track_id = ? AND voice_id = ?", trackID, voiceID).
			First(&existing).Error

		switch {
		case err == gorm.ErrRecordNotFound:
			fresh := &models.VoiceGenerationStatus{
				TrackID: trackID,
				VoiceID: voiceID,
				Status:  models.VoiceStatusGenerating,
			}
			if err := tx.Create(fresh).Error; err != nil {
				return fmt.Errorf("creating voice generation status: %w", err)
			}
			result = fresh
			return nil
		case err != nil:
			return err
		}

		if existing.Status == models.VoiceStatusGenerating && existing.StartedAt.After(staleCutoff) {
			return gorm.ErrRecordNotFound
		}

		existing.Status = models.VoiceStatusGenerating
		existing.StartedAt = models.Now()
		existing.CompletedAt = nil
		existing.ErrorMessage = ""
		if err := tx.Save(&existing).Error; err != nil {
			return fmt.Errorf("reclaiming voice generation status: %w", err)
		}
		result = &existing
		return nil
	})

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

func (r *voiceGenerationStatusRepo) acquireGeneratingSQLite(ctx context.Context, trackID models.ULID, voiceID string, staleAge time.Duration) (*models.VoiceGenerationStatus, error) {
	staleCutoff := time.Now().Add(-staleAge)

	var existing models.VoiceGenerationStatus
	err := r.db.WithContext(ctx).Where("track_id = ? AND voice_id = ?", trackID, voiceID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		fresh := &models.VoiceGenerationStatus{
			TrackID: trackID,
			VoiceID: voiceID,
			Status:  models.VoiceStatusGenerating,
		}
		if err := r.db.WithContext(ctx).Create(fresh).Error; err != nil {
			return nil, fmt.Errorf("creating voice generation status: %w", err)
		}
		return fresh, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting voice generation status: %w", err)
	}

	result := r.db.WithContext(ctx).Model(&models.VoiceGenerationStatus{}).
		Where("id = ?", existing.ID).
		Where("status != ? OR started_at < ?", models.VoiceStatusGenerating, staleCutoff).
		UpdateColumns(map[string]any{
			"status":        models.VoiceStatusGenerating,
			"started_at":    models.Now(),
			"completed_at":  nil,
			"error_message": "",
		})
	if result.Error != nil {
		return nil, fmt.Errorf("reclaiming voice generation status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var claimed models.VoiceGenerationStatus
	if err := r.db.WithContext(ctx).Where("id = ?", existing.ID).First(&claimed).Error; err != nil {
		return nil, fmt.Errorf("fetching claimed voice generation status: %w", err)
	}
	return &claimed, nil
}

func (r *voiceGenerationStatusRepo) Update(ctx context.Context, status *models.VoiceGenerationStatus) error {
	if err := r.db.WithContext(ctx).Save(status).Error; err != nil {
		return fmt.Errorf("updating voice generation status: %w", err)
	}
	return nil
}

func (r *voiceGenerationStatusRepo) DeleteByTrackID(ctx context.Context, trackID models.ULID) (int64, error) {
	result := r.db.WithContext(ctx).Where("track_id = ?", trackID).Delete(&models.VoiceGenerationStatus{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting voice generation statuses: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *voiceGenerationStatusRepo) GetStale(ctx context.Context, staleAge time.Duration) ([]*models.VoiceGenerationStatus, error) {
	cutoff := time.Now().Add(-staleAge)
	var statuses []*models.VoiceGenerationStatus
	if err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", models.VoiceStatusGenerating, cutoff).
		Find(&statuses).Error; err != nil {
		return nil, fmt.Errorf("getting stale voice generation statuses: %w", err)
	}
	return statuses, nil
}

var _ VoiceGenerationStatusRepository = (*voiceGenerationStatusRepo)(nil)
