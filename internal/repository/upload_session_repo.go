package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/duskcast/streamcore/internal/models"
)

// uploadSessionRepo implements UploadSessionRepository using GORM.
type uploadSessionRepo struct {
	db *gorm.DB
}

// NewUploadSessionRepository creates a new UploadSessionRepository.
func NewUploadSessionRepository(db *gorm.DB) *uploadSessionRepo {
	return &uploadSessionRepo{db: db}
}

func (r *uploadSessionRepo) Create(ctx context.Context, session *models.UploadSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating upload session: %w", err)
	}
	return nil
}

func (r *uploadSessionRepo) GetByID(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	var session models.UploadSession
	if err := r.db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting upload session: %w", err)
	}
	return &session, nil
}

// MarkChunkReceived records a received chunk index and returns the updated
// session. Retried under the caller's own serialization (the coordinator
// holds a per-upload in-process lock), so a plain read-modify-write is
// sufficient here.
func (r *uploadSessionRepo) MarkChunkReceived(ctx context.Context, uploadID string, chunkIndex int) (*models.UploadSession, error) {
	var session models.UploadSession
	if err := r.db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting upload session: %w", err)
	}

	if session.ReceivedChunks == nil {
		session.ReceivedChunks = models.ChunkBitmap{}
	}
	session.ReceivedChunks[chunkIndex] = true
	session.LastUpdatedAt = models.Now()

	if session.IsComplete() {
		session.Status = models.UploadSessionChunksComplete
	}

	if err := r.db.WithContext(ctx).Save(&session).Error; err != nil {
		return nil, fmt.Errorf("saving received chunk: %w", err)
	}
	return &session, nil
}

func (r *uploadSessionRepo) Update(ctx context.Context, session *models.UploadSession) error {
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("updating upload session: %w", err)
	}
	return nil
}

func (r *uploadSessionRepo) Delete(ctx context.Context, uploadID string) error {
	if err := r.db.WithContext(ctx).Where("upload_id = ?", uploadID).Delete(&models.UploadSession{}).Error; err != nil {
		return fmt.Errorf("deleting upload session: %w", err)
	}
	return nil
}

func (r *uploadSessionRepo) GetExpired(ctx context.Context, cutoff time.Time) ([]*models.UploadSession, error) {
	var sessions []*models.UploadSession
	if err := r.db.WithContext(ctx).
		Where("last_updated_at < ? OR status = ?", cutoff, models.UploadSessionCancelled).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("getting expired upload sessions: %w", err)
	}
	return sessions, nil
}

var _ UploadSessionRepository = (*uploadSessionRepo)(nil)
