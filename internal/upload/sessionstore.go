// Package upload implements the chunked-upload coordinator: a shared
// session store so multiple frontend instances can serve chunks for the
// same upload, and the reaper that sweeps abandoned sessions and stuck
// tracks.
package upload

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/duskcast/streamcore/internal/models"
)

// SessionStore is the shared state backing a chunked upload, kept separate
// from repository.UploadSessionRepository so a future Redis-backed
// implementation can swap in without touching Coordinator.
type SessionStore interface {
	Create(ctx context.Context, s *models.UploadSession) error
	Get(ctx context.Context, uploadID string) (*models.UploadSession, error)
	MarkChunkReceived(ctx context.Context, uploadID string, index int) (*models.UploadSession, error)
	UpdateStatus(ctx context.Context, uploadID string, status models.UploadSessionStatus) error
	SetTrackID(ctx context.Context, uploadID string, trackID models.ULID) error
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.UploadSession, error)
	ListCancelled(ctx context.Context) ([]*models.UploadSession, error)
	Delete(ctx context.Context, uploadID string) error
}

type gormSessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a GORM-backed SessionStore.
func NewSessionStore(db *gorm.DB) SessionStore {
	return &gormSessionStore{db: db}
}

func (s *gormSessionStore) Create(ctx context.Context, session *models.UploadSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating upload session: %w", err)
	}
	return nil
}

func (s *gormSessionStore) Get(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	var session models.UploadSession
	if err := s.db.WithContext(ctx).First(&session, "upload_id = ?", uploadID).Error; err != nil {
		return nil, fmt.Errorf("getting upload session: %w", err)
	}
	return &session, nil
}

func (s *gormSessionStore) MarkChunkReceived(ctx context.Context, uploadID string, index int) (*models.UploadSession, error) {
	var session models.UploadSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&session, "upload_id = ?", uploadID).Error; err != nil {
			return fmt.Errorf("loading upload session: %w", err)
		}
		if session.ReceivedChunks == nil {
			session.ReceivedChunks = models.ChunkBitmap{}
		}
		session.ReceivedChunks[index] = true
		if session.IsComplete() {
			session.Status = models.UploadSessionChunksComplete
		}
		if err := tx.Model(&models.UploadSession{}).Where("upload_id = ?", uploadID).
			UpdateColumns(map[string]any{
				"received_chunks": session.ReceivedChunks,
				"status":          session.Status,
			}).Error; err != nil {
			return fmt.Errorf("updating upload session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *gormSessionStore) UpdateStatus(ctx context.Context, uploadID string, status models.UploadSessionStatus) error {
	result := s.db.WithContext(ctx).Model(&models.UploadSession{}).Where("upload_id = ?", uploadID).
		UpdateColumns(map[string]any{"status": status})
	if result.Error != nil {
		return fmt.Errorf("updating upload session status: %w", result.Error)
	}
	return nil
}

func (s *gormSessionStore) SetTrackID(ctx context.Context, uploadID string, trackID models.ULID) error {
	result := s.db.WithContext(ctx).Model(&models.UploadSession{}).Where("upload_id = ?", uploadID).
		UpdateColumns(map[string]any{"track_id": trackID})
	if result.Error != nil {
		return fmt.Errorf("setting upload session track id: %w", result.Error)
	}
	return nil
}

func (s *gormSessionStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.UploadSession, error) {
	var sessions []*models.UploadSession
	if err := s.db.WithContext(ctx).Where("last_updated_at < ?", cutoff).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing expired upload sessions: %w", err)
	}
	return sessions, nil
}

func (s *gormSessionStore) ListCancelled(ctx context.Context) ([]*models.UploadSession, error) {
	var sessions []*models.UploadSession
	if err := s.db.WithContext(ctx).Where("status = ?", models.UploadSessionCancelled).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing cancelled upload sessions: %w", err)
	}
	return sessions, nil
}

func (s *gormSessionStore) Delete(ctx context.Context, uploadID string) error {
	if err := s.db.WithContext(ctx).Delete(&models.UploadSession{}, "upload_id = ?", uploadID).Error; err != nil {
		return fmt.Errorf("deleting upload session: %w", err)
	}
	return nil
}

var _ SessionStore = (*gormSessionStore)(nil)
