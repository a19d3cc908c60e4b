package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/duskcast/streamcore/internal/models"
)

// albumRepo implements AlbumRepository using GORM.
type albumRepo struct {
	db *gorm.DB
}

// NewAlbumRepository creates a new AlbumRepository.
func NewAlbumRepository(db *gorm.DB) *albumRepo {
	return &albumRepo{db: db}
}

func (r *albumRepo) Create(ctx context.Context, album *models.Album) error {
	if err := r.db.WithContext(ctx).Create(album).Error; err != nil {
		return fmt.Errorf("creating album: %w", err)
	}
	return nil
}

func (r *albumRepo) GetByID(ctx context.Context, id models.ULID) (*models.Album, error) {
	var album models.Album
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&album).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting album by ID: %w", err)
	}
	return &album, nil
}

func (r *albumRepo) GetByOwnerID(ctx context.Context, ownerID models.ULID) ([]*models.Album, error) {
	var albums []*models.Album
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&albums).Error; err != nil {
		return nil, fmt.Errorf("getting albums by owner ID: %w", err)
	}
	return albums, nil
}

func (r *albumRepo) Update(ctx context.Context, album *models.Album) error {
	if err := r.db.WithContext(ctx).Save(album).Error; err != nil {
		return fmt.Errorf("updating album: %w", err)
	}
	return nil
}

func (r *albumRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Album{}).Error; err != nil {
		return fmt.Errorf("deleting album: %w", err)
	}
	return nil
}

var _ AlbumRepository = (*albumRepo)(nil)
