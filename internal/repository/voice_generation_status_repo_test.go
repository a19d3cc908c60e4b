package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/duskcast/streamcore/internal/models"
)

func setupVoiceStatusTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.VoiceGenerationStatus{}))
	return db
}

func TestVoiceGenerationStatusRepo_AcquireGenerating_CreatesWhenMissing(t *testing.T) {
	db := setupVoiceStatusTestDB(t)
	repo := NewVoiceGenerationStatusRepository(db)
	ctx := context.Background()
	trackID := models.NewULID()

	status, err := repo.AcquireGenerating(ctx, trackID, "nova", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, models.VoiceStatusGenerating, status.Status)
}

func TestVoiceGenerationStatusRepo_AcquireGenerating_RejectsFresh(t *testing.T) {
	db := setupVoiceStatusTestDB(t)
	repo := NewVoiceGenerationStatusRepository(db)
	ctx := context.Background()
	trackID := models.NewULID()

	_, err := repo.AcquireGenerating(ctx, trackID, "nova", time.Hour)
	require.NoError(t, err)

	second, err := repo.AcquireGenerating(ctx, trackID, "nova", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestVoiceGenerationStatusRepo_AcquireGenerating_ReclaimsStale(t *testing.T) {
	db := setupVoiceStatusTestDB(t)
	repo := NewVoiceGenerationStatusRepository(db)
	ctx := context.Background()
	trackID := models.NewULID()

	_, err := repo.AcquireGenerating(ctx, trackID, "nova", time.Hour)
	require.NoError(t, err)

	reclaimed, err := repo.AcquireGenerating(ctx, trackID, "nova", -time.Hour)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
}

func TestVoiceGenerationStatusRepo_GetStale(t *testing.T) {
	db := setupVoiceStatusTestDB(t)
	repo := NewVoiceGenerationStatusRepository(db)
	ctx := context.Background()
	trackID := models.NewULID()

	_, err := repo.AcquireGenerating(ctx, trackID, "nova", time.Hour)
	require.NoError(t, err)

	stale, err := repo.GetStale(ctx, -time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
}

func TestVoiceGenerationStatusRepo_DeleteByTrackID(t *testing.T) {
	db := setupVoiceStatusTestDB(t)
	repo := NewVoiceGenerationStatusRepository(db)
	ctx := context.Background()
	trackID := models.NewULID()

	_, err := repo.AcquireGenerating(ctx, trackID, "nova", time.Hour)
	require.NoError(t, err)
	_, err = repo.AcquireGenerating(ctx, trackID, "alloy", time.Hour)
	require.NoError(t, err)

	deleted, err := repo.DeleteByTrackID(ctx, trackID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
