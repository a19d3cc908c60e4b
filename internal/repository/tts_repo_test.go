package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/duskcast/streamcore/internal/models"
)

func setupTTSTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.TTSTextSegment{},
		&models.TTSVoiceSegment{},
		&models.TTSWordTiming{},
	))
	return db
}

func TestTTSRepo_TextSegments(t *testing.T) {
	db := setupTTSTestDB(t)
	repo := NewTTSRepository(db)
	ctx := context.Background()
	trackID := models.NewULID()

	segments := []*models.TTSTextSegment{
		{SequenceIndex: 0, Text: "Hello"},
		{SequenceIndex: 1, Text: "World"},
	}
	require.NoError(t, repo.CreateTextSegments(ctx, trackID, segments))

	found, err := repo.GetTextSegments(ctx, trackID)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Hello", found[0].Text)
}

func TestTTSRepo_UpsertVoiceSegment(t *testing.T) {
	db := setupTTSTestDB(t)
	repo := NewTTSRepository(db)
	ctx := context.Background()
	trackID := models.NewULID()

	seg := &models.TTSVoiceSegment{
		TrackID:       trackID,
		VoiceID:       "nova",
		SequenceIndex: 0,
		Status:        models.VoiceSegmentPending,
	}
	require.NoError(t, repo.UpsertVoiceSegment(ctx, seg))

	found, err := repo.GetVoiceSegments(ctx, trackID, "nova")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, models.VoiceSegmentPending, found[0].Status)
}

func TestTTSRepo_WordTimingsAndSegmentMapping(t *testing.T) {
	db := setupTTSTestDB(t)
	repo := NewTTSRepository(db)
	ctx := context.Background()
	trackID := models.NewULID()

	timings := []*models.TTSWordTiming{
		{TrackID: trackID, VoiceID: "nova", SequenceIndex: 0, Word: "hi", StartSeconds: 0, EndSeconds: 1},
	}
	require.NoError(t, repo.CreateWordTimings(ctx, timings))

	found, err := repo.GetWordTimings(ctx, trackID, "nova")
	require.NoError(t, err)
	require.Len(t, found, 1)

	idx := 0
	offset := 0.5
	found[0].SegmentIndex = &idx
	found[0].SegmentOffset = &offset
	require.NoError(t, repo.UpdateSegmentMapping(ctx, found))

	reloaded, err := repo.GetWordTimings(ctx, trackID, "nova")
	require.NoError(t, err)
	require.NotNil(t, reloaded[0].SegmentIndex)
	assert.Equal(t, 0, *reloaded[0].SegmentIndex)
}

func TestTTSRepo_DeleteByTrackAndVoice(t *testing.T) {
	db := setupTTSTestDB(t)
	repo := NewTTSRepository(db)
	ctx := context.Background()
	trackID := models.NewULID()

	timings := []*models.TTSWordTiming{
		{TrackID: trackID, VoiceID: "nova", SequenceIndex: 0, Word: "hi", StartSeconds: 0, EndSeconds: 1},
	}
	require.NoError(t, repo.CreateWordTimings(ctx, timings))

	deleted, err := repo.DeleteByTrackAndVoice(ctx, trackID, "nova")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
