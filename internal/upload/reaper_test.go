package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskcast/streamcore/internal/models"
)

func TestReaper_SweepOnce_RemovesExpiredAndCancelledSessions(t *testing.T) {
	coordinator, db, _ := setupCoordinatorTest(t)
	var album models.Album
	require.NoError(t, db.First(&album).Error)

	session, err := coordinator.InitUpload(context.Background(), InitRequest{
		UploadID: "reap1", Filename: "song.mp3", TotalChunks: 1,
		Creator: models.NewULID(), AlbumID: album.ID,
	})
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&models.UploadSession{}).Where("upload_id = ?", session.UploadID).
		UpdateColumn("last_updated_at", old).Error)

	reaper := NewReaper(coordinator, 30*time.Minute, time.Minute)
	reaper.SweepOnce(context.Background())

	_, err = coordinator.sessions.Get(context.Background(), session.UploadID)
	assert.Error(t, err)
}

func TestReaper_SweepOnce_CleansStuckTracks(t *testing.T) {
	coordinator, db, _ := setupCoordinatorTest(t)
	var album models.Album
	require.NoError(t, db.First(&album).Error)

	track := &models.Track{
		OwnerID:        models.NewULID(),
		AlbumID:        &album.ID,
		SourceBlobPath: tempMarkerPrefix + "chunks/reap2",
		VariantType:    models.VariantTypeAudio,
		Status:         models.TrackStatusProcessing,
	}
	require.NoError(t, coordinator.tracks.Create(context.Background(), track))

	acquired, err := coordinator.locker.AcquireTrackLock(context.Background(), track.ID, "initial")
	require.NoError(t, err)
	require.True(t, acquired)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&models.Track{}).Where("id = ?", track.ID).
		UpdateColumn("processing_locked_at", old).Error)

	reaper := NewReaper(coordinator, 30*time.Minute, time.Minute)
	reaper.SweepOnce(context.Background())

	deleted, err := coordinator.tracks.GetByID(context.Background(), track.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)
}
