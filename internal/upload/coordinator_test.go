package upload

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/duskcast/streamcore/internal/apperror"
	"github.com/duskcast/streamcore/internal/hlsprep"
	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/objectstore"
	"github.com/duskcast/streamcore/internal/repository"
	"github.com/duskcast/streamcore/internal/statuslock"
	"github.com/duskcast/streamcore/internal/storage"
)

type noopPipeline struct{}

func (noopPipeline) Prepare(ctx context.Context, task hlsprep.Task, publish func(hlsprep.TaskStatus)) error {
	publish(hlsprep.TaskStatus{State: hlsprep.StateComplete})
	return nil
}

func setupCoordinatorTest(t *testing.T) (*Coordinator, *gorm.DB, *storage.Sandbox) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Track{}, &models.Album{}, &models.UploadSession{}))

	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	objects, err := objectstore.NewLocalAdapter(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)

	albums := repository.NewAlbumRepository(db)
	tracks := repository.NewTrackRepository(db)
	locker := statuslock.New(db, time.Hour, 0)
	sessions := NewSessionStore(db)
	prep := hlsprep.New(noopPipeline{}, 1, 4, nil)
	t.Cleanup(prep.Stop)

	coordinator := NewCoordinator(sessions, sandbox, albums, tracks, locker, objects, prep)

	album := &models.Album{OwnerID: models.NewULID(), Name: "test album"}
	require.NoError(t, albums.Create(context.Background(), album))

	return coordinator, db, sandbox
}

func TestCoordinator_InitUpload_RejectsHiddenForTeamUser(t *testing.T) {
	coordinator, db, _ := setupCoordinatorTest(t)
	var album models.Album
	require.NoError(t, db.First(&album).Error)

	_, err := coordinator.InitUpload(context.Background(), InitRequest{
		UploadID:         "u1",
		Filename:         "song.mp3",
		TotalChunks:      2,
		Creator:          models.NewULID(),
		AlbumID:          album.ID,
		VisibilityStatus: models.VisibilityHiddenFromAll,
		IsTeamUser:       true,
	})
	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, apperror.KindBadInput, appErr.Kind)
}

func TestCoordinator_UploadChunk_MaterializesTrackOnComplete(t *testing.T) {
	coordinator, db, _ := setupCoordinatorTest(t)
	var album models.Album
	require.NoError(t, db.First(&album).Error)
	creator := models.NewULID()

	session, err := coordinator.InitUpload(context.Background(), InitRequest{
		UploadID:         "u2",
		Filename:         "song.mp3",
		TotalChunks:      2,
		Creator:          creator,
		AlbumID:          album.ID,
		VisibilityStatus: models.VisibilityVisible,
	})
	require.NoError(t, err)

	_, err = coordinator.UploadChunk(context.Background(), session.UploadID, album.ID, 0, bytes.NewReader([]byte("aaaa")))
	require.NoError(t, err)

	updated, err := coordinator.UploadChunk(context.Background(), session.UploadID, album.ID, 1, bytes.NewReader([]byte("bbbb")))
	require.NoError(t, err)
	require.NotNil(t, updated.TrackID)

	track, err := coordinator.tracks.GetByID(context.Background(), *updated.TrackID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackStatusGenerating, track.Status)
	assert.NotNil(t, track.ProcessingLockedAt)
}

func TestCoordinator_UploadChunk_RejectsAlbumMismatch(t *testing.T) {
	coordinator, db, _ := setupCoordinatorTest(t)
	var album models.Album
	require.NoError(t, db.First(&album).Error)

	session, err := coordinator.InitUpload(context.Background(), InitRequest{
		UploadID: "u3", Filename: "song.mp3", TotalChunks: 1,
		Creator: models.NewULID(), AlbumID: album.ID,
	})
	require.NoError(t, err)

	otherAlbum := models.NewULID()
	_, err = coordinator.UploadChunk(context.Background(), session.UploadID, otherAlbum, 0, bytes.NewReader([]byte("x")))
	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, apperror.KindBadInput, appErr.Kind)
}

func TestCoordinator_FinalizeUpload_AssemblesChunksInOrder(t *testing.T) {
	coordinator, db, _ := setupCoordinatorTest(t)
	var album models.Album
	require.NoError(t, db.First(&album).Error)
	creator := models.NewULID()

	session, err := coordinator.InitUpload(context.Background(), InitRequest{
		UploadID: "u4", Filename: "song.mp3", TotalChunks: 2,
		Creator: creator, AlbumID: album.ID,
	})
	require.NoError(t, err)

	_, err = coordinator.UploadChunk(context.Background(), session.UploadID, album.ID, 1, bytes.NewReader([]byte("BBBB")))
	require.NoError(t, err)
	_, err = coordinator.UploadChunk(context.Background(), session.UploadID, album.ID, 0, bytes.NewReader([]byte("AAAA")))
	require.NoError(t, err)

	track, err := coordinator.FinalizeUpload(context.Background(), session.UploadID)
	require.NoError(t, err)
	assert.NotEmpty(t, track.SourceBlobPath)
}

func TestCoordinator_CancelUpload_CleansUpMaterializedTrack(t *testing.T) {
	coordinator, db, _ := setupCoordinatorTest(t)
	var album models.Album
	require.NoError(t, db.First(&album).Error)
	creator := models.NewULID()

	session, err := coordinator.InitUpload(context.Background(), InitRequest{
		UploadID: "u5", Filename: "song.mp3", TotalChunks: 1,
		Creator: creator, AlbumID: album.ID,
	})
	require.NoError(t, err)

	updated, err := coordinator.UploadChunk(context.Background(), session.UploadID, album.ID, 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	require.NotNil(t, updated.TrackID)

	require.NoError(t, coordinator.CancelUpload(context.Background(), session.UploadID))

	deleted, err := coordinator.tracks.GetByID(context.Background(), *updated.TrackID)
	require.NoError(t, err)
	assert.Nil(t, deleted)
}
