package stream

import (
	"context"
	"os"
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
	"github.com/duskcast/streamcore/internal/repository"
	"github.com/duskcast/streamcore/internal/statuslock"
	"github.com/duskcast/streamcore/internal/storage"
)

type noopPipeline struct{}

func (noopPipeline) Prepare(ctx context.Context, task hlsprep.Task, publish func(hlsprep.TaskStatus)) error {
	publish(hlsprep.TaskStatus{State: hlsprep.StateComplete})
	return nil
}

type blockingPipeline struct {
	block chan struct{}
}

func (p blockingPipeline) Prepare(ctx context.Context, task hlsprep.Task, publish func(hlsprep.TaskStatus)) error {
	publish(hlsprep.TaskStatus{State: hlsprep.StateProcessing})
	<-p.block
	publish(hlsprep.TaskStatus{State: hlsprep.StateComplete})
	return nil
}

func setupStreamTest(t *testing.T, pipeline hlsprep.Pipeline) (*Manager, *storage.Sandbox, repository.TrackRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Track{}, &models.VoiceGenerationStatus{}))

	sandbox, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	tracks := repository.NewTrackRepository(db)
	voiceStatus := repository.NewVoiceGenerationStatusRepository(db)
	locker := statuslock.New(db, time.Hour, time.Millisecond)
	prep := hlsprep.New(pipeline, 2, 8, nil)
	t.Cleanup(prep.Stop)

	manager := New(sandbox, tracks, voiceStatus, locker, prep, nil, time.Millisecond)
	return manager, sandbox, tracks
}

func writeReadySegments(t *testing.T, sandbox *storage.Sandbox, trackID string) string {
	t.Helper()
	root := filepath.Join("segments", trackID)
	require.NoError(t, sandbox.MkdirAll(filepath.Join(root, "default")))
	require.NoError(t, sandbox.WriteFile(filepath.Join(root, "master.m3u8"), []byte("#EXTM3U\n")))
	playlist := "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nsegment_00000.ts\n#EXT-X-ENDLIST\n"
	require.NoError(t, sandbox.WriteFile(filepath.Join(root, "default", "playlist.m3u8"), []byte(playlist)))
	require.NoError(t, sandbox.WriteFile(filepath.Join(root, "default", "segment_00000.ts"), []byte("data")))
	abs, err := sandbox.ResolvePath(root)
	require.NoError(t, err)
	return abs
}

func TestGetStreamResponse_ReadyTrackReturnsImmediately(t *testing.T) {
	manager, sandbox, tracks := setupStreamTest(t, noopPipeline{})
	track := &models.Track{BaseModel: models.BaseModel{ID: models.NewULID()}, OwnerID: models.NewULID(), ContentVersion: 2}
	require.NoError(t, tracks.Create(context.Background(), track))
	writeReadySegments(t, sandbox, track.ID.String())

	resp, err := manager.GetStreamResponse(context.Background(), StreamRequest{TrackID: track.ID})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, int64(2), resp.ContentVersion)
}

func TestGetStreamResponse_MissingSegmentQueuesRegeneration(t *testing.T) {
	manager, _, tracks := setupStreamTest(t, noopPipeline{})
	track := &models.Track{BaseModel: models.BaseModel{ID: models.NewULID()}, OwnerID: models.NewULID()}
	require.NoError(t, tracks.Create(context.Background(), track))

	_, err := manager.GetStreamResponse(context.Background(), StreamRequest{TrackID: track.ID})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindBusy))
}

func TestGetStreamResponse_InFlightReturnsBusyImmediately(t *testing.T) {
	block := make(chan struct{})
	manager, _, tracks := setupStreamTest(t, blockingPipeline{block: block})
	defer close(block)

	track := &models.Track{BaseModel: models.BaseModel{ID: models.NewULID()}, OwnerID: models.NewULID()}
	require.NoError(t, tracks.Create(context.Background(), track))

	_, err := manager.GetStreamResponse(context.Background(), StreamRequest{TrackID: track.ID})
	require.Error(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if status, ok := manager.prep.GetStatus(track.ID.String()); ok && status.State == hlsprep.StateProcessing {
			break
		}
		time.Sleep(time.Millisecond)
	}

	_, err = manager.GetStreamResponse(context.Background(), StreamRequest{TrackID: track.ID})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindBusy))
}

func TestGetSegmentProgress_FallsBackToOnDiskPlaylist(t *testing.T) {
	manager, sandbox, tracks := setupStreamTest(t, noopPipeline{})
	track := &models.Track{BaseModel: models.BaseModel{ID: models.NewULID()}, OwnerID: models.NewULID(), DurationSeconds: 6}
	require.NoError(t, tracks.Create(context.Background(), track))
	writeReadySegments(t, sandbox, track.ID.String())

	report, err := manager.GetSegmentProgress(context.Background(), track.ID, "")
	require.NoError(t, err)
	assert.True(t, report.Found)
	assert.Equal(t, hlsprep.StateComplete, report.State)
	assert.Equal(t, 100.0, report.PercentComplete)
}

func TestGetSegmentProgress_NotFoundWhenNothingExists(t *testing.T) {
	manager, _, tracks := setupStreamTest(t, noopPipeline{})
	track := &models.Track{BaseModel: models.BaseModel{ID: models.NewULID()}, OwnerID: models.NewULID()}
	require.NoError(t, tracks.Create(context.Background(), track))

	report, err := manager.GetSegmentProgress(context.Background(), track.ID, "")
	require.NoError(t, err)
	assert.False(t, report.Found)
}

func TestCleanupStream_RemovesSegmentsTree(t *testing.T) {
	manager, sandbox, tracks := setupStreamTest(t, noopPipeline{})
	track := &models.Track{BaseModel: models.BaseModel{ID: models.NewULID()}, OwnerID: models.NewULID()}
	require.NoError(t, tracks.Create(context.Background(), track))
	abs := writeReadySegments(t, sandbox, track.ID.String())

	_, err := manager.CleanupStream(context.Background(), track.ID)
	require.NoError(t, err)

	_, statErr := os.Stat(abs)
	assert.True(t, os.IsNotExist(statErr))
}
