package statuslock

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

	"github.com/duskcast/streamcore/internal/hlsplaylist"
	"github.com/duskcast/streamcore/internal/models"
)

func setupStatusLockTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Track{}, &models.VoiceGenerationStatus{}))
	return db
}

func newLockerTestTrack(t *testing.T, db *gorm.DB) *models.Track {
	t.Helper()
	track := &models.Track{OwnerID: models.NewULID(), VariantType: models.VariantTypeAudio}
	require.NoError(t, db.Create(track).Error)
	return track
}

func TestLocker_AcquireTrackLock(t *testing.T) {
	db := setupStatusLockTestDB(t)
	locker := New(db, time.Hour, 0)
	ctx := context.Background()
	track := newLockerTestTrack(t, db)

	ok, err := locker.AcquireTrackLock(ctx, track.ID, "initial")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locker.AcquireTrackLock(ctx, track.ID, "initial")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocker_AcquireVoiceLock(t *testing.T) {
	db := setupStatusLockTestDB(t)
	locker := New(db, time.Hour, 0)
	ctx := context.Background()
	trackID := models.NewULID()

	ok, err := locker.AcquireVoiceLock(ctx, trackID, "nova")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locker.AcquireVoiceLock(ctx, trackID, "nova")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocker_AcquireVoiceLock_StaleTakeoverMarksPriorFailed(t *testing.T) {
	db := setupStatusLockTestDB(t)
	locker := New(db, time.Millisecond, 0)
	ctx := context.Background()
	trackID := models.NewULID()

	ok, err := locker.AcquireVoiceLock(ctx, trackID, "nova")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = locker.AcquireVoiceLock(ctx, trackID, "nova")
	require.NoError(t, err)
	assert.True(t, ok, "stale lock should be reclaimable")

	var statuses []models.VoiceGenerationStatus
	require.NoError(t, db.Where("track_id = ? AND voice_id = ?", trackID, "nova").Find(&statuses).Error)
	require.Len(t, statuses, 1)
	assert.Equal(t, models.VoiceStatusGenerating, statuses[0].Status, "row reflects the new owner after reclaim")
}

func writeCompleteHLSTree(t *testing.T, root string) {
	t.Helper()
	variantDir := filepath.Join(root, "default")
	require.NoError(t, os.MkdirAll(variantDir, 0o755))

	segments := []hlsplaylist.Segment{
		{Index: 0, Filename: "segment_00000.ts", DurationSeconds: 10},
	}
	require.NoError(t, hlsplaylist.WriteVariant(filepath.Join(variantDir, "playlist.m3u8"), 10, segments))
	require.NoError(t, os.WriteFile(hlsplaylist.JoinSegmentPath(variantDir, 0), []byte("x"), 0o644))
	require.NoError(t, hlsplaylist.WriteMaster(filepath.Join(root, "master.m3u8"), 128000, "default/playlist.m3u8"))
}

func TestReleaseTrackLock_CompleteRequiresValidHLS(t *testing.T) {
	db := setupStatusLockTestDB(t)
	locker := New(db, time.Hour, 0)
	ctx := context.Background()
	track := newLockerTestTrack(t, db)

	_, err := locker.AcquireTrackLock(ctx, track.ID, "initial")
	require.NoError(t, err)

	root := t.TempDir()
	// No HLS tree written: Complete must be downgraded to Failed.
	require.NoError(t, locker.ReleaseTrackLock(ctx, track.ID, OutcomeComplete, ReleaseInfo{SegmentsRoot: root}))

	var reloaded models.Track
	require.NoError(t, db.Where("id = ?", track.ID).First(&reloaded).Error)
	assert.Equal(t, models.TrackStatusFailed, reloaded.Status)
	assert.False(t, reloaded.HLSReady)
}

func TestReleaseTrackLock_CompleteWithValidHLS(t *testing.T) {
	db := setupStatusLockTestDB(t)
	locker := New(db, time.Hour, 0)
	ctx := context.Background()
	track := newLockerTestTrack(t, db)

	_, err := locker.AcquireTrackLock(ctx, track.ID, "initial")
	require.NoError(t, err)

	root := t.TempDir()
	writeCompleteHLSTree(t, root)

	require.NoError(t, locker.ReleaseTrackLock(ctx, track.ID, OutcomeComplete, ReleaseInfo{SegmentsRoot: root}))

	var reloaded models.Track
	require.NoError(t, db.Where("id = ?", track.ID).First(&reloaded).Error)
	assert.Equal(t, models.TrackStatusComplete, reloaded.Status)
	assert.True(t, reloaded.HLSReady)
}

func TestReconcile_CompletesValidMarksFailedInvalid(t *testing.T) {
	db := setupStatusLockTestDB(t)
	locker := New(db, time.Hour, 0)
	ctx := context.Background()

	good := newLockerTestTrack(t, db)
	good.Status = models.TrackStatusGenerating
	require.NoError(t, db.Save(good).Error)

	bad := newLockerTestTrack(t, db)
	bad.Status = models.TrackStatusGenerating
	require.NoError(t, db.Save(bad).Error)

	roots := map[models.ULID]string{}
	goodRoot := t.TempDir()
	writeCompleteHLSTree(t, goodRoot)
	roots[good.ID] = goodRoot
	roots[bad.ID] = t.TempDir()

	report, err := locker.Reconcile(ctx, func(id models.ULID) string { return roots[id] })
	require.NoError(t, err)
	assert.Equal(t, 1, report.TracksCompleted)
	assert.Equal(t, 1, report.TracksFailed)
}

func TestValidateHLS_MissingRoot(t *testing.T) {
	ok, err := ValidateHLS(context.Background(), "", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
