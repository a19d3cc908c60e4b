package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/duskcast/streamcore/internal/apperror"
	"github.com/duskcast/streamcore/internal/hlsprep"
	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/objectstore"
	"github.com/duskcast/streamcore/internal/repository"
	"github.com/duskcast/streamcore/internal/statuslock"
	"github.com/duskcast/streamcore/internal/storage"
)

// tempMarkerPrefix tags a Track's SourceBlobPath while it still points at a
// local chunks concatenation rather than a published object-store key.
const tempMarkerPrefix = "tmp://"

// InitRequest describes a new chunked upload.
type InitRequest struct {
	UploadID         string
	Filename         string
	TotalChunks      int
	Title            string
	Creator          models.ULID
	AlbumID          models.ULID
	VisibilityStatus models.VisibilityStatus
	IsTeamUser       bool
}

// Coordinator drives the init/upload-chunk/finalize/cancel lifecycle of a
// chunked upload, materializing the Track row the moment every chunk has
// arrived and handing the assembled file off to preparation.
type Coordinator struct {
	sessions SessionStore
	sandbox  *storage.Sandbox
	albums   repository.AlbumRepository
	tracks   repository.TrackRepository
	locker   *statuslock.Locker
	objects  objectstore.Adapter
	prep     *hlsprep.Manager
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	sessions SessionStore,
	sandbox *storage.Sandbox,
	albums repository.AlbumRepository,
	tracks repository.TrackRepository,
	locker *statuslock.Locker,
	objects objectstore.Adapter,
	prep *hlsprep.Manager,
) *Coordinator {
	return &Coordinator{
		sessions: sessions,
		sandbox:  sandbox,
		albums:   albums,
		tracks:   tracks,
		locker:   locker,
		objects:  objects,
		prep:     prep,
	}
}

func chunksDir(uploadID string) string {
	return filepath.Join("chunks", uploadID)
}

func chunkFilename(index int) string {
	return fmt.Sprintf("chunk_%d", index)
}

// InitUpload validates the target album and visibility, allocates a chunks
// directory, and records a new session.
func (c *Coordinator) InitUpload(ctx context.Context, req InitRequest) (*models.UploadSession, error) {
	if req.VisibilityStatus == models.VisibilityHiddenFromAll && req.IsTeamUser {
		return nil, apperror.BadInput("team users cannot select hidden_from_all visibility")
	}

	if album, err := c.albums.GetByID(ctx, req.AlbumID); err != nil || album == nil {
		return nil, apperror.NotFound("album not found")
	}

	dir := chunksDir(req.UploadID)
	if err := c.sandbox.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("creating chunks directory: %w", err)
	}

	session := &models.UploadSession{
		UploadID:         req.UploadID,
		ChunksDir:        dir,
		TotalChunks:      req.TotalChunks,
		ReceivedChunks:   models.ChunkBitmap{},
		Filename:         req.Filename,
		Title:            req.Title,
		Creator:          req.Creator,
		AlbumID:          req.AlbumID,
		VisibilityStatus: req.VisibilityStatus,
		Status:           models.UploadSessionInitialized,
	}
	if err := c.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// UploadChunk writes one chunk's bytes to its slot in the chunks directory
// and registers its index as received. Once every chunk has arrived, it
// materializes the Track row and acquires its processing lock, rolling the
// Track back out if the lock can't be won.
func (c *Coordinator) UploadChunk(ctx context.Context, uploadID string, albumID models.ULID, chunkIndex int, data io.Reader) (*models.UploadSession, error) {
	session, err := c.sessions.Get(ctx, uploadID)
	if err != nil {
		return nil, apperror.NotFound("upload session not found")
	}
	if session.Status == models.UploadSessionCancelled {
		return nil, apperror.Conflict("upload session is cancelled")
	}
	if session.AlbumID != albumID {
		return nil, apperror.BadInput("album does not match upload session")
	}

	bytesRead, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("reading chunk body: %w", err)
	}
	chunkPath := filepath.Join(session.ChunksDir, chunkFilename(chunkIndex))
	if err := c.sandbox.WriteFile(chunkPath, bytesRead); err != nil {
		return nil, fmt.Errorf("writing chunk: %w", err)
	}

	updated, err := c.sessions.MarkChunkReceived(ctx, uploadID, chunkIndex)
	if err != nil {
		return nil, err
	}

	if !updated.IsComplete() {
		return updated, nil
	}

	track := &models.Track{
		OwnerID:          updated.Creator,
		AlbumID:          &updated.AlbumID,
		SourceBlobPath:   tempMarkerPrefix + session.ChunksDir,
		VariantType:      models.VariantTypeAudio,
		Status:           models.TrackStatusProcessing,
		VisibilityStatus: updated.VisibilityStatus,
	}
	if err := c.tracks.Create(ctx, track); err != nil {
		return nil, fmt.Errorf("materializing track: %w", err)
	}

	acquired, err := c.locker.AcquireTrackLock(ctx, track.ID, "initial")
	if err != nil {
		_ = c.tracks.Delete(ctx, track.ID)
		return nil, fmt.Errorf("acquiring processing lock: %w", err)
	}
	if !acquired {
		_ = c.tracks.Delete(ctx, track.ID)
		return nil, apperror.Busy(5)
	}

	if err := c.sessions.SetTrackID(ctx, uploadID, track.ID); err != nil {
		return nil, err
	}
	return updated, nil
}

// FinalizeUpload concatenates the session's chunks in index order into a
// single local file, uploads it to the object store with the lock already
// held (LockAlreadyHeld=true prevents hlsprep from re-locking), and queues
// HLS preparation. On failure it runs the comprehensive cleanup and
// releases the lock.
func (c *Coordinator) FinalizeUpload(ctx context.Context, uploadID string) (*models.Track, error) {
	session, err := c.sessions.Get(ctx, uploadID)
	if err != nil {
		return nil, apperror.NotFound("upload session not found")
	}
	if session.TrackID == nil {
		return nil, apperror.Conflict("upload is not ready to finalize")
	}
	trackID := *session.TrackID

	assembledPath, err := c.concatenateChunks(session)
	if err != nil {
		c.ComprehensiveCleanup(ctx, trackID)
		_ = c.locker.ReleaseTrackLock(ctx, trackID, statuslock.OutcomeFailed, statuslock.ReleaseInfo{})
		return nil, fmt.Errorf("assembling chunks: %w", err)
	}

	key := fmt.Sprintf("audio/%s/source%s", trackID.String(), filepath.Ext(session.Filename))
	if err := c.objects.Upload(ctx, assembledPath, key); err != nil {
		c.ComprehensiveCleanup(ctx, trackID)
		_ = c.locker.ReleaseTrackLock(ctx, trackID, statuslock.OutcomeFailed, statuslock.ReleaseInfo{})
		return nil, fmt.Errorf("uploading assembled track: %w", err)
	}

	track, err := c.tracks.GetByID(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("reloading track: %w", err)
	}
	track.SourceBlobPath = key
	if err := c.tracks.Update(ctx, track); err != nil {
		return nil, fmt.Errorf("persisting track blob path: %w", err)
	}

	_, err = c.prep.QueuePreparation(hlsprep.Task{
		StreamID:        trackID.String(),
		TrackID:         trackID.String(),
		LocalPath:       assembledPath,
		LockAlreadyHeld: true,
		Priority:        hlsprep.PriorityMedium,
	})
	if err != nil {
		return nil, fmt.Errorf("queueing hls preparation: %w", err)
	}

	if err := c.sessions.UpdateStatus(ctx, uploadID, models.UploadSessionChunksComplete); err != nil {
		return nil, err
	}

	return track, nil
}

func (c *Coordinator) concatenateChunks(session *models.UploadSession) (string, error) {
	destDir := filepath.Join(session.ChunksDir, "assembled")
	if err := c.sandbox.MkdirAll(destDir); err != nil {
		return "", fmt.Errorf("creating assembly directory: %w", err)
	}

	dest, err := c.sandbox.CreateTemp(destDir, "assembled-*"+filepath.Ext(session.Filename))
	if err != nil {
		return "", fmt.Errorf("creating assembly file: %w", err)
	}
	defer dest.Close()

	for i := 0; i < session.TotalChunks; i++ {
		chunkPath := filepath.Join(session.ChunksDir, chunkFilename(i))
		abs, err := c.sandbox.ResolvePath(chunkPath)
		if err != nil {
			return "", fmt.Errorf("resolving chunk %d: %w", i, err)
		}
		chunk, err := os.Open(abs)
		if err != nil {
			return "", fmt.Errorf("opening chunk %d: %w", i, err)
		}
		_, copyErr := io.Copy(dest, chunk)
		chunk.Close()
		if copyErr != nil {
			return "", fmt.Errorf("copying chunk %d: %w", i, copyErr)
		}
	}

	return dest.Name(), nil
}

// CancelUpload marks the session cancelled and, if a Track was already
// materialized for it, runs the comprehensive cleanup.
func (c *Coordinator) CancelUpload(ctx context.Context, uploadID string) error {
	session, err := c.sessions.Get(ctx, uploadID)
	if err != nil {
		return apperror.NotFound("upload session not found")
	}
	if err := c.sessions.UpdateStatus(ctx, uploadID, models.UploadSessionCancelled); err != nil {
		return err
	}
	if session.TrackID != nil {
		c.ComprehensiveCleanup(ctx, *session.TrackID)
		return c.locker.ReleaseTrackLock(ctx, *session.TrackID, statuslock.OutcomeFailed, statuslock.ReleaseInfo{})
	}
	return nil
}
