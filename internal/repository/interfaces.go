// Package repository defines data access interfaces for streamcore entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/duskcast/streamcore/internal/models"
)

// TrackRepository defines operations for track persistence, including the
// atomic status-lock acquisition that backs the single-writer pipeline
// invariant (only one HLS-prep or TTS job may hold a track at a time).
type TrackRepository interface {
	// Create creates a new track.
	Create(ctx context.Context, track *models.Track) error
	// GetByID retrieves a track by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Track, error)
	// GetByAlbumID retrieves all tracks for an album.
	GetByAlbumID(ctx context.Context, albumID models.ULID) ([]*models.Track, error)
	// GetByOwnerID retrieves all tracks owned by the given owner.
	GetByOwnerID(ctx context.Context, ownerID models.ULID) ([]*models.Track, error)
	// Update updates an existing track.
	Update(ctx context.Context, track *models.Track) error
	// Delete deletes a track by ID.
	Delete(ctx context.Context, id models.ULID) error
	// AcquireLock atomically claims a free or stale track lock for the given
	// voice/processing type, setting processing_voice, processing_locked_at
	// and status in a single statement so two workers can never both win.
	// Returns (nil, nil) if the lock could not be acquired.
	AcquireLock(ctx context.Context, trackID models.ULID, voice, processingType string, status models.TrackStatus, staleAge time.Duration) (*models.Track, error)
	// ReleaseLock clears processing_voice/processing_locked_at and sets the
	// final status for a track this caller holds the lock on.
	ReleaseLock(ctx context.Context, trackID models.ULID, finalStatus models.TrackStatus) error
	// GetStaleLocked returns tracks whose processing lock has exceeded staleAge.
	GetStaleLocked(ctx context.Context, staleAge time.Duration) ([]*models.Track, error)
	// IncrementContentVersion bumps content_version, used to invalidate any
	// HLS output generated against a prior source upload.
	IncrementContentVersion(ctx context.Context, trackID models.ULID) error
}

// AlbumRepository defines operations for album persistence.
type AlbumRepository interface {
	// Create creates a new album.
	Create(ctx context.Context, album *models.Album) error
	// GetByID retrieves an album by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Album, error)
	// GetByOwnerID retrieves all albums owned by the given owner.
	GetByOwnerID(ctx context.Context, ownerID models.ULID) ([]*models.Album, error)
	// Update updates an existing album.
	Update(ctx context.Context, album *models.Album) error
	// Delete deletes an album by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// VoiceGenerationStatusRepository defines operations for per-(track,voice)
// TTS generation status persistence.
type VoiceGenerationStatusRepository interface {
	// Create creates a new voice generation status row.
	Create(ctx context.Context, status *models.VoiceGenerationStatus) error
	// GetByTrackAndVoice retrieves the status for a single (track, voice) pair.
	GetByTrackAndVoice(ctx context.Context, trackID models.ULID, voiceID string) (*models.VoiceGenerationStatus, error)
	// GetByTrackID retrieves every voice status recorded for a track.
	GetByTrackID(ctx context.Context, trackID models.ULID) ([]*models.VoiceGenerationStatus, error)
	// AcquireGenerating atomically inserts or claims a (track, voice) status
	// row in the "generating" state, returning nil if another worker already
	// holds a fresh (non-stale) claim on it.
	AcquireGenerating(ctx context.Context, trackID models.ULID, voiceID string, staleAge time.Duration) (*models.VoiceGenerationStatus, error)
	// Update updates an existing voice generation status.
	Update(ctx context.Context, status *models.VoiceGenerationStatus) error
	// DeleteByTrackID removes every voice status recorded for a track.
	DeleteByTrackID(ctx context.Context, trackID models.ULID) (int64, error)
	// GetStale returns generating statuses older than staleAge.
	GetStale(ctx context.Context, staleAge time.Duration) ([]*models.VoiceGenerationStatus, error)
}

// UploadSessionRepository defines operations for chunked-upload session
// persistence and the chunk-acceptance bitmap it tracks.
type UploadSessionRepository interface {
	// Create creates a new upload session.
	Create(ctx context.Context, session *models.UploadSession) error
	// GetByID retrieves an upload session by its client-supplied upload ID.
	GetByID(ctx context.Context, uploadID string) (*models.UploadSession, error)
	// MarkChunkReceived atomically records chunk index as received and
	// returns the updated session.
	MarkChunkReceived(ctx context.Context, uploadID string, chunkIndex int) (*models.UploadSession, error)
	// Update updates an existing upload session.
	Update(ctx context.Context, session *models.UploadSession) error
	// Delete deletes an upload session by ID.
	Delete(ctx context.Context, uploadID string) error
	// GetExpired returns sessions whose last update predates the cutoff, plus
	// every cancelled session regardless of age, for the background reaper.
	GetExpired(ctx context.Context, cutoff time.Time) ([]*models.UploadSession, error)
}

// TTSRepository defines operations for the TTS text/voice segment and
// word-timing tables that back transcript-driven voice generation.
type TTSRepository interface {
	// CreateTextSegments inserts the given ordered text segments for a track.
	// Segments already stored for the track are not removed.
	CreateTextSegments(ctx context.Context, trackID models.ULID, segments []*models.TTSTextSegment) error
	// GetTextSegments retrieves a track's text segments ordered by sequence.
	GetTextSegments(ctx context.Context, trackID models.ULID) ([]*models.TTSTextSegment, error)

	// UpsertVoiceSegment creates or updates a single rendered voice segment.
	UpsertVoiceSegment(ctx context.Context, segment *models.TTSVoiceSegment) error
	// GetVoiceSegments retrieves all rendered segments for a (track, voice)
	// pair ordered by sequence, used to sum actual durations.
	GetVoiceSegments(ctx context.Context, trackID models.ULID, voiceID string) ([]*models.TTSVoiceSegment, error)
	// DeleteVoiceSegments removes every rendered segment for a (track, voice)
	// pair, used when a voice's generation is retried from scratch.
	DeleteVoiceSegments(ctx context.Context, trackID models.ULID, voiceID string) (int64, error)

	// CreateWordTimings bulk-inserts word timings for a (track, voice) pair.
	CreateWordTimings(ctx context.Context, timings []*models.TTSWordTiming) error
	// GetWordTimings retrieves all word timings for a (track, voice) pair
	// ordered by sequence index.
	GetWordTimings(ctx context.Context, trackID models.ULID, voiceID string) ([]*models.TTSWordTiming, error)
	// UpdateSegmentMapping sets the segment_index/segment_offset columns for
	// a batch of word timings once HLS segment boundaries are known.
	UpdateSegmentMapping(ctx context.Context, timings []*models.TTSWordTiming) error
	// DeleteByTrackAndVoice removes word timings for a (track, voice) pair.
	DeleteByTrackAndVoice(ctx context.Context, trackID models.ULID, voiceID string) (int64, error)
}
