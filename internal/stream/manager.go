// Package stream is the single facade the HTTP layer consumes for reading
// stream state: is this segment ready, what's the progress of an in-flight
// preparation, and tearing a track's served assets down.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/duskcast/streamcore/internal/apperror"
	"github.com/duskcast/streamcore/internal/hlsplaylist"
	"github.com/duskcast/streamcore/internal/hlsprep"
	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/objectstore"
	"github.com/duskcast/streamcore/internal/repository"
	"github.com/duskcast/streamcore/internal/statuslock"
	"github.com/duskcast/streamcore/internal/storage"
	"github.com/duskcast/streamcore/internal/voicecache"
)

// StreamRequest describes a single segment/playlist fetch.
type StreamRequest struct {
	TrackID           models.ULID
	VoiceID           string
	SpecificSegmentID *int
	SkipLockCheck     bool
}

// StreamResponse is returned once the requested track/voice is ready.
type StreamResponse struct {
	SegmentsRoot   string
	ContentVersion int64
}

// ProgressReport answers get_segment_progress.
type ProgressReport struct {
	Found                bool
	State                hlsprep.State
	PercentComplete      float64
	TotalDurationSeconds float64
	ErrorMessage         string
}

// Manager composes the preparation pipeline, the status lock, the voice
// cache gate, and track metadata into the one entry point request handlers
// call, coalescing concurrent same-track requests with a process-local
// striped lock backed by the DB-held lock as the cross-process source of
// truth.
type Manager struct {
	sandbox     *storage.Sandbox
	tracks      repository.TrackRepository
	voiceStatus repository.VoiceGenerationStatusRepository
	locker      *statuslock.Locker
	prep        *hlsprep.Manager
	voiceCache  *voicecache.Manager
	fsyncDelay  time.Duration

	mu    sync.Mutex
	locks map[models.ULID]*sync.Mutex
}

// New creates a Manager. voiceCache may be nil, in which case voice variant
// requests skip the admission/eviction gate entirely (unbounded voice
// generation per track).
func New(sandbox *storage.Sandbox, tracks repository.TrackRepository, voiceStatus repository.VoiceGenerationStatusRepository, locker *statuslock.Locker, prep *hlsprep.Manager, voiceCache *voicecache.Manager, fsyncDelay time.Duration) *Manager {
	return &Manager{
		sandbox:     sandbox,
		tracks:      tracks,
		voiceStatus: voiceStatus,
		locker:      locker,
		prep:        prep,
		voiceCache:  voiceCache,
		fsyncDelay:  fsyncDelay,
		locks:       make(map[models.ULID]*sync.Mutex),
	}
}

func (m *Manager) trackLock(trackID models.ULID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[trackID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[trackID] = lock
	}
	return lock
}

func streamID(trackID models.ULID, voiceID string) string {
	if voiceID == "" {
		return trackID.String()
	}
	return trackID.String() + "/" + voiceID
}

func segmentsRoot(trackID models.ULID, voiceID string) string {
	if voiceID == "" {
		return filepath.Join("segments", trackID.String())
	}
	return filepath.Join("segments", trackID.String(), "voice-"+voiceID)
}

// GetStreamResponse implements the full readiness/regeneration decision
// tree: in-flight short-circuit, on-disk readiness check, segment-existence
// check, and otherwise lock-then-queue (or queue-with-lock-already-held),
// returning apperror.Busy for every non-ready outcome so the HTTP layer can
// map it to 202 with Retry-After.
func (m *Manager) GetStreamResponse(ctx context.Context, req StreamRequest) (*StreamResponse, error) {
	lock := m.trackLock(req.TrackID)
	lock.Lock()
	defer lock.Unlock()

	sid := streamID(req.TrackID, req.VoiceID)

	if status, ok := m.prep.GetStatus(sid); ok && !status.IsTerminal() {
		return nil, apperror.Busy(5)
	}

	track, err := m.tracks.GetByID(ctx, req.TrackID)
	if err != nil || track == nil {
		return nil, apperror.NotFound("track not found")
	}

	root := segmentsRoot(req.TrackID, req.VoiceID)
	absRoot, err := m.sandbox.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving segments root: %w", err)
	}

	ready, err := statuslock.ValidateHLS(ctx, absRoot, m.fsyncDelay)
	if err != nil {
		return nil, fmt.Errorf("validating hls readiness: %w", err)
	}

	if ready && m.segmentSatisfied(absRoot, req.SpecificSegmentID) {
		return &StreamResponse{SegmentsRoot: root, ContentVersion: track.ContentVersion}, nil
	}

	if err := m.regenerate(ctx, track, req); err != nil {
		return nil, err
	}
	return nil, apperror.Busy(10)
}

func (m *Manager) segmentSatisfied(absRoot string, specificSegmentID *int) bool {
	if specificSegmentID == nil {
		return true
	}
	path := hlsplaylist.JoinSegmentPath(filepath.Join(absRoot, "default"), *specificSegmentID)
	_, err := os.Stat(path)
	return err == nil
}

// regenerate acquires (or reuses an already-held) processing lock and
// queues a preparation task, rolling the lock back and marking the voice
// failed on a queuing failure.
func (m *Manager) regenerate(ctx context.Context, track *models.Track, req StreamRequest) error {
	if req.VoiceID != "" && m.voiceCache != nil {
		decision, err := m.voiceCache.Admit(ctx, track, req.VoiceID)
		if err != nil {
			return fmt.Errorf("checking voice cache admission: %w", err)
		}
		if !decision.Admitted {
			return apperror.Busy(decision.RetryAfter)
		}
		if decision.EvictedVoiceID != "" {
			m.prep.Cancel(streamID(req.TrackID, decision.EvictedVoiceID))
		}
	}

	acquiredHere := false

	if !req.SkipLockCheck {
		var acquired bool
		var err error
		if req.VoiceID == "" {
			acquired, err = m.locker.AcquireTrackLock(ctx, req.TrackID, "regenerate")
		} else {
			acquired, err = m.locker.AcquireVoiceLock(ctx, req.TrackID, req.VoiceID)
		}
		if err != nil {
			return fmt.Errorf("acquiring processing lock: %w", err)
		}
		if !acquired {
			return apperror.Busy(5)
		}
		acquiredHere = true
	}

	_, err := m.prep.QueuePreparation(hlsprep.Task{
		StreamID:        streamID(req.TrackID, req.VoiceID),
		TrackID:         req.TrackID.String(),
		VoiceID:         req.VoiceID,
		IsTTS:           req.VoiceID != "",
		LockAlreadyHeld: req.SkipLockCheck,
		Priority:        hlsprep.PriorityMedium,
	})
	if err != nil {
		if acquiredHere {
			m.rollbackLock(ctx, req)
		}
		return fmt.Errorf("queueing preparation: %w", err)
	}
	return nil
}

func (m *Manager) rollbackLock(ctx context.Context, req StreamRequest) {
	if req.VoiceID == "" {
		if err := m.locker.ReleaseTrackLock(ctx, req.TrackID, statuslock.OutcomeFailed, statuslock.ReleaseInfo{}); err != nil {
			slog.ErrorContext(ctx, "rollback: releasing track lock failed",
				"track_id", req.TrackID.String(), "error", err)
		}
		return
	}

	status, err := m.voiceStatus.GetByTrackAndVoice(ctx, req.TrackID, req.VoiceID)
	if err == nil && status != nil {
		status.MarkFailed("failed to queue preparation task")
		if err := m.voiceStatus.Update(ctx, status); err != nil {
			slog.ErrorContext(ctx, "rollback: marking voice status failed",
				"track_id", req.TrackID.String(), "voice_id", req.VoiceID, "error", err)
		}
	}
	if err := m.locker.ReleaseVoiceLock(ctx, req.TrackID, req.VoiceID, statuslock.OutcomeFailed, statuslock.ReleaseInfo{}); err != nil {
		slog.ErrorContext(ctx, "rollback: releasing voice lock failed",
			"track_id", req.TrackID.String(), "voice_id", req.VoiceID, "error", err)
	}
}

// GetSegmentProgress reports progress for an in-flight or recently
// completed preparation, falling back to on-disk playlist inspection when
// the in-memory task map has no entry (e.g. after a process restart).
func (m *Manager) GetSegmentProgress(ctx context.Context, trackID models.ULID, voiceID string) (*ProgressReport, error) {
	sid := streamID(trackID, voiceID)
	if status, ok := m.prep.GetStatus(sid); ok {
		percent := 0.0
		if status.TotalDurationSeconds > 0 {
			percent = status.CurrentDurationSeconds / status.TotalDurationSeconds * 100
		}
		if status.State == hlsprep.StateComplete {
			percent = 100
		}
		return &ProgressReport{
			Found:                true,
			State:                status.State,
			PercentComplete:      percent,
			TotalDurationSeconds: status.TotalDurationSeconds,
			ErrorMessage:         status.ErrorMessage,
		}, nil
	}

	track, err := m.tracks.GetByID(ctx, trackID)
	if err != nil || track == nil {
		return &ProgressReport{Found: false}, nil
	}

	root := segmentsRoot(trackID, voiceID)
	variantPath, err := m.sandbox.ResolvePath(filepath.Join(root, "default", "playlist.m3u8"))
	if err != nil {
		return &ProgressReport{Found: false}, nil
	}

	playlist, err := hlsplaylist.Parse(variantPath)
	if err != nil {
		return &ProgressReport{Found: false}, nil
	}

	if playlist.EndList {
		return &ProgressReport{
			Found:                true,
			State:                hlsprep.StateComplete,
			PercentComplete:      100,
			TotalDurationSeconds: playlist.TotalDuration(),
		}, nil
	}

	total := track.DurationSeconds
	percent := 0.0
	if total > 0 {
		percent = playlist.TotalDuration() / total * 100
		if percent > 99 {
			percent = 99
		}
	}
	return &ProgressReport{
		Found:                true,
		State:                hlsprep.StateCreatingSegments,
		PercentComplete:      percent,
		TotalDurationSeconds: total,
	}, nil
}

// CleanupStream removes a track's entire on-disk segments tree, cancels
// any queued preparation, and releases its process-local lock entry.
func (m *Manager) CleanupStream(ctx context.Context, trackID models.ULID) (objectstore.DeletionReport, error) {
	report := objectstore.NewDeletionReport()
	root := filepath.Join("segments", trackID.String())

	m.prep.Cancel(trackID.String())

	if err := m.sandbox.RemoveAll(root); err != nil {
		report.Failed[root] = err
		return report, fmt.Errorf("removing segments tree: %w", err)
	}
	report.Deleted = append(report.Deleted, root)

	m.mu.Lock()
	delete(m.locks, trackID)
	m.mu.Unlock()

	return report, nil
}
