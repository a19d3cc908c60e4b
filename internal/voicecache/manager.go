package voicecache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/internal/repository"
	"github.com/duskcast/streamcore/internal/storage"
)

// PopularityChecker answers whether a track is popular enough to warrant a
// larger voice cache, the external popular_tracks_service contract.
type PopularityChecker interface {
	IsPopular(ctx context.Context, trackID models.ULID, creatorID models.ULID) (bool, error)
}

// AdmitDecision is the outcome of an admission check.
type AdmitDecision struct {
	Admitted       bool
	EvictedVoiceID string
	RetryAfter     int
}

// Manager gates how many voice renders may coexist on disk for one track,
// evicting the first idle non-default voice it finds to make room.
type Manager struct {
	sandbox    *storage.Sandbox
	voiceRepo  repository.VoiceGenerationStatusRepository
	popularity PopularityChecker
	tracker    *Tracker

	baseMaxVoices    int
	popularMaxVoices int
	idleTimeout      time.Duration
}

// New creates a Manager. popularMaxVoices is used in place of baseMaxVoices
// when the popularity checker reports a track as popular, and idleTimeout
// is how long a completed voice must go unaccessed before it becomes an
// eviction candidate.
func New(sandbox *storage.Sandbox, voiceRepo repository.VoiceGenerationStatusRepository, popularity PopularityChecker, tracker *Tracker, baseMaxVoices, popularMaxVoices int, idleTimeout time.Duration) *Manager {
	return &Manager{
		sandbox:          sandbox,
		voiceRepo:        voiceRepo,
		popularity:       popularity,
		tracker:          tracker,
		baseMaxVoices:    baseMaxVoices,
		popularMaxVoices: popularMaxVoices,
		idleTimeout:      idleTimeout,
	}
}

// Admit decides whether voiceID may begin generating for track, evicting an
// idle non-default voice if the track is already at capacity.
func (m *Manager) Admit(ctx context.Context, track *models.Track, voiceID string) (AdmitDecision, error) {
	maxVoices := m.baseMaxVoices
	if m.popularity != nil {
		popular, err := m.popularity.IsPopular(ctx, track.ID, track.OwnerID)
		if err != nil {
			return AdmitDecision{}, fmt.Errorf("checking track popularity: %w", err)
		}
		if popular {
			maxVoices = m.popularMaxVoices
		}
	}

	completed, err := m.completedVoices(track.ID.String())
	if err != nil {
		return AdmitDecision{}, fmt.Errorf("listing completed voices: %w", err)
	}
	for _, v := range completed {
		if v == voiceID {
			return AdmitDecision{Admitted: true}, nil
		}
	}

	inflight, err := m.inflightVoices(ctx, track.ID)
	if err != nil {
		return AdmitDecision{}, fmt.Errorf("listing inflight voices: %w", err)
	}

	if len(completed)+len(inflight) < maxVoices {
		return AdmitDecision{Admitted: true}, nil
	}

	candidate := m.evictionCandidate(track, completed)
	if candidate == "" {
		return AdmitDecision{Admitted: false, RetryAfter: 30}, nil
	}

	if err := m.evict(track.ID.String(), candidate); err != nil {
		return AdmitDecision{}, fmt.Errorf("evicting voice %s: %w", candidate, err)
	}
	return AdmitDecision{Admitted: true, EvictedVoiceID: candidate}, nil
}

func (m *Manager) completedVoices(trackID string) ([]string, error) {
	root := filepath.Join("segments", trackID)
	exists, err := m.sandbox.Exists(root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	entries, err := m.sandbox.List(root)
	if err != nil {
		return nil, err
	}

	var voices []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "voice-") {
			continue
		}
		voiceID := strings.TrimPrefix(e.Name(), "voice-")
		exists, err := m.sandbox.Exists(filepath.Join(root, e.Name(), "master.m3u8"))
		if err != nil {
			return nil, err
		}
		if exists {
			voices = append(voices, voiceID)
		}
	}
	return voices, nil
}

func (m *Manager) inflightVoices(ctx context.Context, trackID models.ULID) ([]string, error) {
	statuses, err := m.voiceRepo.GetByTrackID(ctx, trackID)
	if err != nil {
		return nil, err
	}
	now := models.Now()
	var voices []string
	for _, s := range statuses {
		if s.IsFresh(now) {
			voices = append(voices, s.VoiceID)
		}
	}
	return voices, nil
}

// evictionCandidate picks the first completed voice that isn't the track's
// default and has been idle, nil-voice (no default set) allowing any.
func (m *Manager) evictionCandidate(track *models.Track, completed []string) string {
	for _, voiceID := range completed {
		if track.DefaultVoice != nil && voiceID == *track.DefaultVoice {
			continue
		}
		if m.tracker.IsIdle(track.ID.String(), voiceID, m.idleTimeout) {
			return voiceID
		}
	}
	return ""
}

func (m *Manager) evict(trackID, voiceID string) error {
	dir := filepath.Join("segments", trackID, "voice-"+voiceID)
	if err := m.sandbox.RemoveAll(dir); err != nil {
		return err
	}
	m.tracker.Clear(trackID, voiceID)
	return nil
}
