package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/duskcast/streamcore/internal/models"
)

// ttsRepo implements TTSRepository using GORM.
type ttsRepo struct {
	db *gorm.DB
}

// NewTTSRepository creates a new TTSRepository.
func NewTTSRepository(db *gorm.DB) *ttsRepo {
	return &ttsRepo{db: db}
}

func (r *ttsRepo) CreateTextSegments(ctx context.Context, trackID models.ULID, segments []*models.TTSTextSegment) error {
	if len(segments) == 0 {
		return nil
	}
	for _, seg := range segments {
		seg.TrackID = trackID
	}
	if err := r.db.WithContext(ctx).Create(&segments).Error; err != nil {
		return fmt.Errorf("creating tts text segments: %w", err)
	}
	return nil
}

func (r *ttsRepo) GetTextSegments(ctx context.Context, trackID models.ULID) ([]*models.TTSTextSegment, error) {
	var segments []*models.TTSTextSegment
	if err := r.db.WithContext(ctx).Where("track_id = ?", trackID).Order("sequence_index ASC").Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("getting tts text segments: %w", err)
	}
	return segments, nil
}

// UpsertVoiceSegment creates or replaces a voice segment for a given
// (track, voice, sequence_index).
func (r *ttsRepo) UpsertVoiceSegment(ctx context.Context, segment *models.TTSVoiceSegment) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "track_id"}, {Name: "voice_id"}, {Name: "sequence_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "actual_duration_seconds", "blob_path", "updated_at"}),
		}).
		Create(segment).Error
	if err != nil {
		return fmt.Errorf("upserting tts voice segment: %w", err)
	}
	return nil
}

func (r *ttsRepo) GetVoiceSegments(ctx context.Context, trackID models.ULID, voiceID string) ([]*models.TTSVoiceSegment, error) {
	var segments []*models.TTSVoiceSegment
	if err := r.db.WithContext(ctx).
		Where("track_id = ? AND voice_id = ?", trackID, voiceID).
		Order("sequence_index ASC").
		Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("getting tts voice segments: %w", err)
	}
	return segments, nil
}

func (r *ttsRepo) DeleteVoiceSegments(ctx context.Context, trackID models.ULID, voiceID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("track_id = ? AND voice_id = ?", trackID, voiceID).Delete(&models.TTSVoiceSegment{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting tts voice segments: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *ttsRepo) CreateWordTimings(ctx context.Context, timings []*models.TTSWordTiming) error {
	if len(timings) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(timings, 500).Error; err != nil {
		return fmt.Errorf("creating tts word timings: %w", err)
	}
	return nil
}

func (r *ttsRepo) GetWordTimings(ctx context.Context, trackID models.ULID, voiceID string) ([]*models.TTSWordTiming, error) {
	var timings []*models.TTSWordTiming
	if err := r.db.WithContext(ctx).
		Where("track_id = ? AND voice_id = ?", trackID, voiceID).
		Order("sequence_index ASC").
		Find(&timings).Error; err != nil {
		return nil, fmt.Errorf("getting tts word timings: %w", err)
	}
	return timings, nil
}

// UpdateSegmentMapping persists the segment_index/segment_offset computed by
// the word-timing mapper onto each already-created timing row.
func (r *ttsRepo) UpdateSegmentMapping(ctx context.Context, timings []*models.TTSWordTiming) error {
	for _, t := range timings {
		result := r.db.WithContext(ctx).Model(&models.TTSWordTiming{}).Where("id = ?", t.ID).
			UpdateColumns(map[string]any{
				"segment_index":  t.SegmentIndex,
				"segment_offset": t.SegmentOffset,
			})
		if result.Error != nil {
			return fmt.Errorf("updating segment mapping: %w", result.Error)
		}
	}
	return nil
}

func (r *ttsRepo) DeleteByTrackAndVoice(ctx context.Context, trackID models.ULID, voiceID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("track_id = ? AND voice_id = ?", trackID, voiceID).Delete(&models.TTSWordTiming{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting tts word timings: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ TTSRepository = (*ttsRepo)(nil)
